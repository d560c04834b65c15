package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS action_log (
  id            TEXT PRIMARY KEY,
  action        TEXT NOT NULL,
  subject       TEXT NOT NULL,
  outcome       TEXT NOT NULL,
  error         TEXT,
  received_at   INTEGER NOT NULL,
  duration_us   INTEGER NOT NULL,
  bytes_relayed INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_action_log_received
  ON action_log(received_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS idx_action_log_action
  ON action_log(action, received_at DESC);
CREATE INDEX IF NOT EXISTS idx_action_log_outcome
  ON action_log(outcome, received_at DESC);
`

type SQLiteOption func(*SQLiteStore)

func WithSQLiteNowFunc(now func() time.Time) SQLiteOption {
	return func(s *SQLiteStore) {
		if now != nil {
			s.nowFn = now
		}
	}
}

func WithSQLiteRetention(maxAge, pruneInterval time.Duration) SQLiteOption {
	return func(s *SQLiteStore) {
		if maxAge > 0 {
			s.retentionMaxAge = maxAge
		} else {
			s.retentionMaxAge = 0
		}
		if pruneInterval > 0 {
			s.pruneInterval = pruneInterval
		} else {
			s.pruneInterval = 0
		}
	}
}

// SQLiteStore persists the journal in a local sqlite database. The
// gateway serves one request at a time, so a single connection is all
// the store ever needs.
type SQLiteStore struct {
	db *sql.DB

	mu              sync.Mutex
	nowFn           func() time.Time
	retentionMaxAge time.Duration
	pruneInterval   time.Duration
	lastPrune       time.Time
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string, opts ...SQLiteOption) (*SQLiteStore, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, errors.New("empty db path")
	}

	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:    db,
		nowFn: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	ctx := context.Background()

	var journalMode string
	if err := s.db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL;").Scan(&journalMode); err != nil {
		return fmt.Errorf("sqlite: set journal_mode=wal: %w", err)
	}
	if strings.ToLower(journalMode) != "wal" {
		return fmt.Errorf("sqlite: journal_mode=%q, want wal", journalMode)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout=5000;"); err != nil {
		return fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Record(e Entry) error {
	now := s.now()
	if err := s.maybePrune(now); err != nil {
		return err
	}

	if e.ID == "" {
		e.ID = newHexID("act_")
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = now
	}
	var errVal any
	if strings.TrimSpace(e.Error) != "" {
		errVal = e.Error
	}

	_, err := s.db.ExecContext(context.Background(), `
INSERT INTO action_log (
  id, action, subject, outcome, error, received_at, duration_us, bytes_relayed
) VALUES (?, ?, ?, ?, ?, ?, ?, ?);
`,
		e.ID,
		e.Action,
		e.Subject,
		string(e.Outcome),
		errVal,
		e.ReceivedAt.UTC().UnixMicro(),
		e.Duration.Microseconds(),
		e.BytesRelayed,
	)
	return err
}

func (s *SQLiteStore) List(req ListRequest) (ListResponse, error) {
	q := `
SELECT id, action, subject, outcome, error, received_at, duration_us, bytes_relayed
FROM action_log`
	where := make([]string, 0, 3)
	args := make([]any, 0, 4)
	if req.Action != "" {
		where = append(where, "action = ?")
		args = append(args, req.Action)
	}
	if req.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, string(req.Outcome))
	}
	if !req.Before.IsZero() {
		where = append(where, "received_at < ?")
		args = append(args, req.Before.UTC().UnixMicro())
	}
	if len(where) > 0 {
		q += "\nWHERE " + strings.Join(where, " AND ")
	}
	q += "\nORDER BY received_at DESC, id DESC\nLIMIT ?;"
	args = append(args, clampListLimit(req.Limit))

	rows, err := s.db.QueryContext(context.Background(), q, args...)
	if err != nil {
		return ListResponse{}, err
	}
	defer rows.Close()

	var out ListResponse
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return ListResponse{}, err
		}
		out.Items = append(out.Items, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Stats() (Stats, error) {
	st := Stats{
		ByOutcome: make(map[Outcome]int),
		ByAction:  make(map[string]int),
	}

	rows, err := s.db.QueryContext(context.Background(), `
SELECT action, outcome, COUNT(*) FROM action_log GROUP BY action, outcome;`)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var action, outcome string
		var n int
		if err := rows.Scan(&action, &outcome, &n); err != nil {
			return Stats{}, err
		}
		st.Total += n
		st.ByAction[action] += n
		st.ByOutcome[Outcome(outcome)] += n
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}

	var oldest, newest sql.NullInt64
	if err := s.db.QueryRowContext(context.Background(), `
SELECT MIN(received_at), MAX(received_at) FROM action_log;`).Scan(&oldest, &newest); err != nil {
		return Stats{}, err
	}
	if oldest.Valid {
		st.OldestAt = time.UnixMicro(oldest.Int64).UTC()
	}
	if newest.Valid {
		st.NewestAt = time.UnixMicro(newest.Int64).UTC()
	}
	return st, nil
}

func (s *SQLiteStore) now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nowFn()
}

func (s *SQLiteStore) maybePrune(now time.Time) error {
	s.mu.Lock()
	if s.retentionMaxAge <= 0 ||
		(s.pruneInterval > 0 && now.Sub(s.lastPrune) < s.pruneInterval) {
		s.mu.Unlock()
		return nil
	}
	s.lastPrune = now
	cutoff := now.Add(-s.retentionMaxAge)
	s.mu.Unlock()

	_, err := s.db.ExecContext(context.Background(),
		`DELETE FROM action_log WHERE received_at <= ?;`, cutoff.UTC().UnixMicro())
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var e Entry
	var outcome string
	var errVal sql.NullString
	var receivedAt, durationUS int64
	if err := row.Scan(&e.ID, &e.Action, &e.Subject, &outcome, &errVal, &receivedAt, &durationUS, &e.BytesRelayed); err != nil {
		return Entry{}, err
	}
	e.Outcome = Outcome(outcome)
	if errVal.Valid {
		e.Error = errVal.String
	}
	e.ReceivedAt = time.UnixMicro(receivedAt).UTC()
	e.Duration = time.Duration(durationUS) * time.Microsecond
	return e, nil
}
