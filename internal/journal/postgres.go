package journal

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS action_log (
  id            TEXT PRIMARY KEY,
  action        TEXT NOT NULL,
  subject       TEXT NOT NULL,
  outcome       TEXT NOT NULL,
  error         TEXT,
  received_at   TIMESTAMPTZ NOT NULL,
  duration_us   BIGINT NOT NULL,
  bytes_relayed BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_action_log_received
  ON action_log(received_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS idx_action_log_action
  ON action_log(action, received_at DESC);
CREATE INDEX IF NOT EXISTS idx_action_log_outcome
  ON action_log(outcome, received_at DESC);
`

type PostgresOption func(*PostgresStore)

func WithPostgresNowFunc(now func() time.Time) PostgresOption {
	return func(s *PostgresStore) {
		if now != nil {
			s.nowFn = now
		}
	}
}

func WithPostgresRetention(maxAge, pruneInterval time.Duration) PostgresOption {
	return func(s *PostgresStore) {
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

// PostgresStore persists the journal in PostgreSQL, for deployments
// where several gateways on different hosts share one audit trail.
type PostgresStore struct {
	db *sql.DB

	mu              sync.Mutex
	nowFn           func() time.Time
	retentionMaxAge time.Duration
	pruneInterval   time.Duration
	lastPrune       time.Time
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(dsn string, opts ...PostgresOption) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty postgres dsn")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &PostgresStore{
		db:    db,
		nowFn: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if _, err := s.db.ExecContext(context.Background(), postgresSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) Record(e Entry) error {
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
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
`,
		e.ID,
		e.Action,
		e.Subject,
		string(e.Outcome),
		errVal,
		e.ReceivedAt.UTC(),
		e.Duration.Microseconds(),
		e.BytesRelayed,
	)
	return err
}

func (s *PostgresStore) List(req ListRequest) (ListResponse, error) {
	q := `
SELECT id, action, subject, outcome, error, received_at, duration_us, bytes_relayed
FROM action_log`
	where := make([]string, 0, 3)
	args := make([]any, 0, 4)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if req.Action != "" {
		where = append(where, "action = "+arg(req.Action))
	}
	if req.Outcome != "" {
		where = append(where, "outcome = "+arg(string(req.Outcome)))
	}
	if !req.Before.IsZero() {
		where = append(where, "received_at < "+arg(req.Before.UTC()))
	}
	if len(where) > 0 {
		q += "\nWHERE " + strings.Join(where, " AND ")
	}
	q += "\nORDER BY received_at DESC, id DESC\nLIMIT " + arg(clampListLimit(req.Limit)) + ";"

	rows, err := s.db.QueryContext(context.Background(), q, args...)
	if err != nil {
		return ListResponse{}, err
	}
	defer rows.Close()

	var out ListResponse
	for rows.Next() {
		e, err := scanPostgresEntry(rows)
		if err != nil {
			return ListResponse{}, err
		}
		out.Items = append(out.Items, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Stats() (Stats, error) {
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

	var oldest, newest sql.NullTime
	if err := s.db.QueryRowContext(context.Background(), `
SELECT MIN(received_at), MAX(received_at) FROM action_log;`).Scan(&oldest, &newest); err != nil {
		return Stats{}, err
	}
	if oldest.Valid {
		st.OldestAt = oldest.Time.UTC()
	}
	if newest.Valid {
		st.NewestAt = newest.Time.UTC()
	}
	return st, nil
}

func (s *PostgresStore) now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nowFn()
}

func (s *PostgresStore) maybePrune(now time.Time) error {
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
		`DELETE FROM action_log WHERE received_at <= $1;`, cutoff.UTC())
	return err
}

func scanPostgresEntry(row rowScanner) (Entry, error) {
	var e Entry
	var outcome string
	var errVal sql.NullString
	var receivedAt time.Time
	var durationUS int64
	if err := row.Scan(&e.ID, &e.Action, &e.Subject, &outcome, &errVal, &receivedAt, &durationUS, &e.BytesRelayed); err != nil {
		return Entry{}, err
	}
	e.Outcome = Outcome(outcome)
	if errVal.Valid {
		e.Error = errVal.String
	}
	e.ReceivedAt = receivedAt.UTC()
	e.Duration = time.Duration(durationUS) * time.Microsecond
	return e, nil
}
