package journal

import (
	"sync"
	"time"
)

const defaultMemoryMaxEntries = 10000

type MemoryOption func(*MemoryStore)

func WithMemoryNowFunc(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.nowFn = now
		}
	}
}

func WithMemoryMaxEntries(n int) MemoryOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.maxEntries = n
		}
	}
}

func WithMemoryRetention(maxAge, pruneInterval time.Duration) MemoryOption {
	return func(s *MemoryStore) {
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

// MemoryStore keeps entries in a bounded in-process slice, oldest
// evicted first. It is the default backend when no database is
// configured.
type MemoryStore struct {
	mu              sync.Mutex
	nowFn           func() time.Time
	entries         []Entry
	maxEntries      int
	retentionMaxAge time.Duration
	pruneInterval   time.Duration
	lastPrune       time.Time
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		nowFn:      time.Now,
		maxEntries: defaultMemoryMaxEntries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Record(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn()
	s.pruneLocked(now)

	if e.ID == "" {
		e.ID = newHexID("act_")
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = now
	}
	e.ReceivedAt = e.ReceivedAt.UTC()

	s.entries = append(s.entries, e)
	if over := len(s.entries) - s.maxEntries; over > 0 {
		s.entries = append(s.entries[:0:0], s.entries[over:]...)
	}
	return nil
}

func (s *MemoryStore) List(req ListRequest) (ListResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(s.nowFn())

	limit := clampListLimit(req.Limit)
	items := make([]Entry, 0, limit)
	for i := len(s.entries) - 1; i >= 0 && len(items) < limit; i-- {
		e := s.entries[i]
		if req.Action != "" && e.Action != req.Action {
			continue
		}
		if req.Outcome != "" && e.Outcome != req.Outcome {
			continue
		}
		if !req.Before.IsZero() && !e.ReceivedAt.Before(req.Before) {
			continue
		}
		items = append(items, e)
	}
	return ListResponse{Items: items}, nil
}

func (s *MemoryStore) Stats() (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(s.nowFn())

	st := Stats{
		Total:     len(s.entries),
		ByOutcome: make(map[Outcome]int),
		ByAction:  make(map[string]int),
	}
	for _, e := range s.entries {
		st.ByOutcome[e.Outcome]++
		st.ByAction[e.Action]++
		if st.OldestAt.IsZero() || e.ReceivedAt.Before(st.OldestAt) {
			st.OldestAt = e.ReceivedAt
		}
		if e.ReceivedAt.After(st.NewestAt) {
			st.NewestAt = e.ReceivedAt
		}
	}
	return st, nil
}

func (s *MemoryStore) pruneLocked(now time.Time) {
	if s.retentionMaxAge <= 0 {
		return
	}
	if s.pruneInterval > 0 && now.Sub(s.lastPrune) < s.pruneInterval {
		return
	}
	s.lastPrune = now

	cutoff := now.Add(-s.retentionMaxAge)
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.ReceivedAt.After(cutoff) {
			kept = append(kept, e)
		}
	}
	s.entries = kept
}
