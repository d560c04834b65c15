// Package journal records every dispatched process-management action so
// operators can audit who asked the gateway to do what, and how it went.
package journal

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

type Outcome string

const (
	// OutcomeOK means the control tool was spawned and its output relayed.
	OutcomeOK Outcome = "ok"
	// OutcomeRejected means the subject failed validation and nothing ran.
	OutcomeRejected Outcome = "rejected"
	// OutcomeExecFailed means the control tool could not be started.
	OutcomeExecFailed Outcome = "exec_failed"
)

// Entry is one recorded action invocation.
type Entry struct {
	ID           string
	Action       string
	Subject      string
	Outcome      Outcome
	Error        string
	ReceivedAt   time.Time
	Duration     time.Duration
	BytesRelayed int64
}

type ListRequest struct {
	Action  string
	Outcome Outcome
	Limit   int
	Before  time.Time
}

type ListResponse struct {
	Items []Entry
}

type Stats struct {
	Total     int
	ByOutcome map[Outcome]int
	ByAction  map[string]int
	OldestAt  time.Time
	NewestAt  time.Time
}

// Store persists action entries. Implementations: memory (default),
// sqlite, postgres. List returns entries newest-first.
type Store interface {
	Record(e Entry) error
	List(req ListRequest) (ListResponse, error)
	Stats() (Stats, error)
}

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

func clampListLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func newHexID(prefix string) string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return prefix + hex.EncodeToString(b[:])
}
