// Package admin serves the operator endpoints: health, the action
// journal, aggregate stats, and runtime metrics. It is a separate
// listener from the FastCGI client surface and is expected to be bound
// to loopback unless bearer tokens are configured.
package admin

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/procfoundry/procgate/internal/journal"
)

type Authorizer func(r *http.Request) bool

// BearerTokenAuthorizer accepts requests carrying any of the given
// bearer tokens. With no tokens configured, every request is allowed.
func BearerTokenAuthorizer(tokens []string) Authorizer {
	allowed := make([][]byte, 0, len(tokens))
	for _, t := range tokens {
		if t == "" {
			continue
		}
		allowed = append(allowed, []byte(t))
	}

	return func(r *http.Request) bool {
		if len(allowed) == 0 {
			return true
		}
		h := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(h, prefix) {
			return false
		}
		got := []byte(strings.TrimSpace(strings.TrimPrefix(h, prefix)))
		if len(got) == 0 {
			return false
		}
		for _, want := range allowed {
			if subtle.ConstantTimeCompare(got, want) == 1 {
				return true
			}
		}
		return false
	}
}

type Server struct {
	Journal   journal.Store
	Authorize Authorizer
	Logger    *slog.Logger

	// RenderMetrics writes the runtime counters in text exposition
	// format. Nil disables the /metrics endpoint.
	RenderMetrics func(w io.Writer)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.guard(s.handleHealthz))
	mux.HandleFunc("GET /journal", s.guard(s.handleJournal))
	mux.HandleFunc("GET /stats", s.guard(s.handleStats))
	mux.HandleFunc("GET /metrics", s.guard(s.handleMetrics))
	return mux
}

func (s *Server) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Authorize != nil && !s.Authorize(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type journalItem struct {
	ID           string  `json:"id"`
	Action       string  `json:"action"`
	Subject      string  `json:"subject,omitempty"`
	Outcome      string  `json:"outcome"`
	Error        string  `json:"error,omitempty"`
	ReceivedAt   string  `json:"received_at"`
	DurationMS   float64 `json:"duration_ms"`
	BytesRelayed int64   `json:"bytes_relayed"`
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := journal.ListRequest{
		Action:  strings.TrimSpace(q.Get("action")),
		Outcome: journal.Outcome(strings.TrimSpace(q.Get("outcome"))),
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		req.Limit = n
	}
	if raw := strings.TrimSpace(q.Get("before")); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid before timestamp"})
			return
		}
		req.Before = ts
	}

	resp, err := s.Journal.List(req)
	if err != nil {
		s.logger().Error("journal_list_failed", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "journal unavailable"})
		return
	}

	items := make([]journalItem, 0, len(resp.Items))
	for _, e := range resp.Items {
		items = append(items, journalItem{
			ID:           e.ID,
			Action:       e.Action,
			Subject:      e.Subject,
			Outcome:      string(e.Outcome),
			Error:        e.Error,
			ReceivedAt:   e.ReceivedAt.UTC().Format(time.RFC3339Nano),
			DurationMS:   float64(e.Duration.Microseconds()) / 1e3,
			BytesRelayed: e.BytesRelayed,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.Journal.Stats()
	if err != nil {
		s.logger().Error("journal_stats_failed", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "journal unavailable"})
		return
	}

	body := map[string]any{
		"total":      st.Total,
		"by_outcome": st.ByOutcome,
		"by_action":  st.ByAction,
	}
	if !st.OldestAt.IsZero() {
		body["oldest_at"] = st.OldestAt.UTC().Format(time.RFC3339Nano)
	}
	if !st.NewestAt.IsZero() {
		body["newest_at"] = st.NewestAt.UTC().Format(time.RFC3339Nano)
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.RenderMetrics == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "metrics disabled"})
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	s.RenderMetrics(w)
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
