package admin

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/procfoundry/procgate/internal/journal"
)

func seedStore(t *testing.T) *journal.MemoryStore {
	t.Helper()
	store := journal.NewMemoryStore()
	base := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)
	entries := []journal.Entry{
		{Action: "start", Subject: "webapp", Outcome: journal.OutcomeOK, ReceivedAt: base, Duration: 15 * time.Millisecond, BytesRelayed: 64},
		{Action: "stop", Subject: "we;bapp", Outcome: journal.OutcomeRejected, Error: "subject contains disallowed characters", ReceivedAt: base.Add(time.Second)},
		{Action: "list", Outcome: journal.OutcomeOK, ReceivedAt: base.Add(2 * time.Second), BytesRelayed: 128},
	}
	for _, e := range entries {
		if err := store.Record(e); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return store
}

func TestServer_Healthz(t *testing.T) {
	srv := &Server{Journal: seedStore(t)}

	req := httptest.NewRequest(http.MethodGet, "http://admin/healthz", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"ok"`) {
		t.Fatalf("body = %q", rr.Body.String())
	}
}

func TestServer_Journal(t *testing.T) {
	srv := &Server{Journal: seedStore(t)}

	req := httptest.NewRequest(http.MethodGet, "http://admin/journal", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body struct {
		Items []journalItem `json:"items"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(body.Items))
	}
	if body.Items[0].Action != "list" {
		t.Fatalf("expected newest-first, got %q", body.Items[0].Action)
	}
	if body.Items[2].DurationMS != 15 {
		t.Fatalf("duration_ms = %v", body.Items[2].DurationMS)
	}
}

func TestServer_JournalFilters(t *testing.T) {
	srv := &Server{Journal: seedStore(t)}

	req := httptest.NewRequest(http.MethodGet, "http://admin/journal?outcome=rejected&limit=10", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	var body struct {
		Items []journalItem `json:"items"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Items) != 1 || body.Items[0].Outcome != "rejected" || body.Items[0].Error == "" {
		t.Fatalf("items = %+v", body.Items)
	}
}

func TestServer_JournalBadQuery(t *testing.T) {
	srv := &Server{Journal: seedStore(t)}

	for _, target := range []string{
		"http://admin/journal?limit=abc",
		"http://admin/journal?limit=-1",
		"http://admin/journal?before=yesterday",
	} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", target, rr.Code)
		}
	}
}

func TestServer_Stats(t *testing.T) {
	srv := &Server{Journal: seedStore(t)}

	req := httptest.NewRequest(http.MethodGet, "http://admin/stats", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body struct {
		Total     int            `json:"total"`
		ByOutcome map[string]int `json:"by_outcome"`
		ByAction  map[string]int `json:"by_action"`
		OldestAt  string         `json:"oldest_at"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Total != 3 || body.ByOutcome["ok"] != 2 || body.ByAction["start"] != 1 {
		t.Fatalf("stats = %+v", body)
	}
	if body.OldestAt == "" {
		t.Fatal("oldest_at missing")
	}
}

func TestServer_Metrics(t *testing.T) {
	srv := &Server{
		Journal: seedStore(t),
		RenderMetrics: func(w io.Writer) {
			_, _ = io.WriteString(w, "procgate_requests_total 42\n")
		},
	}

	req := httptest.NewRequest(http.MethodGet, "http://admin/metrics", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.HasPrefix(rr.Header().Get("Content-Type"), "text/plain") {
		t.Fatalf("content type = %q", rr.Header().Get("Content-Type"))
	}
	if !strings.Contains(rr.Body.String(), "procgate_requests_total 42") {
		t.Fatalf("body = %q", rr.Body.String())
	}
}

func TestServer_MetricsDisabled(t *testing.T) {
	srv := &Server{Journal: seedStore(t)}

	req := httptest.NewRequest(http.MethodGet, "http://admin/metrics", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestBearerTokenAuthorizer(t *testing.T) {
	srv := &Server{
		Journal:   seedStore(t),
		Authorize: BearerTokenAuthorizer([]string{"tok-a", "tok-b"}),
	}
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "http://admin/journal", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: status = %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "http://admin/journal", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: status = %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "http://admin/journal", nil)
	req.Header.Set("Authorization", "Bearer tok-b")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("valid token: status = %d", rr.Code)
	}
}

func TestBearerTokenAuthorizer_NoTokensAllowsAll(t *testing.T) {
	auth := BearerTokenAuthorizer(nil)
	req := httptest.NewRequest(http.MethodGet, "http://admin/journal", nil)
	if !auth(req) {
		t.Fatal("empty token list must allow all requests")
	}
}
