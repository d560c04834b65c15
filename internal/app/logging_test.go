package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{" ERROR ", slog.LevelError},
	}
	for _, tc := range cases {
		got, err := parseLogLevel(tc.in)
		if err != nil {
			t.Fatalf("parseLogLevel(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}

	if _, err := parseLogLevel("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestWithAccessLog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	h := withAccessLog(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("nope"))
	}))

	req := httptest.NewRequest(http.MethodGet, "http://gw/?list", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var event struct {
		Msg    string `json:"msg"`
		Method string `json:"method"`
		Query  string `json:"query"`
		Status int    `json:"status"`
		Bytes  int64  `json:"bytes"`
	}
	if err := json.Unmarshal(buf.Bytes(), &event); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	if event.Msg != "request" || event.Method != "GET" || event.Query != "list" {
		t.Fatalf("event = %+v", event)
	}
	if event.Status != 400 || event.Bytes != 4 {
		t.Fatalf("event = %+v", event)
	}
}

func TestStatusWriter_DefaultsTo200OnWrite(t *testing.T) {
	rr := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rr}

	if _, err := sw.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if sw.status != http.StatusOK {
		t.Fatalf("status = %d", sw.status)
	}
	if sw.bytesWritten != 5 {
		t.Fatalf("bytesWritten = %d", sw.bytesWritten)
	}
}
