package runner

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRunner_SpawnFailureWritesNothing(t *testing.T) {
	r := &Runner{}
	rr := httptest.NewRecorder()

	n, err := r.Run(context.Background(), rr, Command{Path: "/nonexistent/tool-xyzzy"})
	if !errors.Is(err, ErrNotExecuted) {
		t.Fatalf("expected ErrNotExecuted, got %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 bytes, got %d", n)
	}
	if rr.Body.Len() != 0 {
		t.Fatalf("body must be untouched on spawn failure: %q", rr.Body.String())
	}
	if got := rr.Header().Get("Content-Type"); got != "" {
		t.Fatalf("header must be untouched on spawn failure: %q", got)
	}
}

func TestRunner_RelaysStdout(t *testing.T) {
	r := &Runner{ChunkSize: 4}
	rr := httptest.NewRecorder()

	n, err := r.Run(context.Background(), rr, Command{
		Path: "/bin/sh",
		Args: []string{"-c", "printf 'webapp started\\n'"},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rr.Code != 200 {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); got != "text/plain; charset=utf-8" {
		t.Fatalf("content type = %q", got)
	}
	want := "webapp started\n"
	if rr.Body.String() != want {
		t.Fatalf("body = %q, want %q", rr.Body.String(), want)
	}
	if n != int64(len(want)) {
		t.Fatalf("bytes = %d, want %d", n, len(want))
	}
}

func TestRunner_JSONContentType(t *testing.T) {
	r := &Runner{}
	rr := httptest.NewRecorder()

	_, err := r.Run(context.Background(), rr, Command{
		Path: "/bin/sh",
		Args: []string{"-c", "printf '[]'"},
		JSON: true,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := rr.Header().Get("Content-Type"); got != "application/json; charset=utf-8" {
		t.Fatalf("content type = %q", got)
	}
	if rr.Body.String() != "[]" {
		t.Fatalf("body = %q", rr.Body.String())
	}
}

func TestRunner_NonzeroExitStillSucceeds(t *testing.T) {
	r := &Runner{}
	rr := httptest.NewRecorder()

	n, err := r.Run(context.Background(), rr, Command{
		Path: "/bin/sh",
		Args: []string{"-c", "printf 'partial'; exit 3"},
	})
	if err != nil {
		t.Fatalf("nonzero exit after output must not fail the request: %v", err)
	}
	if rr.Code != 200 {
		t.Fatalf("status = %d", rr.Code)
	}
	if rr.Body.String() != "partial" || n != int64(len("partial")) {
		t.Fatalf("body = %q, n = %d", rr.Body.String(), n)
	}
}

func TestRunner_LargeOutputExceedsChunkSize(t *testing.T) {
	r := &Runner{ChunkSize: 16}
	rr := httptest.NewRecorder()

	n, err := r.Run(context.Background(), rr, Command{
		Path: "/bin/sh",
		Args: []string{"-c", "i=0; while [ $i -lt 100 ]; do printf 'abcdefghij'; i=$((i+1)); done"},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if n != 1000 || rr.Body.Len() != 1000 {
		t.Fatalf("relayed %d bytes, body %d, want 1000", n, rr.Body.Len())
	}
	if !strings.HasPrefix(rr.Body.String(), "abcdefghij") {
		t.Fatalf("unexpected body prefix: %q", rr.Body.String()[:20])
	}
}

func TestCommand_String(t *testing.T) {
	if got := (Command{Path: "/usr/local/bin/procmon"}).String(); got != "/usr/local/bin/procmon" {
		t.Fatalf("got %q", got)
	}
	cmd := Command{Path: "/usr/local/bin/procmon", Args: []string{"-s", "webapp"}}
	if got := cmd.String(); got != "/usr/local/bin/procmon -s webapp" {
		t.Fatalf("got %q", got)
	}
}
