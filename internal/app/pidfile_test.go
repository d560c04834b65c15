package app

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestClaimPIDFile_WritesAndReleases(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "procgate.pid")

	release, err := claimPIDFile(path)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid != os.Getpid() {
		t.Fatalf("pid file content = %q, err = %v", data, err)
	}

	release()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("pid file must be removed on release: %v", err)
	}
}

func TestClaimPIDFile_EmptyPathIsNoop(t *testing.T) {
	release, err := claimPIDFile("")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	release()
}

func TestClaimPIDFile_RunningProcessBlocks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "procgate.pid")
	// Our own PID is as live as a process gets.
	if err := writePIDFile(path, os.Getpid()); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := claimPIDFile(path); err == nil {
		t.Fatal("expected claim to fail for a live PID")
	}
}

func TestClaimPIDFile_StaleFileIsReplaced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "procgate.pid")
	// PID max on Linux defaults to 4194304; this one cannot be live.
	if err := writePIDFile(path, 1<<30); err != nil {
		t.Fatalf("write: %v", err)
	}

	release, err := claimPIDFile(path)
	if err != nil {
		t.Fatalf("claim over stale file: %v", err)
	}
	defer release()

	pid, err := readPIDFile(path)
	if err != nil || pid != os.Getpid() {
		t.Fatalf("pid = %d, err = %v", pid, err)
	}
}

func TestClaimPIDFile_ReleaseLeavesForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "procgate.pid")

	release, err := claimPIDFile(path)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	// Another process took over the file; release must not remove it.
	if err := writePIDFile(path, 1<<30); err != nil {
		t.Fatalf("write: %v", err)
	}
	release()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("foreign pid file must survive release: %v", err)
	}
}
