package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPIDFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "validator.pid")

	if err := WritePIDFile(path, 4242); err != nil {
		t.Fatalf("WritePIDFile: %v", err)
	}
	pid, err := ReadPIDFile(path)
	if err != nil {
		t.Fatalf("ReadPIDFile: %v", err)
	}
	if pid != 4242 {
		t.Fatalf("pid = %d, want 4242", pid)
	}

	if err := RemovePIDFile(path); err != nil {
		t.Fatalf("RemovePIDFile: %v", err)
	}
	// Idempotent removal.
	if err := RemovePIDFile(path); err != nil {
		t.Fatalf("second RemovePIDFile: %v", err)
	}
}

func TestReadPIDFileMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pid")
	if err := os.WriteFile(path, []byte("not-a-pid"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadPIDFile(path); err == nil {
		t.Fatal("ReadPIDFile on garbage returned nil error")
	}
}

func TestDaemonStatus(t *testing.T) {
	dir := t.TempDir()

	// No PID file: stopped.
	status, pid, err := DaemonStatus(filepath.Join(dir, "absent.pid"))
	if err != nil || status != StatusStopped || pid != 0 {
		t.Fatalf("missing file: (%v, %d, %v), want (stopped, 0, nil)", status, pid, err)
	}

	// Our own PID: running.
	alive := filepath.Join(dir, "alive.pid")
	if err := WritePIDFile(alive, os.Getpid()); err != nil {
		t.Fatalf("WritePIDFile: %v", err)
	}
	status, pid, err = DaemonStatus(alive)
	if err != nil || status != StatusRunning || pid != os.Getpid() {
		t.Fatalf("own pid: (%v, %d, %v), want running", status, pid, err)
	}

	// A PID that cannot exist: stale.
	stale := filepath.Join(dir, "stale.pid")
	if err := WritePIDFile(stale, 1<<22-1); err != nil {
		t.Fatalf("WritePIDFile: %v", err)
	}
	if status, _, _ = DaemonStatus(stale); status != StatusStale {
		t.Fatalf("dead pid status = %v, want stale", status)
	}
}

func TestIsProcessAlive(t *testing.T) {
	if !IsProcessAlive(os.Getpid()) {
		t.Fatal("IsProcessAlive(self) = false")
	}
	if IsProcessAlive(1 << 22) {
		t.Fatal("IsProcessAlive on an impossible pid = true")
	}
}
