package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAcquireAndRelease(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")

	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	path := filepath.Join(dir, LockFileName)

	h := ReadHolder(path)
	if h.PID != os.Getpid() || !h.Running || h.Started.IsZero() {
		t.Errorf("unexpected holder %+v", h)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected lock file removed")
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second Release should be a no-op, got %v", err)
	}
}

func TestAcquireConflict(t *testing.T) {
	dir := t.TempDir()
	first, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer first.Release()

	// flock locks belong to the open file description, so a second open in
	// the same process conflicts.
	_, err = Acquire(dir)
	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected LockError, got %v", err)
	}
	if lockErr.Holder.PID != os.Getpid() {
		t.Errorf("expected holder pid %d, got %d", os.Getpid(), lockErr.Holder.PID)
	}
	if !strings.Contains(lockErr.Error(), "running") {
		t.Errorf("expected holder state in message, got %q", lockErr.Error())
	}
}

func TestReacquireAfterRelease(t *testing.T) {
	dir := t.TempDir()
	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	lock.Release()

	again, err := Acquire(dir)
	if err != nil {
		t.Fatalf("expected re-acquire to succeed, got %v", err)
	}
	again.Release()
}

func TestReadHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), LockFileName)
	if h := ReadHolder(path); h.PID != 0 || h.String() != "unknown process" {
		t.Errorf("expected empty holder for missing file, got %+v", h)
	}
	os.WriteFile(path, []byte("pid=999999999\nstarted=2026-10-15T10:00:00Z\n"), 0o644)
	h := ReadHolder(path)
	if h.PID != 999999999 || h.Running || h.Started.Year() != 2026 {
		t.Errorf("unexpected holder %+v", h)
	}
	if !strings.Contains(h.String(), "stale") {
		t.Errorf("expected stale marker, got %q", h.String())
	}
}
