package tempfs

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestScope(t *testing.T) *Scope {
	t.Helper()
	return NewScope(filepath.Join(t.TempDir(), "scope"), slog.Default())
}

func TestAcquireFile(t *testing.T) {
	scope := newTestScope(t)

	path, release, err := scope.AcquireFile(".mp4")
	if err != nil {
		t.Fatalf("AcquireFile() error = %v", err)
	}

	if !strings.HasSuffix(path, ".mp4") {
		t.Errorf("AcquireFile() path = %q, want .mp4 suffix", path)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("acquired file does not exist: %v", err)
	}
	if info.Size() != 0 {
		t.Errorf("acquired file size = %d, want 0", info.Size())
	}

	release()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("file still exists after release")
	}
}

func TestAcquireFileExtensionWithoutDot(t *testing.T) {
	scope := newTestScope(t)

	path, release, err := scope.AcquireFile("mp4")
	if err != nil {
		t.Fatalf("AcquireFile() error = %v", err)
	}
	defer release()

	if !strings.HasSuffix(path, ".mp4") {
		t.Errorf("AcquireFile() path = %q, want .mp4 suffix", path)
	}
}

func TestAcquireFileUnique(t *testing.T) {
	scope := newTestScope(t)

	a, releaseA, err := scope.AcquireFile(".mp4")
	if err != nil {
		t.Fatalf("AcquireFile() error = %v", err)
	}
	defer releaseA()

	b, releaseB, err := scope.AcquireFile(".mp4")
	if err != nil {
		t.Fatalf("AcquireFile() error = %v", err)
	}
	defer releaseB()

	if a == b {
		t.Errorf("two acquired files share path %q", a)
	}
}

func TestFileReleaseIdempotent(t *testing.T) {
	scope := newTestScope(t)

	path, release, err := scope.AcquireFile(".bin")
	if err != nil {
		t.Fatalf("AcquireFile() error = %v", err)
	}

	release()
	release()
	release()

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("file still exists after repeated release")
	}
}

func TestAcquireDir(t *testing.T) {
	scope := newTestScope(t)

	dir, release, err := scope.AcquireDir()
	if err != nil {
		t.Fatalf("AcquireDir() error = %v", err)
	}

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("acquired dir does not exist: %v", err)
	}
	if !info.IsDir() {
		t.Fatalf("%q is not a directory", dir)
	}

	// Release must remove contents recursively.
	if err := os.WriteFile(filepath.Join(dir, "frame_1.jpg"), []byte("x"), 0o644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	release()
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("dir still exists after release")
	}
}

func TestDirReleaseIdempotent(t *testing.T) {
	scope := newTestScope(t)

	dir, release, err := scope.AcquireDir()
	if err != nil {
		t.Fatalf("AcquireDir() error = %v", err)
	}

	release()
	release()

	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("dir still exists after repeated release")
	}
}

func TestReleaseAfterExternalRemoval(t *testing.T) {
	scope := newTestScope(t)

	path, release, err := scope.AcquireFile(".tmp")
	if err != nil {
		t.Fatalf("AcquireFile() error = %v", err)
	}

	// Something else already removed the file; release must not panic.
	if err := os.Remove(path); err != nil {
		t.Fatalf("failed to remove file: %v", err)
	}
	release()
}
