// Package tempfs owns the temporary local resources of one in-flight job:
// a scratch file for the downloaded source and a directory for extracted
// frames. Releases are idempotent so callers may combine an eager release
// with a deferred safety net.
package tempfs

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Scope creates and destroys per-job temporary files and directories
// under a common root.
type Scope struct {
	root string
	log  *slog.Logger
}

// NewScope creates a Scope rooted at root. The root itself is created
// lazily on first acquire and is shared across jobs; only the acquired
// entries belong to a single job.
func NewScope(root string, log *slog.Logger) *Scope {
	return &Scope{root: root, log: log}
}

// AcquireFile returns the path of a new empty file with the given
// extension and a release function that removes it. Release is safe to
// call more than once.
func (s *Scope) AcquireFile(ext string) (string, func(), error) {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return "", nil, fmt.Errorf("failed to create temp root: %w", err)
	}

	if ext != "" && ext[0] != '.' {
		ext = "." + ext
	}
	f, err := os.CreateTemp(s.root, fmt.Sprintf("source-*%s", ext))
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", nil, fmt.Errorf("failed to close temp file: %w", err)
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				s.log.Warn("Failed to remove temp file", "path", path, "error", err)
			}
		})
	}
	return path, release, nil
}

// AcquireDir returns the path of a new empty directory and a release
// function that removes it recursively. Release is safe to call more
// than once.
func (s *Scope) AcquireDir() (string, func(), error) {
	dir := filepath.Join(s.root, uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			if err := os.RemoveAll(dir); err != nil {
				s.log.Warn("Failed to remove temp directory", "path", dir, "error", err)
			}
		})
	}
	return dir, release, nil
}
