package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Namespace is a temporary directory owned by a single worker.
type Namespace struct {
	dir     string
	cleanup func(ctx context.Context, paths []string) error
}

// Dir returns the namespace directory.
func (n *Namespace) Dir() string {
	return n.dir
}

// NewScope allocates fresh temp paths for one turn of the given recording.
// Nothing is created on disk until a caller writes to the paths.
func (n *Namespace) NewScope(basename string) *Scope {
	token := uuid.NewString()
	stem := filepath.Join(n.dir, fmt.Sprintf("%s_%s", basename, token))
	return &Scope{
		AudioPath:   stem + ".wav",
		FramePath:   stem + ".jpg",
		cleanup:     n.cleanup,
		transferred: make(map[string]bool),
	}
}

// Close removes the namespace directory and anything left inside it.
func (n *Namespace) Close() error {
	if err := os.RemoveAll(n.dir); err != nil {
		return fmt.Errorf("remove namespace %s: %w", n.dir, err)
	}
	return nil
}

// Scope owns the temp artifacts of one turn. Release removes every path
// that was not transferred elsewhere, on every exit path of the turn.
type Scope struct {
	AudioPath string
	FramePath string

	cleanup func(ctx context.Context, paths []string) error

	mu          sync.Mutex
	transferred map[string]bool
	released    bool
}

// Transfer records that path was moved out of the scope; Release
// will not try to remove it.
func (s *Scope) Transfer(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transferred[path] = true
}

// Transferred reports whether path was handed off with Transfer.
func (s *Scope) Transferred(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transferred[path]
}

// Release removes the scope's remaining temp files. It is safe to call
// more than once and runs even when ctx is already cancelled.
func (s *Scope) Release(ctx context.Context) error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil
	}
	s.released = true

	var paths []string
	for _, p := range []string{s.AudioPath, s.FramePath} {
		if !s.transferred[p] {
			paths = append(paths, p)
		}
	}
	s.mu.Unlock()

	return s.cleanup(context.WithoutCancel(ctx), paths)
}
