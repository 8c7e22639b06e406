package tools

import (
	"path/filepath"
	"sync"
)

// FileLocker provides advisory per-file locks so two concurrent tool calls in
// the same turn cannot corrupt the same file. Locks are scoped to one process
// and keyed by cleaned absolute path.
type FileLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFileLocker creates an empty lock table.
func NewFileLocker() *FileLocker {
	return &FileLocker{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the lock for path, blocking until available. Returns an
// unlock function.
func (l *FileLocker) Lock(path string) func() {
	key := filepath.Clean(path)

	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
