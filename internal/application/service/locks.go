package service

import "sync"

// SubmissionLocks serializes lifecycle operations per submission ID so
// concurrent requests against the same submission are linearized while
// unrelated submissions proceed in parallel. The submission and approval
// services share one instance.
type SubmissionLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// NewSubmissionLocks creates an empty lock table.
func NewSubmissionLocks() *SubmissionLocks {
	return &SubmissionLocks{entries: make(map[string]*lockEntry)}
}

// Lock blocks until the submission's lock is held and returns the release
// function. Entries are reference counted and removed when idle.
func (l *SubmissionLocks) Lock(id string) func() {
	l.mu.Lock()
	entry, ok := l.entries[id]
	if !ok {
		entry = &lockEntry{}
		l.entries[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.entries, id)
		}
		l.mu.Unlock()
	}
}
