package hub

import "sync"

// keyedLock provides mutual exclusion per string key. Locks for different
// keys are independent, so registrations for unrelated hardware keys never
// serialise on each other during a mass reconnect. Entries are reference
// counted and removed when the last holder releases, keeping the table
// bounded by the number of in-flight registrations.
type keyedLock struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLock() *keyedLock {
	return &keyedLock{entries: make(map[string]*lockEntry)}
}

// Lock acquires the mutex for key, blocking until it is available.
func (l *keyedLock) Lock(key string) {
	l.mu.Lock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &lockEntry{}
		l.entries[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
}

// Unlock releases the mutex for key. Must pair with a prior Lock.
func (l *keyedLock) Unlock(key string) {
	l.mu.Lock()
	entry, ok := l.entries[key]
	if !ok {
		l.mu.Unlock()
		panic("hub: unlock of unheld keyed lock: " + key)
	}
	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, key)
	}
	l.mu.Unlock()

	entry.mu.Unlock()
}
