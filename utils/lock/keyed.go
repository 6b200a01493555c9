package lock

import (
	"fmt"
	"sync"
)

// KeyedMutex serializes operations per string key. The reconciliation
// service keys it by enrollment id so all transactions touching one split
// plan are serialized; plan-less transactions fall back to their own id.
// Cross-process safety comes from the database row locks taken inside the
// critical section; this mutex only serializes in-process callers.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex creates an empty keyed mutex
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*lockEntry)}
}

// Lock acquires the exclusive lock for key, blocking until it is free
func (k *KeyedMutex) Lock(key string) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &lockEntry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
}

// Unlock releases the lock for key and drops the entry once unreferenced
func (k *KeyedMutex) Unlock(key string) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		k.mu.Unlock()
		panic(fmt.Sprintf("lock: unlock of unheld key %q", key))
	}
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
	k.mu.Unlock()

	e.mu.Unlock()
}

// EnrollmentKey builds the lock key for an enrollment-scoped critical section
func EnrollmentKey(enrollmentID uint) string {
	return fmt.Sprintf("enrollment:%d", enrollmentID)
}

// TransactionKey is the fallback key when no enrollment is linked yet
func TransactionKey(transactionID uint) string {
	return fmt.Sprintf("transaction:%d", transactionID)
}
