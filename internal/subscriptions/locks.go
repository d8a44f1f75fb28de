package subscriptions

import (
	"sync"

	"github.com/google/uuid"
)

// accountLocks serializes mutating commands per account. Cross-account
// commands run fully in parallel. Entries are reference counted and removed
// once the last holder releases, so the map does not grow with account count.
type accountLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*accountLock
}

type accountLock struct {
	mu   sync.Mutex
	refs int
}

func newAccountLocks() *accountLocks {
	return &accountLocks{locks: make(map[uuid.UUID]*accountLock)}
}

// Acquire blocks until the account's lock is held and returns the release
// function.
func (l *accountLocks) Acquire(accountID uuid.UUID) func() {
	l.mu.Lock()
	entry, ok := l.locks[accountID]
	if !ok {
		entry = &accountLock{}
		l.locks[accountID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, accountID)
		}
		l.mu.Unlock()
	}
}
