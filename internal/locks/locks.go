// Package locks serializes work per key: one writer per session id and one
// in-flight compliance evaluation per contract id.
package locks

import (
	"context"
	"sync"
)

// Locker grants exclusive access to a key until the returned unlock is called.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// SessionKey is the lock key for a conversation session.
func SessionKey(sessionID string) string { return "session:" + sessionID }

// ContractKey is the lock key for a contract and its monitor.
func ContractKey(contractID string) string { return "contract:" + contractID }

type entry struct {
	ch   chan struct{}
	refs int
}

// LocalLocker is an in-process Locker. Entries are refcounted and removed
// when the last holder or waiter leaves, so the map does not grow with the
// number of keys ever seen.
type LocalLocker struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewLocalLocker creates an in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{entries: make(map[string]*entry)}
}

// Lock blocks until key is free or ctx is done.
func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.release(key, e)
		})
	}, nil
}

func (l *LocalLocker) release(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// Len returns the number of keys currently held or awaited.
func (l *LocalLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
