package database

import "sync"

// KeyLock hands out one mutex per key. Locks on different keys never block
// each other, and idle keys are released.
type KeyLock struct {
	mu    sync.Mutex
	locks map[string]*keyMutex
}

type keyMutex struct {
	mu   sync.Mutex
	refs int
}

func NewKeyLock() *KeyLock {
	return &KeyLock{locks: make(map[string]*keyMutex)}
}

// Lock blocks until key is free and returns the function that releases it
func (l *KeyLock) Lock(key string) func() {
	l.mu.Lock()
	km, ok := l.locks[key]
	if !ok {
		km = &keyMutex{}
		l.locks[key] = km
	}
	km.refs++
	l.mu.Unlock()

	km.mu.Lock()
	return func() {
		km.mu.Unlock()
		l.mu.Lock()
		km.refs--
		if km.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

func (l *KeyLock) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
