package engine

import "sync"

// KeyedLocks is an advisory mutex per key. Entries exist only while a holder
// or waiter references them.
type KeyedLocks[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*keyedLock
}

// ProjectLocks is the lock table keyed by project id. Every job touching a
// project holds its lock for the whole job, so a delete cannot interleave
// with a deploy of the same project running on another queue.
type ProjectLocks = KeyedLocks[int]

// TenantLocks is keyed by tenantKey. Provisioning and dropping one tenant
// database never overlap, whichever queue they arrive on.
type TenantLocks = KeyedLocks[string]

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// NewProjectLocks creates an empty project lock table.
func NewProjectLocks() *ProjectLocks {
	return newKeyedLocks[int]()
}

// NewTenantLocks creates an empty tenant lock table.
func NewTenantLocks() *TenantLocks {
	return newKeyedLocks[string]()
}

func newKeyedLocks[K comparable]() *KeyedLocks[K] {
	return &KeyedLocks[K]{locks: make(map[K]*keyedLock)}
}

// Lock blocks until the key's lock is held and returns its release func.
func (l *KeyedLocks[K]) Lock(key K) func() {
	kl := l.acquireRef(key)
	kl.mu.Lock()
	return l.releaser(key, kl)
}

// TryLock takes the key's lock only if it is free.
func (l *KeyedLocks[K]) TryLock(key K) (func(), bool) {
	kl := l.acquireRef(key)
	if !kl.mu.TryLock() {
		l.dropRef(key, kl)
		return nil, false
	}
	return l.releaser(key, kl), true
}

// Held reports whether any job currently holds or waits for the key.
func (l *KeyedLocks[K]) Held(key K) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.locks[key]
	return ok
}

func (l *KeyedLocks[K]) acquireRef(key K) *keyedLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyedLock{}
		l.locks[key] = kl
	}
	kl.refs++
	return kl
}

func (l *KeyedLocks[K]) dropRef(key K, kl *keyedLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

func (l *KeyedLocks[K]) releaser(key K, kl *keyedLock) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			kl.mu.Unlock()
			l.dropRef(key, kl)
		})
	}
}
