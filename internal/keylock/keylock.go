// Package keylock provides a table of non-blocking per-key locks.
package keylock

import "sync"

// Table holds one try-lock per key. Keys that are not held occupy no memory.
// The zero value is ready to use.
type Table struct {
	held sync.Map // key -> struct{}
}

// TryAcquire takes the lock for key if nobody holds it. It never blocks: when
// the key is already held ok is false and release is nil. The returned
// release func is idempotent.
func (t *Table) TryAcquire(key string) (release func(), ok bool) {
	if _, loaded := t.held.LoadOrStore(key, struct{}{}); loaded {
		return nil, false
	}
	var once sync.Once
	return func() {
		once.Do(func() { t.held.Delete(key) })
	}, true
}

// Held reports whether key is currently locked.
func (t *Table) Held(key string) bool {
	_, ok := t.held.Load(key)
	return ok
}

// Len returns the number of keys currently held.
func (t *Table) Len() int {
	n := 0
	t.held.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
