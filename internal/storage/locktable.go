package storage

import (
	"sync"

	"zedstore/internal/base"
)

// lockTable hands out one RWMutex per page. Pages are never
// deallocated, so entries are never removed.
type lockTable struct {
	mu    sync.Mutex
	locks map[base.PageID]*sync.RWMutex
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[base.PageID]*sync.RWMutex)}
}

func (t *lockTable) get(id base.PageID) *sync.RWMutex {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.locks[id]
	if !ok {
		l = &sync.RWMutex{}
		t.locks[id] = l
	}
	return l
}
