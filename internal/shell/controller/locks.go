package controller

import (
	"context"
	"sync"
)

// lockTable hands out one mutex per project. Entries are dropped once no
// caller holds or waits for them.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*projectLock
}

type projectLock struct {
	sem  chan struct{}
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*projectLock)}
}

// Lock blocks until the project's lock is held or ctx is done. The returned
// function releases the lock and is safe to call more than once.
func (t *lockTable) Lock(ctx context.Context, projectID string) (func(), error) {
	l := t.acquire(projectID)

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		t.drop(projectID, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.sem
			t.drop(projectID, l)
		})
	}, nil
}

func (t *lockTable) acquire(projectID string) *projectLock {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[projectID]
	if !ok {
		l = &projectLock{sem: make(chan struct{}, 1)}
		t.locks[projectID] = l
	}
	l.refs++
	return l
}

func (t *lockTable) drop(projectID string, l *projectLock) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(t.locks, projectID)
	}
}

// size reports how many projects have a holder or waiter.
func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
