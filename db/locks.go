package db

import (
	"context"
	"sync"
)

// entityLocks hands out one lock per entity id. Writers of different
// entities never contend; entries are dropped once nobody holds or waits
// on them.
type entityLocks struct {
	mu    sync.Mutex
	locks map[string]*entityLock
}

type entityLock struct {
	sem  chan struct{}
	refs int
}

func newEntityLocks() *entityLocks {
	return &entityLocks{locks: make(map[string]*entityLock)}
}

// acquire blocks until the lock for id is held or ctx is done. The
// returned release func must be called exactly once.
func (l *entityLocks) acquire(ctx context.Context, id string) (func(), error) {
	l.mu.Lock()
	lock, ok := l.locks[id]
	if !ok {
		lock = &entityLock{sem: make(chan struct{}, 1)}
		l.locks[id] = lock
	}
	lock.refs++
	l.mu.Unlock()

	select {
	case lock.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-lock.sem
				l.unref(id, lock)
			})
		}, nil
	case <-ctx.Done():
		l.unref(id, lock)
		return nil, ctx.Err()
	}
}

func (l *entityLocks) unref(id string, lock *entityLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, id)
	}
}

func (l *entityLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
