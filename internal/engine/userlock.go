package engine

import (
	"context"
	"sync"
)

// userLocks serialises ledger mutations per user. Waiting honours ctx.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	sem  chan struct{}
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*userLock)}
}

// Lock blocks until the user's lock is held or ctx is done.
func (u *userLocks) Lock(ctx context.Context, userID string) (unlock func(), err error) {
	u.mu.Lock()
	l, ok := u.locks[userID]
	if !ok {
		l = &userLock{sem: make(chan struct{}, 1)}
		u.locks[userID] = l
	}
	l.refs++
	u.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
		return func() {
			<-l.sem
			u.release(userID, l)
		}, nil
	case <-ctx.Done():
		u.release(userID, l)
		return nil, ctx.Err()
	}
}

func (u *userLocks) release(userID string, l *userLock) {
	u.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(u.locks, userID)
	}
	u.mu.Unlock()
}

// len reports how many users currently hold or wait for a lock.
func (u *userLocks) len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.locks)
}
