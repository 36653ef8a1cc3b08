package activity

import "sync"

// userLocks hands out one mutex per user. Entries are dropped once nobody
// holds or waits on them, so the map only grows with concurrent users.
type userLocks struct {
	mu    sync.Mutex
	locks map[int64]*userLock
}

type userLock struct {
	sync.Mutex
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{
		locks: make(map[int64]*userLock),
	}
}

// Lock blocks until userID is free and returns the matching unlock func
func (l *userLocks) Lock(userID int64) func() {
	l.mu.Lock()
	lock, exists := l.locks[userID]
	if !exists {
		lock = &userLock{}
		l.locks[userID] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.Lock()

	return func() {
		lock.Unlock()

		l.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, userID)
		}
		l.mu.Unlock()
	}
}

func (l *userLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
