package source

import "sync"

// resourceLocks serializes work on a single resource id within the process
type resourceLocks struct {
	mu    sync.Mutex
	locks map[string]*resourceLock
}

type resourceLock struct {
	mu   sync.Mutex
	refs int
}

func newResourceLocks() *resourceLocks {
	return &resourceLocks{locks: make(map[string]*resourceLock)}
}

// lock blocks until the resource is free and returns its unlock function.
// Entries are dropped once nobody holds or waits for them.
func (l *resourceLocks) lock(resourceID string) func() {
	l.mu.Lock()
	rl, ok := l.locks[resourceID]
	if !ok {
		rl = &resourceLock{}
		l.locks[resourceID] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.mu.Lock()
	return func() {
		rl.mu.Unlock()
		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.locks, resourceID)
		}
		l.mu.Unlock()
	}
}
