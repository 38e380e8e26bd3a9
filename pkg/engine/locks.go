package engine

import "sync"

// projectLocks is a keyed, non-blocking mutex registry. A project id is
// held by at most one run or delete at a time within this process.
type projectLocks struct {
	mu   sync.Mutex
	held map[string]string
}

func newProjectLocks() *projectLocks {
	return &projectLocks{held: make(map[string]string)}
}

// TryLock takes the lock for id on behalf of owner. It returns false,
// without waiting, when id is already held.
func (l *projectLocks) TryLock(id, owner string) (unlock func(), ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[id]; busy {
		return nil, false
	}
	l.held[id] = owner

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, id)
			l.mu.Unlock()
		})
	}, true
}

// Holder returns the owner of id's lock, if any.
func (l *projectLocks) Holder(id string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	owner, ok := l.held[id]
	return owner, ok
}
