package ledger

import (
	"slices"
	"sync"
)

// Locker hands out one mutex per account id. Entries are reference counted
// and dropped when the last holder releases them, so the map stays small.
type Locker struct {
	mu    sync.Mutex
	locks map[int64]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func NewLocker() *Locker {
	return &Locker{locks: make(map[int64]*keyLock)}
}

// Lock acquires the locks for ids in ascending order and returns the release
// func. Duplicate ids are locked once.
func (l *Locker) Lock(ids ...int64) (unlock func()) {
	keys := slices.Clone(ids)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	held := make([]*keyLock, 0, len(keys))
	for _, id := range keys {
		k := l.acquire(id)
		k.mu.Lock()
		held = append(held, k)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			l.release(keys[i])
		}
	}
}

func (l *Locker) acquire(id int64) *keyLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	k, ok := l.locks[id]
	if !ok {
		k = &keyLock{}
		l.locks[id] = k
	}
	k.refs++
	return k
}

func (l *Locker) release(id int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := l.locks[id]
	k.refs--
	if k.refs == 0 {
		delete(l.locks, id)
	}
}

func (l *Locker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
