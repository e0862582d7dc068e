package coordinator

import (
	"sync"

	"github.com/flowlend/lending-coordinator-go/lending"
)

// itemLocks is the in-process advisory lock table, keyed by item id. It stops
// two operations in the same process from running the read-modify-write cycle
// for one item at the same time, which would be wasted work since the store
// would fail one of them at commit anyway. Cross-process exclusion still
// comes from the store's conflict detection, never from this table.
type itemLocks struct {
	mu   sync.Mutex
	held map[lending.ItemIDString]lending.UserIDString
}

func newItemLocks() *itemLocks {
	return &itemLocks{held: make(map[lending.ItemIDString]lending.UserIDString)}
}

// TryAcquire takes the lock for the item. It fails only when a different
// user holds it and is re-entrant for the current holder.
func (l *itemLocks) TryAcquire(itemID lending.ItemIDString, userID lending.UserIDString) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if holder, locked := l.held[itemID]; locked && holder != userID {
		return false
	}

	l.held[itemID] = userID

	return true
}

// Release drops the lock if the user holds it.
func (l *itemLocks) Release(itemID lending.ItemIDString, userID lending.UserIDString) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if holder, locked := l.held[itemID]; locked && holder == userID {
		delete(l.held, itemID)
	}
}
