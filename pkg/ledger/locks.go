package ledger

import (
	"slices"
	"sync"
)

// lockTable hands out exclusive locks by key. Entries are reference counted
// and removed once nobody holds or waits for them.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*keyLock)}
}

// lock acquires every key in ascending order and returns the release function.
// Acquiring in a fixed global order keeps two callers locking overlapping
// key sets from deadlocking.
func (lt *lockTable) lock(keys ...string) (unlock func()) {
	keys = slices.Clone(keys)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	held := make([]*keyLock, 0, len(keys))
	for _, key := range keys {
		held = append(held, lt.acquire(key))
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			lt.release(keys[i], held[i])
		}
	}
}

func (lt *lockTable) acquire(key string) *keyLock {
	lt.mu.Lock()
	kl, ok := lt.locks[key]
	if !ok {
		kl = &keyLock{}
		lt.locks[key] = kl
	}
	kl.refs++
	lt.mu.Unlock()

	kl.mu.Lock()
	return kl
}

func (lt *lockTable) release(key string, kl *keyLock) {
	kl.mu.Unlock()

	lt.mu.Lock()
	kl.refs--
	if kl.refs == 0 {
		delete(lt.locks, key)
	}
	lt.mu.Unlock()
}

// size returns the number of live entries.
func (lt *lockTable) size() int {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return len(lt.locks)
}

func accountKey(tenant, id string) string {
	return "account/" + tenant + "/" + id
}

func transactionKey(tenant, id string) string {
	return "transaction/" + tenant + "/" + id
}
