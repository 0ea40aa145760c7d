// services/wallet_locks.go
package services

import (
	"sort"
	"sync"
)

// walletLocks hands out one mutex per wallet id. Callers always take them in
// ascending id order so two ledger units can never wait on each other.
type walletLocks struct {
	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

func newWalletLocks() *walletLocks {
	return &walletLocks{locks: make(map[uint]*sync.Mutex)}
}

func (w *walletLocks) get(id uint) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()
	l, ok := w.locks[id]
	if !ok {
		l = &sync.Mutex{}
		w.locks[id] = l
	}
	return l
}

// acquire locks every distinct id and returns the matching release func.
func (w *walletLocks) acquire(ids ...uint) func() {
	ordered := uniqueSorted(ids)
	held := make([]*sync.Mutex, 0, len(ordered))
	for _, id := range ordered {
		l := w.get(id)
		l.Lock()
		held = append(held, l)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

func uniqueSorted(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
