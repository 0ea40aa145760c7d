// services/matchmaking_queue.go
package services

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type queueEntry struct {
	Participant
	QueuedAt time.Time
}

// MatchRegistry owns the waiting queue and the live-match table. Both sit
// behind one mutex so "already queued or playing" and pairing are decided
// in the same critical section.
type MatchRegistry struct {
	mu       sync.Mutex
	queue    []queueEntry
	matches  map[string]*Match
	byWallet map[uint]string
	byConn   map[string]string

	entryFee decimal.Decimal
	metrics  *Metrics
}

func NewMatchRegistry(entryFee decimal.Decimal, metrics *Metrics) *MatchRegistry {
	return &MatchRegistry{
		matches:  make(map[string]*Match),
		byWallet: make(map[uint]string),
		byConn:   make(map[string]string),
		entryFee: entryFee,
		metrics:  metrics,
	}
}

// Enqueue appends p to the queue. When two participants are waiting the two
// oldest are removed and returned as a new pre-match Match, seat 1 being the
// one that waited longest. A nil Match means p is waiting.
func (r *MatchRegistry) Enqueue(p Participant) (*Match, error) {
	if p.WalletID == 0 || p.ConnectionID == "" {
		return nil, fmt.Errorf("wallet and connection are required: %w", ErrInvalidArgument)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, busy := r.byWallet[p.WalletID]; busy {
		return nil, ErrAlreadyQueued
	}
	if _, busy := r.byConn[p.ConnectionID]; busy {
		return nil, ErrAlreadyQueued
	}
	for _, e := range r.queue {
		if e.WalletID == p.WalletID || e.ConnectionID == p.ConnectionID {
			return nil, ErrAlreadyQueued
		}
	}

	r.queue = append(r.queue, queueEntry{Participant: p, QueuedAt: time.Now()})
	if len(r.queue) < 2 {
		r.metrics.SetQueueLength(len(r.queue))
		return nil, nil
	}

	first, second := r.queue[0], r.queue[1]
	r.queue = append(r.queue[:0:0], r.queue[2:]...)

	match := newMatch(uuid.NewString(), first.Participant, second.Participant, r.entryFee)
	r.matches[match.ID] = match
	for _, e := range []queueEntry{first, second} {
		r.byWallet[e.WalletID] = match.ID
		r.byConn[e.ConnectionID] = match.ID
	}

	r.metrics.MatchPaired()
	r.metrics.SetQueueLength(len(r.queue))
	r.metrics.SetLiveMatches(len(r.matches))
	return match, nil
}

// Dequeue removes the waiting entry of connID and reports whether there was one.
func (r *MatchRegistry) Dequeue(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.queue {
		if e.ConnectionID == connID {
			r.queue = append(r.queue[:i], r.queue[i+1:]...)
			r.metrics.SetQueueLength(len(r.queue))
			return true
		}
	}
	return false
}

func (r *MatchRegistry) Get(matchID string) (*Match, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[matchID]
	return m, ok
}

func (r *MatchRegistry) MatchForConnection(connID string) (*Match, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byConn[connID]
	if !ok {
		return nil, false
	}
	return r.matches[id], true
}

// Remove drops a match from the live table and frees its participants.
func (r *MatchRegistry) Remove(matchID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[matchID]
	if !ok {
		return
	}
	delete(r.matches, matchID)
	for _, s := range m.seats {
		if r.byWallet[s.WalletID] == matchID {
			delete(r.byWallet, s.WalletID)
		}
		if r.byConn[s.ConnectionID] == matchID {
			delete(r.byConn, s.ConnectionID)
		}
	}
	r.metrics.SetLiveMatches(len(r.matches))
}

func (r *MatchRegistry) IsLive(matchID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.matches[matchID]
	return ok
}

func (r *MatchRegistry) IsQueued(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.queue {
		if e.ConnectionID == connID {
			return true
		}
	}
	return false
}

func (r *MatchRegistry) QueueLength() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

func (r *MatchRegistry) LiveMatches() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.matches)
}
