// services/match.go
package services

import (
	"sync"
	"time"

	"match-escrow-system/models"

	"github.com/shopspring/decimal"
)

// Participant is a wallet joining through one realtime connection.
type Participant struct {
	WalletID     uint
	ConnectionID string
}

type Seat struct {
	WalletID     uint
	ConnectionID string
	Score        int64
	Disconnected bool
}

// Match is a live head-to-head match. All fields after mu are guarded by it.
type Match struct {
	ID        string
	EntryFee  decimal.Decimal
	Pool      decimal.Decimal
	CreatedAt time.Time

	mu    sync.Mutex
	seats [2]Seat
	state models.MatchState
}

func newMatch(id string, a, b Participant, entryFee decimal.Decimal) *Match {
	return &Match{
		ID:        id,
		EntryFee:  entryFee,
		Pool:      entryFee.Mul(decimal.NewFromInt(2)),
		CreatedAt: time.Now(),
		seats: [2]Seat{
			{WalletID: a.WalletID, ConnectionID: a.ConnectionID},
			{WalletID: b.WalletID, ConnectionID: b.ConnectionID},
		},
		state: models.MatchPreMatch,
	}
}

// MatchView is a consistent copy of a match's mutable state.
type MatchView struct {
	ID    string
	State models.MatchState
	Seats [2]Seat
}

func (m *Match) View() MatchView {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MatchView{ID: m.ID, State: m.state, Seats: m.seats}
}

func (m *Match) State() models.MatchState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// seatOf returns the seat index of connID, or -1. Caller holds mu.
func (m *Match) seatOf(connID string) int {
	for i := range m.seats {
		if m.seats[i].ConnectionID == connID {
			return i
		}
	}
	return -1
}

// connected lists the connections still attached. Caller holds mu.
func (m *Match) connected() []string {
	var out []string
	for _, s := range m.seats {
		if !s.Disconnected {
			out = append(out, s.ConnectionID)
		}
	}
	return out
}
