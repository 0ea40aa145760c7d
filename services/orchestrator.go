// services/orchestrator.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"match-escrow-system/config"
	"match-escrow-system/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Outbound realtime events.
const (
	EventQueueJoined         = "queue_joined"
	EventMatchReady          = "match_ready"
	EventMatchFailed         = "match_failed"
	EventOpponentScoreUpdate = "opponent_score_update"
	EventMatchOver           = "match_over"
	EventError               = "error"
)

// ErrSettlementFailed is returned after the participants were already told
// that settlement did not go through and the match resumed.
var ErrSettlementFailed = errors.New("settlement failed")

// Notifier delivers events to realtime connections. Sends never block.
type Notifier interface {
	Send(connID, event string, payload any)
	JoinRoom(room string, connIDs ...string)
	Broadcast(room, event string, payload any)
	CloseRoom(room string)
}

// EscrowLedger is the part of the ledger the orchestrator drives.
type EscrowLedger interface {
	LockFees(ctx context.Context, matchID string, walletA, walletB uint, amount decimal.Decimal) error
	ReleaseFees(ctx context.Context, matchID string) (int, error)
	SettleMatch(ctx context.Context, req SettleRequest) (*Settlement, error)
}

// MatchArchive keeps a record of every torn-down match.
type MatchArchive interface {
	Record(ctx context.Context, rec *models.MatchRecord) error
}

type OrchestratorConfig struct {
	EntryFee            decimal.Decimal
	WinThreshold        int64
	PlatformFeeFraction decimal.Decimal
	Currency            string
	Precision           int32
	DisconnectPolicy    config.DisconnectPolicy
	LedgerTimeout       time.Duration
}

type MatchReadyPayload struct {
	MatchID  string `json:"match_id"`
	EntryFee string `json:"entry_fee"`
	Message  string `json:"message"`
}

type MatchOverPayload struct {
	WinnerWalletID uint   `json:"winner_wallet_id"`
	Payout         string `json:"payout"`
	Message        string `json:"message"`
}

type MessagePayload struct {
	Message string `json:"message"`
}

type ScorePayload struct {
	Score int64 `json:"score"`
}

// Orchestrator drives a match from pairing to teardown. Registry state is
// only touched through MatchRegistry; a match's own transitions happen under
// its mutex, which is never held across a ledger call.
type Orchestrator struct {
	Registry *MatchRegistry

	ledger   EscrowLedger
	notifier Notifier
	archive  MatchArchive
	cfg      OrchestratorConfig
	printer  *message.Printer
	logger   zerolog.Logger
}

func NewOrchestrator(registry *MatchRegistry, ledger EscrowLedger, notifier Notifier, archive MatchArchive, cfg OrchestratorConfig, logger zerolog.Logger) *Orchestrator {
	if cfg.LedgerTimeout <= 0 {
		cfg.LedgerTimeout = 10 * time.Second
	}
	if cfg.DisconnectPolicy == "" {
		cfg.DisconnectPolicy = config.DisconnectForfeit
	}
	return &Orchestrator{
		Registry: registry,
		ledger:   ledger,
		notifier: notifier,
		archive:  archive,
		cfg:      cfg,
		printer:  message.NewPrinter(language.English),
		logger:   logger.With().Str("component", "orchestrator").Logger(),
	}
}

// Join queues p, or pairs it and runs the entry fee lock before returning.
func (o *Orchestrator) Join(ctx context.Context, p Participant) error {
	match, err := o.Registry.Enqueue(p)
	if err != nil {
		return err
	}
	if match == nil {
		o.logger.Info().Uint("wallet_id", p.WalletID).Str("conn", p.ConnectionID).Msg("[MATCHMAKER] participant queued")
		o.notifier.Send(p.ConnectionID, EventQueueJoined, MessagePayload{Message: "Waiting for an opponent..."})
		return nil
	}
	o.logger.Info().Str("match_id", match.ID).Msg("[MATCHMAKER] participants paired")
	o.startMatch(ctx, match)
	return nil
}

func (o *Orchestrator) ledgerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.cfg.LedgerTimeout)
}

func (o *Orchestrator) startMatch(ctx context.Context, m *Match) {
	lctx, cancel := o.ledgerContext(ctx)
	view := m.View()
	err := o.ledger.LockFees(lctx, m.ID, view.Seats[0].WalletID, view.Seats[1].WalletID, m.EntryFee)
	cancel()

	m.mu.Lock()
	if err != nil {
		m.state = models.MatchFailed
		seats := m.seats
		m.mu.Unlock()

		o.Registry.Remove(m.ID)
		o.logger.Warn().Err(err).Str("match_id", m.ID).Msg("[ESCROW] fee lock failed, match aborted")
		for _, s := range seats {
			o.notifier.Send(s.ConnectionID, EventMatchFailed, MessagePayload{
				Message: "Queue failed: insufficient match funds or locking timeout.",
			})
		}
		o.record(ctx, m, seats, models.MatchFailed, nil, nil, err.Error())
		return
	}

	if len(m.connected()) < len(m.seats) {
		m.state = models.MatchVoided
		seats := m.seats
		m.mu.Unlock()
		o.void(ctx, m, seats, "participant disconnected before the match started")
		return
	}

	m.state = models.MatchActive
	o.notifier.JoinRoom(m.ID, m.seats[0].ConnectionID, m.seats[1].ConnectionID)
	o.notifier.Broadcast(m.ID, EventMatchReady, MatchReadyPayload{
		MatchID:  m.ID,
		EntryFee: m.EntryFee.StringFixed(o.cfg.Precision),
		Message:  "Match initialized and fees locked. Good luck!",
	})
	m.mu.Unlock()
	o.logger.Info().Str("match_id", m.ID).Msg("[ESCROW] match active")
}

// SubmitScore records a score from connID. The first score reaching the win
// threshold moves the match to settling and settles it.
func (o *Orchestrator) SubmitScore(ctx context.Context, connID, matchID string, score int64) error {
	m, ok := o.Registry.Get(matchID)
	if !ok {
		return ErrMatchNotFound
	}
	if score < 0 {
		return fmt.Errorf("score must not be negative: %w", ErrInvalidArgument)
	}

	m.mu.Lock()
	seat := m.seatOf(connID)
	if seat < 0 {
		m.mu.Unlock()
		return ErrNotParticipant
	}
	if m.state != models.MatchActive {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("match %s is %s: %w", matchID, state, ErrMatchNotActive)
	}
	m.seats[seat].Score = score
	opponent := m.seats[1-seat]
	o.notifier.Send(opponent.ConnectionID, EventOpponentScoreUpdate, ScorePayload{Score: score})

	if score < o.cfg.WinThreshold && !opponent.Disconnected {
		m.mu.Unlock()
		return nil
	}
	m.state = models.MatchSettling
	m.mu.Unlock()

	o.logger.Info().Str("match_id", matchID).Int64("score", score).Msg("[ESCROW] win threshold reached")
	return o.settle(ctx, m, seat, "")
}

// settle pays winnerSeat. On failure the match goes back to active.
func (o *Orchestrator) settle(ctx context.Context, m *Match, winnerSeat int, reason string) error {
	view := m.View()
	winner := view.Seats[winnerSeat]
	loser := view.Seats[1-winnerSeat]

	lctx, cancel := o.ledgerContext(ctx)
	result, err := o.ledger.SettleMatch(lctx, SettleRequest{
		MatchID:             m.ID,
		WinnerWalletID:      winner.WalletID,
		LoserWalletID:       loser.WalletID,
		TotalPool:           m.Pool,
		PlatformFeeFraction: o.cfg.PlatformFeeFraction,
	})
	cancel()

	if err != nil {
		m.mu.Lock()
		conns := m.connected()
		if len(conns) == 0 {
			// Nobody is left to submit the retrying score.
			m.state = models.MatchVoided
			seats := m.seats
			m.mu.Unlock()
			o.logger.Error().Err(err).Str("match_id", m.ID).Msg("[ESCROW] settlement failed with both seats gone, voiding match")
			o.void(ctx, m, seats, "settlement failed after both participants disconnected")
			return fmt.Errorf("%w: %w", ErrSettlementFailed, err)
		}
		m.state = models.MatchActive
		m.mu.Unlock()

		o.logger.Error().Err(err).Str("match_id", m.ID).Msg("[ESCROW] settlement failed, match resumed")
		for _, c := range conns {
			o.notifier.Send(c, EventError, MessagePayload{
				Message: "Settlement could not be completed. The match continues.",
			})
		}
		return fmt.Errorf("%w: %w", ErrSettlementFailed, err)
	}

	m.mu.Lock()
	m.state = models.MatchSettled
	seats := m.seats
	m.mu.Unlock()

	payout := result.WinnerTake.StringFixed(o.cfg.Precision)
	o.notifier.Broadcast(m.ID, EventMatchOver, MatchOverPayload{
		WinnerWalletID: winner.WalletID,
		Payout:         payout,
		Message:        o.payoutMessage(winner.WalletID, result.WinnerTake),
	})
	o.notifier.CloseRoom(m.ID)
	o.Registry.Remove(m.ID)
	o.logger.Info().Str("match_id", m.ID).Uint("winner", winner.WalletID).Str("payout", payout).
		Msg("[ESCROW] match settled and torn down")

	winnerID := winner.WalletID
	o.record(ctx, m, seats, models.MatchSettled, &winnerID, result, reason)
	return nil
}

func (o *Orchestrator) payoutMessage(walletID uint, take decimal.Decimal) string {
	return o.printer.Sprintf("Match concluded. Wallet %d wins %s %s.", walletID, take.StringFixed(o.cfg.Precision), o.cfg.Currency)
}

// Disconnect applies the disconnect policy to whatever connID was doing.
func (o *Orchestrator) Disconnect(ctx context.Context, connID string) {
	if o.Registry.Dequeue(connID) {
		o.logger.Info().Str("conn", connID).Msg("[MATCHMAKER] queued participant left")
		return
	}
	m, ok := o.Registry.MatchForConnection(connID)
	if !ok {
		return
	}

	m.mu.Lock()
	seat := m.seatOf(connID)
	if seat < 0 {
		m.mu.Unlock()
		return
	}
	m.seats[seat].Disconnected = true

	switch m.state {
	case models.MatchPreMatch:
		// startMatch voids it once the lock returns.
		m.mu.Unlock()
	case models.MatchActive:
		opponentGone := m.seats[1-seat].Disconnected
		if o.cfg.DisconnectPolicy == config.DisconnectForfeit && !opponentGone {
			m.state = models.MatchSettling
			m.mu.Unlock()
			o.logger.Info().Str("match_id", m.ID).Str("conn", connID).Msg("[ESCROW] participant forfeited")
			if err := o.settle(ctx, m, 1-seat, "forfeit"); err != nil {
				o.logger.Warn().Err(err).Str("match_id", m.ID).Msg("[ESCROW] forfeit settlement failed")
			}
			return
		}
		m.state = models.MatchVoided
		seats := m.seats
		m.mu.Unlock()
		o.void(ctx, m, seats, "participant disconnected")
	default:
		m.mu.Unlock()
	}
}

// void releases both stakes and tears the match down.
func (o *Orchestrator) void(ctx context.Context, m *Match, seats [2]Seat, reason string) {
	lctx, cancel := o.ledgerContext(ctx)
	released, err := o.ledger.ReleaseFees(lctx, m.ID)
	cancel()
	if err != nil {
		// The hold sweeper releases it once the match is no longer live.
		o.logger.Error().Err(err).Str("match_id", m.ID).Msg("[ESCROW] releasing voided match stakes failed")
	}

	o.Registry.Remove(m.ID)
	for _, s := range seats {
		if !s.Disconnected {
			o.notifier.Send(s.ConnectionID, EventMatchFailed, MessagePayload{
				Message: "Match voided: your opponent disconnected. Your entry fee was returned.",
			})
		}
	}
	o.notifier.CloseRoom(m.ID)
	o.logger.Info().Str("match_id", m.ID).Int("released", released).Str("reason", reason).Msg("[ESCROW] match voided")
	o.record(ctx, m, seats, models.MatchVoided, nil, nil, reason)
}

func (o *Orchestrator) record(ctx context.Context, m *Match, seats [2]Seat, state models.MatchState, winner *uint, result *Settlement, reason string) {
	if o.archive == nil {
		return
	}
	rec := &models.MatchRecord{
		ID:             m.ID,
		Seat1WalletID:  seats[0].WalletID,
		Seat2WalletID:  seats[1].WalletID,
		Seat1Score:     seats[0].Score,
		Seat2Score:     seats[1].Score,
		WinnerWalletID: winner,
		EntryFee:       m.EntryFee,
		Pool:           m.Pool,
		PlatformCut:    decimal.Zero,
		WinnerTake:     decimal.Zero,
		State:          state,
		Reason:         reason,
		FinishedAt:     time.Now(),
	}
	if result != nil {
		rec.PlatformCut = result.PlatformCut
		rec.WinnerTake = result.WinnerTake
	}
	actx, cancel := o.ledgerContext(ctx)
	defer cancel()
	if err := o.archive.Record(actx, rec); err != nil {
		o.logger.Error().Err(err).Str("match_id", m.ID).Msg("[ESCROW] failed to archive match record")
	}
}
