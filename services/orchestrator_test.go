package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"match-escrow-system/config"
	"match-escrow-system/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentEvent struct {
	Event   string
	Payload any
}

type fakeNotifier struct {
	mu     sync.Mutex
	events map[string][]sentEvent
	rooms  map[string][]string
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{events: make(map[string][]sentEvent), rooms: make(map[string][]string)}
}

func (n *fakeNotifier) Send(connID, event string, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events[connID] = append(n.events[connID], sentEvent{event, payload})
}

func (n *fakeNotifier) JoinRoom(room string, connIDs ...string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rooms[room] = append(n.rooms[room], connIDs...)
}

func (n *fakeNotifier) Broadcast(room, event string, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, c := range n.rooms[room] {
		n.events[c] = append(n.events[c], sentEvent{event, payload})
	}
}

func (n *fakeNotifier) CloseRoom(room string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.rooms, room)
}

func (n *fakeNotifier) eventsOf(connID string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, e := range n.events[connID] {
		out = append(out, e.Event)
	}
	return out
}

func (n *fakeNotifier) last(connID, event string) (any, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	evs := n.events[connID]
	for i := len(evs) - 1; i >= 0; i-- {
		if evs[i].Event == event {
			return evs[i].Payload, true
		}
	}
	return nil, false
}

type fakeLedger struct {
	mu           sync.Mutex
	lockErr      error
	settleErr    error
	lockGate     chan struct{}
	settleGate   chan struct{}
	lockStarted  chan struct{}
	settleCalls  int
	releaseCalls int
	lastSettle   SettleRequest
}

func (l *fakeLedger) LockFees(ctx context.Context, matchID string, a, b uint, amount decimal.Decimal) error {
	if l.lockStarted != nil {
		close(l.lockStarted)
	}
	if l.lockGate != nil {
		<-l.lockGate
	}
	return l.lockErr
}

func (l *fakeLedger) ReleaseFees(ctx context.Context, matchID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.releaseCalls++
	return 2, nil
}

func (l *fakeLedger) SettleMatch(ctx context.Context, req SettleRequest) (*Settlement, error) {
	l.mu.Lock()
	l.settleCalls++
	l.lastSettle = req
	gate := l.settleGate
	err := l.settleErr
	l.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	cut := req.TotalPool.Mul(req.PlatformFeeFraction).Truncate(2)
	return &Settlement{MatchID: req.MatchID, PlatformCut: cut, WinnerTake: req.TotalPool.Sub(cut)}, nil
}

func (l *fakeLedger) counts() (settle, release int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.settleCalls, l.releaseCalls
}

type fakeArchive struct {
	mu   sync.Mutex
	recs []models.MatchRecord
}

func (a *fakeArchive) Record(ctx context.Context, rec *models.MatchRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recs = append(a.recs, *rec)
	return nil
}

func (a *fakeArchive) states() []models.MatchState {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []models.MatchState
	for _, r := range a.recs {
		out = append(out, r.State)
	}
	return out
}

type harness struct {
	orch     *Orchestrator
	registry *MatchRegistry
	notifier *fakeNotifier
	archive  *fakeArchive
}

func newHarness(ledger EscrowLedger, policy config.DisconnectPolicy) *harness {
	registry := NewMatchRegistry(dec("100"), nil)
	notifier := newFakeNotifier()
	archive := &fakeArchive{}
	orch := NewOrchestrator(registry, ledger, notifier, archive, OrchestratorConfig{
		EntryFee:            dec("100"),
		WinThreshold:        100,
		PlatformFeeFraction: dec("0.10"),
		Currency:            "CRD",
		Precision:           2,
		DisconnectPolicy:    policy,
		LedgerTimeout:       5 * time.Second,
	}, zerolog.Nop())
	return &harness{orch: orch, registry: registry, notifier: notifier, archive: archive}
}

// activeMatch pairs wallets 1 and 2 and returns the live match.
func (h *harness) activeMatch(t *testing.T) *Match {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.orch.Join(ctx, p(1)))
	require.NoError(t, h.orch.Join(ctx, p(2)))
	m, ok := h.registry.MatchForConnection("conn-1")
	require.True(t, ok)
	require.Equal(t, models.MatchActive, m.State())
	return m
}

func TestJoinQueuesFirstParticipant(t *testing.T) {
	h := newHarness(&fakeLedger{}, config.DisconnectForfeit)
	require.NoError(t, h.orch.Join(context.Background(), p(1)))
	assert.Equal(t, []string{EventQueueJoined}, h.notifier.eventsOf("conn-1"))

	assert.ErrorIs(t, h.orch.Join(context.Background(), p(1)), ErrAlreadyQueued)
}

func TestJoinActivatesMatchAfterLock(t *testing.T) {
	h := newHarness(&fakeLedger{}, config.DisconnectForfeit)
	m := h.activeMatch(t)

	for _, conn := range []string{"conn-1", "conn-2"} {
		payload, ok := h.notifier.last(conn, EventMatchReady)
		require.True(t, ok)
		ready := payload.(MatchReadyPayload)
		assert.Equal(t, m.ID, ready.MatchID)
		assert.Equal(t, "100.00", ready.EntryFee)
	}
}

func TestFailedLockFailsMatchWithoutMovingMoney(t *testing.T) {
	f := newFixture(t)
	rich := f.player(t, "rich", f.franchisee, "100")
	poor := f.player(t, "poor", f.franchisee, "40")
	h := newHarness(f.ledger, config.DisconnectForfeit)
	ctx := context.Background()

	require.NoError(t, h.orch.Join(ctx, Participant{WalletID: rich.ID, ConnectionID: "r"}))
	require.NoError(t, h.orch.Join(ctx, Participant{WalletID: poor.ID, ConnectionID: "p"}))

	assert.Contains(t, h.notifier.eventsOf("r"), EventMatchFailed)
	assert.Contains(t, h.notifier.eventsOf("p"), EventMatchFailed)
	assert.Equal(t, []models.MatchState{models.MatchFailed}, h.archive.states())
	assert.Zero(t, h.registry.LiveMatches())

	assert.Equal(t, int64(0), f.countEntries(t, "kind <> ?", models.KindDeposit))
	assert.True(t, f.wallet(t, rich.ID).LockedBalance.IsZero())
	assert.True(t, f.wallet(t, poor.ID).LockedBalance.IsZero())
}

func TestMatchRunsToSettlementOnRealLedger(t *testing.T) {
	f := newFixture(t)
	a := f.player(t, "alice", f.franchisee, "100")
	b := f.player(t, "bob", f.franchisee, "100")
	h := newHarness(f.ledger, config.DisconnectForfeit)
	ctx := context.Background()

	require.NoError(t, h.orch.Join(ctx, Participant{WalletID: a.ID, ConnectionID: "a"}))
	require.NoError(t, h.orch.Join(ctx, Participant{WalletID: b.ID, ConnectionID: "b"}))
	m, ok := h.registry.MatchForConnection("a")
	require.True(t, ok)
	requireDecimal(t, "100", f.wallet(t, a.ID).LockedBalance)

	require.NoError(t, h.orch.SubmitScore(ctx, "a", m.ID, 40))
	payload, ok := h.notifier.last("b", EventOpponentScoreUpdate)
	require.True(t, ok)
	assert.Equal(t, int64(40), payload.(ScorePayload).Score)

	require.NoError(t, h.orch.SubmitScore(ctx, "a", m.ID, 100))

	for _, conn := range []string{"a", "b"} {
		payload, ok := h.notifier.last(conn, EventMatchOver)
		require.True(t, ok)
		over := payload.(MatchOverPayload)
		assert.Equal(t, a.ID, over.WinnerWalletID)
		assert.Equal(t, "180.00", over.Payout)
		assert.Contains(t, over.Message, "180.00 CRD")
	}
	assert.False(t, h.registry.IsLive(m.ID))
	assert.Equal(t, []models.MatchState{models.MatchSettled}, h.archive.states())

	requireDecimal(t, "180", f.wallet(t, a.ID).Balance)
	requireDecimal(t, "0", f.wallet(t, b.ID).Balance)
	requireDecimal(t, "10", f.nodeWallet(t, f.franchisee).Balance)

	// Both participants can queue again
	require.NoError(t, h.orch.Join(ctx, Participant{WalletID: a.ID, ConnectionID: "a"}))
}

func TestScoreWhileSettlingIsRejected(t *testing.T) {
	ledger := &fakeLedger{settleGate: make(chan struct{})}
	h := newHarness(ledger, config.DisconnectForfeit)
	m := h.activeMatch(t)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- h.orch.SubmitScore(ctx, "conn-1", m.ID, 100) }()

	require.Eventually(t, func() bool { return m.State() == models.MatchSettling }, time.Second, 5*time.Millisecond)

	err := h.orch.SubmitScore(ctx, "conn-2", m.ID, 150)
	require.ErrorIs(t, err, ErrMatchNotActive)
	assert.Equal(t, int64(0), m.View().Seats[1].Score)

	close(ledger.settleGate)
	require.NoError(t, <-done)

	settles, _ := ledger.counts()
	assert.Equal(t, 1, settles)
	assert.Equal(t, models.MatchSettled, m.State())
}

func TestSettlementFailureRevertsToActive(t *testing.T) {
	ledger := &fakeLedger{settleErr: ErrCommitFailure}
	h := newHarness(ledger, config.DisconnectForfeit)
	m := h.activeMatch(t)
	ctx := context.Background()

	err := h.orch.SubmitScore(ctx, "conn-1", m.ID, 100)
	require.ErrorIs(t, err, ErrSettlementFailed)
	require.ErrorIs(t, err, ErrCommitFailure)
	assert.Equal(t, models.MatchActive, m.State())
	assert.True(t, h.registry.IsLive(m.ID))
	assert.Contains(t, h.notifier.eventsOf("conn-1"), EventError)
	assert.Contains(t, h.notifier.eventsOf("conn-2"), EventError)

	ledger.mu.Lock()
	ledger.settleErr = nil
	ledger.mu.Unlock()

	require.NoError(t, h.orch.SubmitScore(ctx, "conn-2", m.ID, 120))
	settles, _ := ledger.counts()
	assert.Equal(t, 2, settles)
	assert.Equal(t, uint(2), ledger.lastSettle.WinnerWalletID)
	assert.Equal(t, models.MatchSettled, m.State())
}

func TestSubmitScoreErrors(t *testing.T) {
	h := newHarness(&fakeLedger{}, config.DisconnectForfeit)
	m := h.activeMatch(t)
	ctx := context.Background()

	assert.ErrorIs(t, h.orch.SubmitScore(ctx, "conn-1", "nope", 10), ErrMatchNotFound)
	assert.ErrorIs(t, h.orch.SubmitScore(ctx, "stranger", m.ID, 10), ErrNotParticipant)
	assert.ErrorIs(t, h.orch.SubmitScore(ctx, "conn-1", m.ID, -1), ErrInvalidArgument)
}

func TestDisconnectWhileQueuedDequeues(t *testing.T) {
	h := newHarness(&fakeLedger{}, config.DisconnectForfeit)
	require.NoError(t, h.orch.Join(context.Background(), p(1)))
	h.orch.Disconnect(context.Background(), "conn-1")
	assert.Zero(t, h.registry.QueueLength())
}

func TestDisconnectForfeitSettlesForOpponent(t *testing.T) {
	ledger := &fakeLedger{}
	h := newHarness(ledger, config.DisconnectForfeit)
	m := h.activeMatch(t)

	h.orch.Disconnect(context.Background(), "conn-1")

	settles, _ := ledger.counts()
	assert.Equal(t, 1, settles)
	assert.Equal(t, uint(2), ledger.lastSettle.WinnerWalletID)
	assert.Equal(t, models.MatchSettled, m.State())
	payload, ok := h.notifier.last("conn-2", EventMatchOver)
	require.True(t, ok)
	assert.Equal(t, uint(2), payload.(MatchOverPayload).WinnerWalletID)
	assert.False(t, h.registry.IsLive(m.ID))
}

func TestDisconnectVoidReleasesStakes(t *testing.T) {
	ledger := &fakeLedger{}
	h := newHarness(ledger, config.DisconnectVoid)
	m := h.activeMatch(t)

	h.orch.Disconnect(context.Background(), "conn-1")

	settles, releases := ledger.counts()
	assert.Zero(t, settles)
	assert.Equal(t, 1, releases)
	assert.Equal(t, models.MatchVoided, m.State())
	assert.Contains(t, h.notifier.eventsOf("conn-2"), EventMatchFailed)
	assert.False(t, h.registry.IsLive(m.ID))
	assert.Equal(t, []models.MatchState{models.MatchVoided}, h.archive.states())
}

func TestDisconnectDuringLockVoidsMatch(t *testing.T) {
	ledger := &fakeLedger{lockGate: make(chan struct{}), lockStarted: make(chan struct{})}
	h := newHarness(ledger, config.DisconnectForfeit)
	ctx := context.Background()

	require.NoError(t, h.orch.Join(ctx, p(1)))
	joined := make(chan error, 1)
	go func() { joined <- h.orch.Join(ctx, p(2)) }()

	<-ledger.lockStarted
	m, ok := h.registry.MatchForConnection("conn-1")
	require.True(t, ok)
	h.orch.Disconnect(ctx, "conn-1")
	assert.Equal(t, models.MatchPreMatch, m.State())

	close(ledger.lockGate)
	require.NoError(t, <-joined)

	_, releases := ledger.counts()
	assert.Equal(t, 1, releases)
	assert.Equal(t, models.MatchVoided, m.State())
	assert.NotContains(t, h.notifier.eventsOf("conn-2"), EventMatchReady)
	assert.Contains(t, h.notifier.eventsOf("conn-2"), EventMatchFailed)
	assert.False(t, h.registry.IsLive(m.ID))
}

func TestDisconnectWhileSettlingIsIgnored(t *testing.T) {
	ledger := &fakeLedger{settleGate: make(chan struct{})}
	h := newHarness(ledger, config.DisconnectVoid)
	m := h.activeMatch(t)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- h.orch.SubmitScore(ctx, "conn-1", m.ID, 100) }()
	require.Eventually(t, func() bool { return m.State() == models.MatchSettling }, time.Second, 5*time.Millisecond)

	h.orch.Disconnect(ctx, "conn-2")
	close(ledger.settleGate)
	require.NoError(t, <-done)

	_, releases := ledger.counts()
	assert.Zero(t, releases)
	assert.Equal(t, models.MatchSettled, m.State())
}

func TestLockErrorIsReportedAsMatchFailed(t *testing.T) {
	h := newHarness(&fakeLedger{lockErr: errors.New("ledger offline")}, config.DisconnectForfeit)
	ctx := context.Background()
	require.NoError(t, h.orch.Join(ctx, p(1)))
	require.NoError(t, h.orch.Join(ctx, p(2)))

	assert.Contains(t, h.notifier.eventsOf("conn-1"), EventMatchFailed)
	assert.Zero(t, h.registry.LiveMatches())
}

func TestFailedSettlementWithBothSeatsGoneVoidsMatch(t *testing.T) {
	ledger := &fakeLedger{settleGate: make(chan struct{}), settleErr: ErrCommitFailure}
	h := newHarness(ledger, config.DisconnectForfeit)
	m := h.activeMatch(t)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- h.orch.SubmitScore(ctx, "conn-1", m.ID, 100) }()
	require.Eventually(t, func() bool { return m.State() == models.MatchSettling }, time.Second, 5*time.Millisecond)

	h.orch.Disconnect(ctx, "conn-1")
	h.orch.Disconnect(ctx, "conn-2")
	close(ledger.settleGate)
	require.ErrorIs(t, <-done, ErrSettlementFailed)

	_, releases := ledger.counts()
	assert.Equal(t, 1, releases)
	assert.Equal(t, models.MatchVoided, m.State())
	assert.False(t, h.registry.IsLive(m.ID))
	assert.Equal(t, []models.MatchState{models.MatchVoided}, h.archive.states())
}

func TestFailedSettlementStillResumesWithOneSeatLeft(t *testing.T) {
	ledger := &fakeLedger{settleGate: make(chan struct{}), settleErr: ErrCommitFailure}
	h := newHarness(ledger, config.DisconnectForfeit)
	m := h.activeMatch(t)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- h.orch.SubmitScore(ctx, "conn-1", m.ID, 100) }()
	require.Eventually(t, func() bool { return m.State() == models.MatchSettling }, time.Second, 5*time.Millisecond)

	h.orch.Disconnect(ctx, "conn-2")
	close(ledger.settleGate)
	require.ErrorIs(t, <-done, ErrSettlementFailed)

	_, releases := ledger.counts()
	assert.Zero(t, releases)
	assert.Equal(t, models.MatchActive, m.State())
	assert.True(t, h.registry.IsLive(m.ID))
}

func TestPayoutMessageKeepsExactAmount(t *testing.T) {
	registry := NewMatchRegistry(dec("100"), nil)
	orch := NewOrchestrator(registry, &fakeLedger{}, newFakeNotifier(), nil, OrchestratorConfig{
		Currency:  "CRD",
		Precision: 4,
	}, zerolog.Nop())

	msg := orch.payoutMessage(7, dec("90071992547409.9312"))
	assert.Equal(t, "Match concluded. Wallet 7 wins 90071992547409.9312 CRD.", msg)
	assert.Contains(t, orch.payoutMessage(7, dec("180")), "180.0000 CRD")
}
