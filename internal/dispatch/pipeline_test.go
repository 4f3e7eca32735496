package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/arena/internal/battle"
	"github.com/jason-s-yu/arena/internal/models"
	"github.com/jason-s-yu/arena/internal/registry"
	"github.com/jason-s-yu/arena/internal/stream"
	"github.com/jason-s-yu/arena/internal/timer"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

type frame struct {
	raw []byte
	err error
}

// fakeConn is an in-memory stream: frames pushed into in are received by the loop, frames
// the loop sends land in out.
type fakeConn struct {
	in  chan frame
	out chan *models.BattleData
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan frame, 16), out: make(chan *models.BattleData, 64)}
}

func (c *fakeConn) Receive(ctx context.Context, v interface{}) error {
	select {
	case f := <-c.in:
		if f.err != nil {
			return f.err
		}
		if err := json.Unmarshal(f.raw, v); err != nil {
			return fmt.Errorf("%w: %v", stream.ErrMalformed, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", stream.ErrTransport, ctx.Err())
	}
}

func (c *fakeConn) Send(ctx context.Context, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var msg models.BattleData
	if err := json.Unmarshal(raw, &msg); err != nil {
		return err
	}
	select {
	case c.out <- &msg:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", stream.ErrTransport, ctx.Err())
	}
}

func (c *fakeConn) push(t *testing.T, msg models.BattleData) {
	t.Helper()
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	c.in <- frame{raw: raw}
}

func (c *fakeConn) pushRaw(raw string) { c.in <- frame{raw: []byte(raw)} }

func (c *fakeConn) end() { c.in <- frame{err: io.EOF} }

// recv returns the next frame the loop sent on c.
func recv(t *testing.T, c *fakeConn) *models.BattleData {
	t.Helper()
	select {
	case msg := <-c.out:
		return msg
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for a frame")
		return nil
	}
}

func recvKind(t *testing.T, c *fakeConn, kind models.ActionKind) *models.BattleData {
	t.Helper()
	msg := recv(t, c)
	require.Equal(t, kind, msg.Kind, "payload: %s", string(msg.Payload))
	return msg
}

func assertSilent(t *testing.T, c *fakeConn) {
	t.Helper()
	select {
	case msg := <-c.out:
		t.Fatalf("unexpected frame %s", msg.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

type fakeStore struct {
	mu        sync.Mutex
	finished  map[uuid.UUID]models.BattleEndPayload
	finishErr error
}

func (s *fakeStore) CreateBattle(context.Context, *models.Battle, []models.BattleDetail) error {
	return nil
}

func (s *fakeStore) FinishBattle(_ context.Context, id uuid.UUID, winnerID, loserID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finishErr != nil {
		return s.finishErr
	}
	s.finished[id] = models.BattleEndPayload{WinnerID: winnerID, LoserID: loserID}
	return nil
}

func (s *fakeStore) ResetAll(context.Context) error { return nil }

type actionLog struct {
	mu     sync.Mutex
	events []models.BattleEvent
}

func (l *actionLog) Publish(_ context.Context, e models.BattleEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *actionLog) snapshot() []models.BattleEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.BattleEvent(nil), l.events...)
}

type harness struct {
	p       *Pipeline
	reg     *registry.Registry
	mgr     *battle.Manager
	store   *fakeStore
	actions *actionLog
	timers  *timer.Service
	id      uuid.UUID
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	log, _ := test.NewNullLogger()
	reg := registry.New()
	store := &fakeStore{finished: map[uuid.UUID]models.BattleEndPayload{}}
	mgr := battle.NewManager(store, nil, nil, reg, nil, log)
	timers := timer.New()
	actions := &actionLog{}

	a := battle.Contender{UserID: "p1", Mode: models.ModeRanked}
	b := battle.Contender{UserID: "p2", Mode: models.ModeRanked}
	created, err := mgr.CreateBattle(context.Background(), a, b)
	require.NoError(t, err)
	require.NoError(t, mgr.BindParticipants(created, a, b))

	return &harness{
		p:       New(reg, mgr, timers, actions, opts, log),
		reg:     reg,
		mgr:     mgr,
		store:   store,
		actions: actions,
		timers:  timers,
		id:      created.ID,
	}
}

// start runs a play loop for userID and sends its join frame. The returned channel yields
// the loop's result.
func (h *harness) start(t *testing.T, userID string) (*fakeConn, <-chan error) {
	t.Helper()
	c := newFakeConn()
	done := make(chan error, 1)
	go func() { done <- h.p.Run(context.Background(), userID, c) }()
	c.push(t, models.BattleData{BattleID: h.id, SenderID: userID, Kind: models.ActionJoin})
	require.Eventually(t, func() bool { return h.attached(userID, c) }, waitFor, 5*time.Millisecond)
	return c, done
}

func (h *harness) attached(userID string, c *fakeConn) bool {
	sess, ok := h.reg.Session(h.id)
	if !ok {
		return false
	}
	for _, p := range sess.Participants {
		if p.UserID == userID {
			return p.State == registry.Connected && p.Stream == stream.Sender(c)
		}
	}
	return false
}

func (h *harness) action(userID string, kind models.ActionKind, payload string) models.BattleData {
	msg := models.BattleData{BattleID: h.id, SenderID: userID, Kind: kind}
	if payload != "" {
		msg.Payload = json.RawMessage(payload)
	}
	return msg
}

func result(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(waitFor):
		t.Fatal("loop did not return")
		return nil
	}
}

func TestEveryClientKindHasOneHandler(t *testing.T) {
	h := newHarness(t, Options{})
	require.Len(t, h.p.handlers, len(models.ClientKinds))
	for _, k := range models.ClientKinds {
		assert.NotNil(t, h.p.handlers[k], "kind %s", k)
	}
	_, system := h.p.handlers[models.EventBattleState]
	assert.False(t, system, "system kinds are never dispatched")
}

func TestReadyDecidesFirstTurn(t *testing.T) {
	h := newHarness(t, Options{})
	c1, _ := h.start(t, "p1")
	c2, _ := h.start(t, "p2")

	c1.push(t, h.action("p1", models.ActionReady, ""))
	assertSilent(t, c2)
	c2.push(t, h.action("p2", models.ActionReady, ""))

	var first models.TurnPayload
	for _, c := range []*fakeConn{c1, c2} {
		msg := recvKind(t, c, models.EventFirstTurn)
		assert.True(t, msg.System)
		require.NoError(t, json.Unmarshal(msg.Payload, &first))
		recvKind(t, c, models.EventTurnStarted)
	}
	assert.Contains(t, []string{"p1", "p2"}, first.UserID)
	assert.Equal(t, 1, first.Turn)

	turn, _ := h.reg.Turn(h.id)
	assert.Equal(t, first.UserID, turn.Owner)
}

func TestGameActionsAreRelayedAndLogged(t *testing.T) {
	h := newHarness(t, Options{})
	c1, _ := h.start(t, "p1")
	c2, _ := h.start(t, "p2")

	msg := h.action("p1", models.ActionPlayCard, `{"card_id":7}`)
	msg.SenderID = ""
	c1.push(t, msg)

	got := recvKind(t, c2, models.ActionPlayCard)
	assert.Equal(t, "p1", got.SenderID)
	assert.False(t, got.System)
	assert.JSONEq(t, `{"card_id":7}`, string(got.Payload))
	assertSilent(t, c1)

	require.Eventually(t, func() bool { return len(h.actions.snapshot()) == 1 }, waitFor, 5*time.Millisecond)
	e := h.actions.snapshot()[0]
	assert.Equal(t, 1, e.ActionIndex)
	assert.Equal(t, "p1", e.ActorID)
	assert.Equal(t, models.ActionPlayCard, e.Kind)

	c1.push(t, h.action("p1", models.ActionGetState, ""))
	state := recvKind(t, c1, models.EventBattleState)
	var snap battle.Snapshot
	require.NoError(t, json.Unmarshal(state.Payload, &snap))
	assert.Equal(t, 1, snap.ActionCount)
	require.NotNil(t, snap.LastAction)
	assert.Equal(t, models.ActionPlayCard, snap.LastAction.Kind)
}

func TestBadFramesGetErrorAndLoopContinues(t *testing.T) {
	h := newHarness(t, Options{})
	c1, _ := h.start(t, "p1")

	c1.pushRaw(`{not json`)
	recvKind(t, c1, models.EventError)

	c1.push(t, h.action("p1", "teleport", ""))
	recvKind(t, c1, models.EventError)

	forged := h.action("p1", models.EventTurnTimeout, "")
	forged.System = true
	c1.push(t, forged)
	recvKind(t, c1, models.EventError)

	c1.push(t, h.action("p2", models.ActionAttack, ""))
	recvKind(t, c1, models.EventError)

	c1.push(t, h.action("p1", models.ActionJoin, ""))
	recvKind(t, c1, models.EventError)

	c1.push(t, h.action("p1", models.ActionGetState, ""))
	recvKind(t, c1, models.EventBattleState)
	assert.Empty(t, h.actions.snapshot())
}

func TestEndTurnBeforeFirstTurnIsRejected(t *testing.T) {
	h := newHarness(t, Options{})
	c1, _ := h.start(t, "p1")

	c1.push(t, h.action("p1", models.ActionEndTurn, ""))
	msg := recvKind(t, c1, models.EventError)
	assert.Contains(t, string(msg.Payload), "no turn has started")
}

func TestTurnOrderPolicy(t *testing.T) {
	h := newHarness(t, Options{EnforceTurnOrder: true})
	c1, _ := h.start(t, "p1")
	c2, _ := h.start(t, "p2")
	_, err := h.reg.SetTurn(h.id, "p1")
	require.NoError(t, err)

	c2.push(t, h.action("p2", models.ActionAttack, ""))
	msg := recvKind(t, c2, models.EventError)
	assert.Contains(t, string(msg.Payload), "not your turn")

	c1.push(t, h.action("p1", models.ActionEndTurn, ""))
	recvKind(t, c2, models.ActionEndTurn)
	started := recvKind(t, c2, models.EventTurnStarted)
	assert.JSONEq(t, `{"user_id":"p2","turn":2}`, string(started.Payload))
	recvKind(t, c1, models.EventTurnStarted)

	c2.push(t, h.action("p2", models.ActionAttack, `{"target":1}`))
	recvKind(t, c1, models.ActionAttack)
}

func TestTurnClockPassesTheTurn(t *testing.T) {
	h := newHarness(t, Options{TurnDuration: 50 * time.Millisecond})
	c1, _ := h.start(t, "p1")
	c2, _ := h.start(t, "p2")
	turn, err := h.reg.SetTurn(h.id, "p1")
	require.NoError(t, err)
	h.p.armTurnClock(h.id, turn)

	for _, c := range []*fakeConn{c1, c2} {
		timeout := recvKind(t, c, models.EventTurnTimeout)
		assert.JSONEq(t, `{"user_id":"p1","turn":1}`, string(timeout.Payload))
		started := recvKind(t, c, models.EventTurnStarted)
		assert.JSONEq(t, `{"user_id":"p2","turn":2}`, string(started.Payload))
	}
}

func TestDisconnectAndReconnect(t *testing.T) {
	h := newHarness(t, Options{TurnDuration: time.Minute})
	c1, _ := h.start(t, "p1")
	c2, done2 := h.start(t, "p2")
	turn, err := h.reg.SetTurn(h.id, "p2")
	require.NoError(t, err)
	h.p.armTurnClock(h.id, turn)

	c2.end()
	require.NoError(t, result(t, done2))

	gone := recvKind(t, c1, models.EventPlayerDisconnected)
	assert.JSONEq(t, `{"user_id":"p2"}`, string(gone.Payload))
	assert.True(t, h.reg.IsDisconnected(h.id, "p2"))
	assert.False(t, h.timers.Armed("p2"), "disconnect clears turn clocks")

	c2b := newFakeConn()
	done2b := make(chan error, 1)
	go func() { done2b <- h.p.Run(context.Background(), "p2", c2b) }()
	c2b.push(t, h.action("p2", models.ActionJoin, ""))

	state := recvKind(t, c2b, models.EventBattleState)
	var snap battle.Snapshot
	require.NoError(t, json.Unmarshal(state.Payload, &snap))
	assert.Equal(t, []battle.ParticipantState{
		{UserID: "p1", State: "connected"},
		{UserID: "p2", State: "connected"},
	}, snap.Participants)
	assert.Equal(t, "p2", snap.Turn.Owner)

	back := recvKind(t, c1, models.EventPlayerReconnected)
	assert.JSONEq(t, `{"user_id":"p2"}`, string(back.Payload))
	assert.Eventually(t, func() bool { return h.timers.Armed("p2") }, waitFor, 5*time.Millisecond)

	c1.push(t, h.action("p1", models.ActionUseAbility, ""))
	recvKind(t, c2b, models.ActionUseAbility)
}

func TestBothDisconnectedAbandonsSession(t *testing.T) {
	h := newHarness(t, Options{})
	c1, done1 := h.start(t, "p1")
	c2, done2 := h.start(t, "p2")

	c1.end()
	require.NoError(t, result(t, done1))
	c2.end()
	require.NoError(t, result(t, done2))

	_, ok := h.reg.Session(h.id)
	assert.False(t, ok)
	assert.False(t, h.reg.IsInBattle("p1"))
	_, err := h.mgr.GetCurrentState(h.id)
	assert.ErrorIs(t, err, registry.ErrBattleNotFound)

	c := newFakeConn()
	c.push(t, h.action("p1", models.ActionJoin, ""))
	err = h.p.Run(context.Background(), "p1", c)
	assert.ErrorIs(t, err, ErrInvalidJoin)
}

func TestSurrenderFinishesBattle(t *testing.T) {
	h := newHarness(t, Options{})
	c1, done1 := h.start(t, "p1")
	c2, done2 := h.start(t, "p2")

	c1.push(t, h.action("p1", models.ActionSurrender, ""))
	for _, c := range []*fakeConn{c1, c2} {
		end := recvKind(t, c, models.ActionBattleEnd)
		assert.True(t, end.System)
		assert.JSONEq(t, `{"winner_id":"p2","loser_id":"p1"}`, string(end.Payload))
	}
	require.NoError(t, result(t, done1))
	require.NoError(t, result(t, done2))

	assert.Equal(t, models.BattleEndPayload{WinnerID: "p2", LoserID: "p1"}, h.store.finished[h.id])
	assert.False(t, h.reg.IsInBattle("p1"))
	assert.False(t, h.reg.IsInBattle("p2"))
}

// gatedState holds one participant's RecordAction until release is closed.
type gatedState struct {
	*battle.Manager
	userID  string
	entered chan struct{}
	release chan struct{}
}

func (g *gatedState) RecordAction(battleID uuid.UUID, msg *models.BattleData) (int, error) {
	if msg.SenderID == g.userID {
		close(g.entered)
		<-g.release
	}
	return g.Manager.RecordAction(battleID, msg)
}

func TestOpponentSurrenderDuringActionEndsQuietly(t *testing.T) {
	h := newHarness(t, Options{})
	log, _ := test.NewNullLogger()
	gate := &gatedState{Manager: h.mgr, userID: "p2", entered: make(chan struct{}), release: make(chan struct{})}
	h.p = New(h.reg, gate, h.timers, h.actions, Options{}, log)

	c1, done1 := h.start(t, "p1")
	c2, done2 := h.start(t, "p2")

	c2.push(t, h.action("p2", models.ActionPlayCard, `{"card_id":7}`))
	select {
	case <-gate.entered:
	case <-time.After(waitFor):
		t.Fatal("p2 action never reached the battle state")
	}

	c1.push(t, h.action("p1", models.ActionSurrender, ""))
	recvKind(t, c1, models.ActionBattleEnd)
	require.NoError(t, result(t, done1))

	close(gate.release)
	require.NoError(t, result(t, done2))
	recvKind(t, c2, models.ActionBattleEnd)
	assertSilent(t, c2)
	assert.False(t, h.reg.IsInBattle("p2"))
}

func TestBattleEndValidatesParticipants(t *testing.T) {
	h := newHarness(t, Options{})
	c1, done1 := h.start(t, "p1")

	c1.push(t, h.action("p1", models.ActionBattleEnd, `{"winner_id":"p1","loser_id":"p9"}`))
	recvKind(t, c1, models.EventError)

	c1.push(t, h.action("p1", models.ActionBattleEnd, `{"winner_id":"p1","loser_id":"p2"}`))
	recvKind(t, c1, models.ActionBattleEnd)
	require.NoError(t, result(t, done1))
	assert.Equal(t, "p1", h.store.finished[h.id].WinnerID)
}

func TestFaultTearsDownWholeBattle(t *testing.T) {
	h := newHarness(t, Options{})
	h.store.finishErr = errors.New("connection reset")
	c1, done1 := h.start(t, "p1")
	_, done2 := h.start(t, "p2")
	for _, id := range []string{"p1", "p2"} {
		_, _, err := h.mgr.MarkReady(h.id, id)
		require.NoError(t, err)
	}
	_, ok := h.mgr.FirstTurn(h.id)
	require.True(t, ok)

	c1.push(t, h.action("p1", models.ActionSurrender, ""))
	assert.ErrorIs(t, result(t, done1), ErrInternal)
	assert.NoError(t, result(t, done2), "the other loop ends quietly")

	_, ok = h.reg.Session(h.id)
	assert.False(t, ok)
	_, ok = h.mgr.FirstTurn(h.id)
	assert.False(t, ok)
}

func TestEmptyStreamIsNoop(t *testing.T) {
	h := newHarness(t, Options{})
	c := newFakeConn()
	c.end()
	assert.NoError(t, h.p.Run(context.Background(), "p1", c))
	assert.False(t, h.reg.IsDisconnected(h.id, "p1"))
}

func TestInvalidJoinFrames(t *testing.T) {
	h := newHarness(t, Options{})

	cases := map[string]models.BattleData{
		"other identity":  {BattleID: h.id, SenderID: "p2", Kind: models.ActionJoin},
		"unknown battle":  {BattleID: uuid.New(), SenderID: "p1", Kind: models.ActionJoin},
		"missing battle":  {SenderID: "p1", Kind: models.ActionJoin},
		"not a join":      {BattleID: h.id, SenderID: "p1", Kind: models.ActionAttack},
		"reserved sender": {BattleID: h.id, SenderID: "p1", System: true},
	}
	for name, join := range cases {
		t.Run(name, func(t *testing.T) {
			c := newFakeConn()
			c.push(t, join)
			assert.ErrorIs(t, h.p.Run(context.Background(), "p1", c), ErrInvalidJoin)
		})
	}

	c := newFakeConn()
	c.push(t, h.action("intruder", models.ActionJoin, ""))
	assert.ErrorIs(t, h.p.Run(context.Background(), "intruder", c), ErrInvalidJoin)
}
