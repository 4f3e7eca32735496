// Package dispatch runs the per-connection play loop of a battle: it attaches or
// reattaches the connection to its session, routes every decoded action to its handler and
// decides how the session is torn down when the loop ends.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/arena/internal/battle"
	"github.com/jason-s-yu/arena/internal/models"
	"github.com/jason-s-yu/arena/internal/registry"
	"github.com/jason-s-yu/arena/internal/stream"
	"github.com/jason-s-yu/arena/internal/timer"
	"github.com/sirupsen/logrus"
)

var (
	// ErrRejected marks an action the loop refuses without ending the session.
	ErrRejected = errors.New("action rejected")
	// ErrInvalidJoin is returned when the first frame does not name a joinable session.
	ErrInvalidJoin = errors.New("invalid join frame")
	// ErrInternal is returned after a fault tore the whole battle down.
	ErrInternal = errors.New("internal battle error")

	errFinished = errors.New("battle finished")
)

const sendTimeout = 3 * time.Second

// BattleState is the part of the battle manager the loop drives.
type BattleState interface {
	GetCurrentState(battleID uuid.UUID) (battle.Snapshot, error)
	RecordAction(battleID uuid.UUID, msg *models.BattleData) (int, error)
	MarkReady(battleID uuid.UUID, userID string) (string, bool, error)
	FinishBattle(ctx context.Context, battleID uuid.UUID, winnerID, loserID string) error
	Release(battleID uuid.UUID)
}

// ActionPublisher appends applied actions to the battle action log.
type ActionPublisher interface {
	Publish(ctx context.Context, event models.BattleEvent) error
}

type Options struct {
	TurnDuration     time.Duration
	EnforceTurnOrder bool
}

type handlerFunc func(ctx context.Context, c *connection, msg *models.BattleData) error

// connection is one participant's play loop.
type connection struct {
	battleID uuid.UUID
	userID   string
	out      stream.Sender
}

type Pipeline struct {
	reg     *registry.Registry
	battles BattleState
	timers  *timer.Service
	actions ActionPublisher
	opts    Options
	log     logrus.FieldLogger

	handlers map[models.ActionKind]handlerFunc

	mu    sync.Mutex
	loops map[uuid.UUID]map[string]*loop
}

// loop lets teardown and a newer connection of the same participant stop a running loop.
type loop struct {
	cancel context.CancelFunc
}

// New builds the pipeline and its handler table. actions may be nil.
func New(reg *registry.Registry, battles BattleState, timers *timer.Service, actions ActionPublisher, opts Options, log logrus.FieldLogger) *Pipeline {
	p := &Pipeline{
		reg:     reg,
		battles: battles,
		timers:  timers,
		actions: actions,
		opts:    opts,
		log:     log,
		loops:   make(map[uuid.UUID]map[string]*loop),
	}
	p.handlers = map[models.ActionKind]handlerFunc{
		models.ActionJoin:       p.handleJoin,
		models.ActionReady:      p.handleReady,
		models.ActionGetState:   p.handleGetState,
		models.ActionPlayCard:   p.handleRelay,
		models.ActionAttack:     p.handleRelay,
		models.ActionUseAbility: p.handleRelay,
		models.ActionEndTurn:    p.handleEndTurn,
		models.ActionSurrender:  p.handleSurrender,
		models.ActionBattleEnd:  p.handleBattleEnd,
	}
	if len(p.handlers) != len(models.ClientKinds) {
		panic("dispatch: handler table out of sync with models.ClientKinds")
	}
	for _, k := range models.ClientKinds {
		if p.handlers[k] == nil {
			panic(fmt.Sprintf("dispatch: no handler for %q", k))
		}
	}
	return p
}

// Run serves one play-loop stream for userID until it ends. A clean end or a transport
// failure leaves the session open for reconnection and returns nil; a fault tears the battle
// down and returns ErrInternal.
func (p *Pipeline) Run(ctx context.Context, userID string, conn stream.Conn) error {
	var join models.BattleData
	if err := conn.Receive(ctx, &join); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, stream.ErrMalformed) {
			return fmt.Errorf("%w: %v", ErrInvalidJoin, err)
		}
		return err
	}
	if err := validateJoin(&join, userID); err != nil {
		return err
	}

	c := &connection{battleID: join.BattleID, userID: join.SenderID, out: conn}
	log := p.log.WithFields(logrus.Fields{"battle_id": c.battleID, "user_id": c.userID})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	l := &loop{cancel: cancel}
	p.track(c, l)
	defer p.untrack(c, l)

	if p.reg.IsDisconnected(c.battleID, c.userID) {
		if err := p.reconnect(ctx, c); err != nil {
			if !errors.Is(err, ErrInvalidJoin) {
				p.disconnect(c)
			}
			return err
		}
		log.Info("participant reconnected")
	} else {
		if err := p.reg.AddParticipant(c.battleID, c.userID, conn); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidJoin, err)
		}
		log.Info("participant joined")
	}

	for {
		var msg models.BattleData
		err := conn.Receive(ctx, &msg)
		if p.ended(c.battleID) {
			log.Debug("session gone, ending loop")
			return nil
		}
		switch {
		case err == nil:
		case errors.Is(err, stream.ErrMalformed):
			p.sendError(ctx, c, err.Error())
			continue
		case errors.Is(err, io.EOF), errors.Is(err, stream.ErrTransport), ctx.Err() != nil:
			log.WithError(err).Info("stream ended")
			p.disconnect(c)
			return nil
		default:
			p.teardown(c.battleID, c.userID)
			return fmt.Errorf("%w: %v", ErrInternal, err)
		}

		err = p.dispatch(ctx, c, &msg)
		switch {
		case err == nil:
		case errors.Is(err, errFinished):
			log.Info("battle finished")
			p.teardown(c.battleID, c.userID)
			return nil
		case errors.Is(err, ErrRejected):
			log.WithField("kind", msg.Kind).WithError(err).Debug("action rejected")
			p.sendError(ctx, c, err.Error())
		case p.ended(c.battleID):
			// The other side finished the battle while this action was in flight.
			log.WithField("kind", msg.Kind).WithError(err).Debug("session gone, ending loop")
			return nil
		default:
			log.WithField("kind", msg.Kind).WithError(err).Error("action failed, tearing battle down")
			p.teardown(c.battleID, c.userID)
			return fmt.Errorf("%w: %v", ErrInternal, err)
		}
	}
}

func validateJoin(join *models.BattleData, userID string) error {
	switch {
	case join.System:
		return fmt.Errorf("%w: reserved sender", ErrInvalidJoin)
	case join.BattleID == uuid.Nil:
		return fmt.Errorf("%w: missing battle_id", ErrInvalidJoin)
	case join.SenderID == "":
		return fmt.Errorf("%w: missing sender_id", ErrInvalidJoin)
	case join.SenderID != userID:
		return fmt.Errorf("%w: sender_id does not match the authenticated user", ErrInvalidJoin)
	case join.Kind != "" && join.Kind != models.ActionJoin:
		return fmt.Errorf("%w: first frame must be %s", ErrInvalidJoin, models.ActionJoin)
	}
	return nil
}

// dispatch routes msg to exactly one handler.
func (p *Pipeline) dispatch(ctx context.Context, c *connection, msg *models.BattleData) error {
	if msg.System {
		return fmt.Errorf("%w: reserved sender", ErrRejected)
	}
	if msg.BattleID != uuid.Nil && msg.BattleID != c.battleID {
		return fmt.Errorf("%w: frame for another battle", ErrRejected)
	}
	if msg.SenderID != "" && msg.SenderID != c.userID {
		return fmt.Errorf("%w: sender_id mismatch", ErrRejected)
	}
	msg.BattleID, msg.SenderID = c.battleID, c.userID

	h, ok := p.handlers[msg.Kind]
	if !ok {
		return fmt.Errorf("%w: unknown kind %q", ErrRejected, msg.Kind)
	}
	if p.opts.EnforceTurnOrder && msg.Kind.TurnBound() {
		turn, _ := p.reg.Turn(c.battleID)
		if turn.Owner != c.userID {
			return fmt.Errorf("%w: not your turn", ErrRejected)
		}
	}
	return h(ctx, c, msg)
}

// reconnect swaps the new stream in and resynchronizes both sides.
func (p *Pipeline) reconnect(ctx context.Context, c *connection) error {
	if _, err := p.reg.Reconnect(c.battleID, c.userID, c.out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJoin, err)
	}
	snap, err := p.battles.GetCurrentState(c.battleID)
	if err != nil {
		return err
	}
	if err := p.sendSystem(ctx, c.out, c.battleID, models.EventBattleState, snap); err != nil {
		return err
	}
	p.notifyOpponent(ctx, c, models.EventPlayerReconnected)

	if turn, ok := p.reg.Turn(c.battleID); ok && turn.Owner != "" {
		p.armTurnClock(c.battleID, turn)
	}
	return nil
}

// disconnect is the Ended path: the session stays open for the participant to come back
// unless the other side is gone as well.
func (p *Pipeline) disconnect(c *connection) {
	if !p.owns(c) {
		return
	}
	_, abandoned, err := p.reg.MarkDisconnected(c.battleID, c.userID)
	if err != nil {
		return
	}
	p.clearTimers(c.battleID)
	if abandoned {
		p.log.WithField("battle_id", c.battleID).Info("both participants gone, dropping session")
		p.teardown(c.battleID, c.userID)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	p.notifyOpponent(ctx, c, models.EventPlayerDisconnected)
}

// teardown releases everything held for the battle and stops the other loops attached to
// it. It is safe to call more than once.
func (p *Pipeline) teardown(battleID uuid.UUID, self string) {
	p.clearTimers(battleID)
	p.reg.ClearTurnState(battleID)
	p.reg.RemoveAllForBattle(battleID)
	p.battles.Release(battleID)
	p.stopLoops(battleID, self)
}

func (p *Pipeline) clearTimers(battleID uuid.UUID) {
	if sess, ok := p.reg.Session(battleID); ok {
		for _, part := range sess.Participants {
			p.timers.Clear(part.UserID)
		}
	}
	p.timers.Clear(battleID.String())
}

func (p *Pipeline) ended(battleID uuid.UUID) bool {
	_, ok := p.reg.Session(battleID)
	return !ok
}

// owns reports whether c's stream is still the one attached to its participant. A loop
// replaced by a newer connection must not disconnect it.
func (p *Pipeline) owns(c *connection) bool {
	sess, ok := p.reg.Session(c.battleID)
	if !ok {
		return false
	}
	for _, part := range sess.Participants {
		if part.UserID == c.userID {
			return part.Stream == c.out
		}
	}
	return false
}

// track registers l as the participant's loop and stops the loop it replaces.
func (p *Pipeline) track(c *connection, l *loop) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loops[c.battleID] == nil {
		p.loops[c.battleID] = make(map[string]*loop)
	}
	if old, ok := p.loops[c.battleID][c.userID]; ok {
		old.cancel()
	}
	p.loops[c.battleID][c.userID] = l
}

func (p *Pipeline) untrack(c *connection, l *loop) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loops[c.battleID][c.userID] == l {
		delete(p.loops[c.battleID], c.userID)
	}
	if len(p.loops[c.battleID]) == 0 {
		delete(p.loops, c.battleID)
	}
}

func (p *Pipeline) stopLoops(battleID uuid.UUID, except string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, l := range p.loops[battleID] {
		if id != except {
			l.cancel()
		}
	}
}
