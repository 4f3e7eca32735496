package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/arena/internal/models"
	"github.com/jason-s-yu/arena/internal/registry"
	"github.com/jason-s-yu/arena/internal/stream"
	"github.com/sirupsen/logrus"
)

func (p *Pipeline) handleJoin(_ context.Context, _ *connection, _ *models.BattleData) error {
	return fmt.Errorf("%w: already joined", ErrRejected)
}

func (p *Pipeline) handleGetState(ctx context.Context, c *connection, _ *models.BattleData) error {
	snap, err := p.battles.GetCurrentState(c.battleID)
	if err != nil {
		return err
	}
	return p.sendSystem(ctx, c.out, c.battleID, models.EventBattleState, snap)
}

func (p *Pipeline) handleReady(ctx context.Context, c *connection, msg *models.BattleData) error {
	if err := p.apply(ctx, c, msg); err != nil {
		return err
	}
	first, decided, err := p.battles.MarkReady(c.battleID, c.userID)
	if err != nil || !decided {
		return err
	}
	turn, err := p.reg.SetTurn(c.battleID, first)
	if err != nil {
		return err
	}
	p.broadcast(ctx, c.battleID, models.EventFirstTurn, models.TurnPayload{UserID: first, Turn: turn.Number})
	p.startTurn(ctx, c.battleID, turn)
	return nil
}

// handleRelay applies a game action and forwards it to the opponent untouched.
func (p *Pipeline) handleRelay(ctx context.Context, c *connection, msg *models.BattleData) error {
	if err := p.apply(ctx, c, msg); err != nil {
		return err
	}
	p.relay(ctx, c, msg)
	return nil
}

func (p *Pipeline) handleEndTurn(ctx context.Context, c *connection, msg *models.BattleData) error {
	turn, err := p.reg.AdvanceTurn(c.battleID)
	if errors.Is(err, registry.ErrTurnNotStarted) {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	if err != nil {
		return err
	}
	if err := p.apply(ctx, c, msg); err != nil {
		return err
	}
	p.relay(ctx, c, msg)
	p.startTurn(ctx, c.battleID, turn)
	return nil
}

func (p *Pipeline) handleSurrender(ctx context.Context, c *connection, msg *models.BattleData) error {
	opp, ok := p.reg.Opponent(c.battleID, c.userID)
	if !ok {
		return fmt.Errorf("%s: %w", c.battleID, registry.ErrBattleNotFound)
	}
	if err := p.apply(ctx, c, msg); err != nil {
		return err
	}
	return p.finish(ctx, c, models.BattleEndPayload{WinnerID: opp.UserID, LoserID: c.userID})
}

func (p *Pipeline) handleBattleEnd(ctx context.Context, c *connection, msg *models.BattleData) error {
	var result models.BattleEndPayload
	if err := json.Unmarshal(msg.Payload, &result); err != nil {
		return fmt.Errorf("%w: bad battle_end payload", ErrRejected)
	}
	opp, ok := p.reg.Opponent(c.battleID, c.userID)
	if !ok {
		return fmt.Errorf("%s: %w", c.battleID, registry.ErrBattleNotFound)
	}
	pair := map[string]bool{c.userID: true, opp.UserID: true}
	if !pair[result.WinnerID] || !pair[result.LoserID] || result.WinnerID == result.LoserID {
		return fmt.Errorf("%w: winner and loser must be the two participants", ErrRejected)
	}
	if err := p.apply(ctx, c, msg); err != nil {
		return err
	}
	return p.finish(ctx, c, result)
}

// finish records the result, tells both sides and ends the loop.
func (p *Pipeline) finish(ctx context.Context, c *connection, result models.BattleEndPayload) error {
	if err := p.battles.FinishBattle(ctx, c.battleID, result.WinnerID, result.LoserID); err != nil {
		return err
	}
	p.broadcast(ctx, c.battleID, models.ActionBattleEnd, result)
	return errFinished
}

// apply records msg as the battle's latest action and appends it to the action log. A log
// failure does not undo the action.
func (p *Pipeline) apply(ctx context.Context, c *connection, msg *models.BattleData) error {
	idx, err := p.battles.RecordAction(c.battleID, msg)
	if err != nil {
		return err
	}
	if p.actions == nil {
		return nil
	}
	event := models.BattleEvent{
		BattleID:    c.battleID,
		ActionIndex: idx,
		ActorID:     c.userID,
		Kind:        msg.Kind,
		Payload:     msg.Payload,
		Timestamp:   time.Now().UnixMilli(),
	}
	if err := p.actions.Publish(ctx, event); err != nil {
		p.log.WithFields(logrus.Fields{"battle_id": c.battleID, "kind": msg.Kind}).WithError(err).Warn("failed to log action")
	}
	return nil
}

// startTurn announces the turn and arms its clock.
func (p *Pipeline) startTurn(ctx context.Context, battleID uuid.UUID, turn registry.TurnState) {
	p.broadcast(ctx, battleID, models.EventTurnStarted, models.TurnPayload{UserID: turn.Owner, Turn: turn.Number})
	p.armTurnClock(battleID, turn)
}

func (p *Pipeline) armTurnClock(battleID uuid.UUID, turn registry.TurnState) {
	if p.opts.TurnDuration <= 0 {
		return
	}
	if sess, ok := p.reg.Session(battleID); ok {
		for _, part := range sess.Participants {
			if part.UserID != turn.Owner {
				p.timers.Clear(part.UserID)
			}
		}
	}
	p.timers.Arm(turn.Owner, p.opts.TurnDuration, func() {
		p.expireTurn(battleID, turn)
	})
}

// expireTurn passes a turn whose clock ran out.
func (p *Pipeline) expireTurn(battleID uuid.UUID, turn registry.TurnState) {
	next, err := p.reg.PassTurn(battleID, turn)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	p.log.WithFields(logrus.Fields{"battle_id": battleID, "user_id": turn.Owner, "turn": turn.Number}).Info("turn timed out")
	p.broadcast(ctx, battleID, models.EventTurnTimeout, models.TurnPayload{UserID: turn.Owner, Turn: turn.Number})
	p.startTurn(ctx, battleID, next)
}

// relay forwards a client frame to the opponent if it is connected. The opponent's own
// loop notices a broken stream, so send errors are only logged.
func (p *Pipeline) relay(ctx context.Context, c *connection, msg *models.BattleData) {
	opp, ok := p.reg.Opponent(c.battleID, c.userID)
	if !ok || opp.State != registry.Connected || opp.Stream == nil {
		return
	}
	if err := send(ctx, opp.Stream, msg); err != nil {
		p.log.WithFields(logrus.Fields{"battle_id": c.battleID, "user_id": opp.UserID}).WithError(err).Warn("relay failed")
	}
}

func (p *Pipeline) notifyOpponent(ctx context.Context, c *connection, kind models.ActionKind) {
	opp, ok := p.reg.Opponent(c.battleID, c.userID)
	if !ok || opp.State != registry.Connected || opp.Stream == nil {
		return
	}
	if err := p.sendSystem(ctx, opp.Stream, c.battleID, kind, models.UserPayload{UserID: c.userID}); err != nil {
		p.log.WithFields(logrus.Fields{"battle_id": c.battleID, "user_id": opp.UserID, "kind": kind}).WithError(err).Warn("notify failed")
	}
}

// broadcast sends a system frame to every connected participant.
func (p *Pipeline) broadcast(ctx context.Context, battleID uuid.UUID, kind models.ActionKind, payload interface{}) {
	sess, ok := p.reg.Session(battleID)
	if !ok {
		return
	}
	msg, err := models.SystemFrame(battleID, kind, payload)
	if err != nil {
		p.log.WithError(err).Error("failed to build broadcast")
		return
	}
	for _, part := range sess.Participants {
		if part.State != registry.Connected || part.Stream == nil {
			continue
		}
		if err := send(ctx, part.Stream, msg); err != nil {
			p.log.WithFields(logrus.Fields{"battle_id": battleID, "user_id": part.UserID, "kind": kind}).WithError(err).Warn("broadcast failed")
		}
	}
}

func (p *Pipeline) sendSystem(ctx context.Context, out stream.Sender, battleID uuid.UUID, kind models.ActionKind, payload interface{}) error {
	msg, err := models.SystemFrame(battleID, kind, payload)
	if err != nil {
		return err
	}
	return send(ctx, out, msg)
}

func (p *Pipeline) sendError(ctx context.Context, c *connection, reason string) {
	if err := p.sendSystem(ctx, c.out, c.battleID, models.EventError, models.ErrorPayload{Message: reason}); err != nil {
		p.log.WithFields(logrus.Fields{"battle_id": c.battleID, "user_id": c.userID}).WithError(err).Debug("failed to send error frame")
	}
}

func send(ctx context.Context, out stream.Sender, v interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	return out.Send(ctx, v)
}
