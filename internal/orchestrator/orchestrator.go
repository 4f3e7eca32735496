// Package orchestrator is the entry point for the battle RPCs: the two connect flows that
// turn waiting players into a battle, the play loop and the administrative reset.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jason-s-yu/arena/internal/battle"
	"github.com/jason-s-yu/arena/internal/matchmaking"
	"github.com/jason-s-yu/arena/internal/models"
	"github.com/jason-s-yu/arena/internal/stream"
	"github.com/sirupsen/logrus"
)

var ErrQueueTimeout = errors.New("no opponent found in time")

// Battles creates battles for matched players.
type Battles interface {
	BuildStartPayload(ctx context.Context, w *matchmaking.WaitingPlayer) (models.StartPayload, error)
	CreateBattle(ctx context.Context, a, b battle.Contender) (*models.Battle, error)
	BindParticipants(b *models.Battle, a, c battle.Contender) error
	ResetAll(ctx context.Context) error
}

// PlayLoop serves one play-loop stream.
type PlayLoop interface {
	Run(ctx context.Context, userID string, conn stream.Conn) error
}

type Options struct {
	// RankedQueueTimeout bounds the wait in the ranked pool. Zero waits until the caller
	// goes away.
	RankedQueueTimeout time.Duration
}

type Orchestrator struct {
	direct  *matchmaking.Pool
	ranked  *matchmaking.Pool
	battles Battles
	play    PlayLoop
	opts    Options
	log     logrus.FieldLogger
}

func New(direct, ranked *matchmaking.Pool, battles Battles, play PlayLoop, opts Options, log logrus.FieldLogger) *Orchestrator {
	return &Orchestrator{
		direct:  direct,
		ranked:  ranked,
		battles: battles,
		play:    play,
		opts:    opts,
		log:     log,
	}
}

// ConnectDirectInvite waits until the named opponent invites the caller back, then writes
// the battle's connect response to out.
func (o *Orchestrator) ConnectDirectInvite(ctx context.Context, req models.ConnectRequest, out stream.Sender) (*models.ConnectResponse, error) {
	if err := req.Validate(true); err != nil {
		return nil, err
	}
	return o.connect(ctx, o.direct, req, out, 0)
}

// ConnectRankedPool waits in the shared pool for an opponent of the same mode.
func (o *Orchestrator) ConnectRankedPool(ctx context.Context, req models.ConnectRequest, out stream.Sender) (*models.ConnectResponse, error) {
	if err := req.Validate(false); err != nil {
		return nil, err
	}
	return o.connect(ctx, o.ranked, req, out, o.opts.RankedQueueTimeout)
}

// PlayBattle runs the play loop for userID.
func (o *Orchestrator) PlayBattle(ctx context.Context, userID string, conn stream.Conn) error {
	return o.play.Run(ctx, userID, conn)
}

// ResetAllSessions deletes every stored battle and battle event. Failures are logged only.
func (o *Orchestrator) ResetAllSessions(ctx context.Context) {
	if err := o.battles.ResetAll(ctx); err != nil {
		o.log.WithError(err).Error("failed to reset battles")
		return
	}
	o.log.Warn("all battles reset")
}

func (o *Orchestrator) connect(ctx context.Context, pool *matchmaking.Pool, req models.ConnectRequest, out stream.Sender, timeout time.Duration) (*models.ConnectResponse, error) {
	log := o.log.WithFields(logrus.Fields{"user_id": req.UserID, "mode": req.Mode})

	w := matchmaking.NewWaitingPlayer(req, out)
	counterpart, err := pool.Join(w)
	if err != nil {
		return nil, err
	}
	if counterpart != nil {
		// The claiming side builds the battle for both; it must finish even if its own
		// caller has gone away, since the counterpart is waiting on the outcome.
		o.startBattle(context.WithoutCancel(ctx), pool, counterpart, w)
	} else {
		log.Info("waiting for opponent")
	}

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	outcome, err := pool.Wait(waitCtx, w)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			log.Info("ranked queue timed out")
			return nil, fmt.Errorf("%w after %s", ErrQueueTimeout, timeout)
		}
		return nil, err
	}
	if outcome.Err != nil {
		return nil, outcome.Err
	}

	if err := w.Stream.Send(ctx, outcome.Response); err != nil {
		log.WithError(err).Warn("failed to send connect response")
		return nil, err
	}
	log.WithField("battle_id", outcome.Response.BattleID).Info("connect response sent")
	return outcome.Response, nil
}

// startBattle turns a committed match into a battle and hands the outcome to both waiting
// calls. first is the player that waited longer.
func (o *Orchestrator) startBattle(ctx context.Context, pool *matchmaking.Pool, first, second *matchmaking.WaitingPlayer) {
	resp, err := o.createBattle(ctx, first, second)
	if err != nil {
		o.log.WithFields(logrus.Fields{
			"player_a": first.UserID,
			"player_b": second.UserID,
		}).WithError(err).Warn("failed to start battle")
		pool.Evict(first.UserID)
		pool.Evict(second.UserID)
		first.Deliver(matchmaking.Outcome{Err: err})
		second.Deliver(matchmaking.Outcome{Err: err})
		return
	}
	first.Deliver(matchmaking.Outcome{Response: resp})
	second.Deliver(matchmaking.Outcome{Response: resp})
}

func (o *Orchestrator) createBattle(ctx context.Context, first, second *matchmaking.WaitingPlayer) (*models.ConnectResponse, error) {
	pa, err := o.battles.BuildStartPayload(ctx, first)
	if err != nil {
		return nil, fmt.Errorf("start payload for %s: %w", first.UserID, err)
	}
	pb, err := o.battles.BuildStartPayload(ctx, second)
	if err != nil {
		return nil, fmt.Errorf("start payload for %s: %w", second.UserID, err)
	}

	a := battle.Contender{UserID: first.UserID, Mode: first.Mode}
	b := battle.Contender{UserID: second.UserID, Mode: second.Mode}
	created, err := o.battles.CreateBattle(ctx, a, b)
	if err != nil {
		return nil, err
	}
	if err := o.battles.BindParticipants(created, a, b); err != nil {
		return nil, err
	}
	return &models.ConnectResponse{
		BattleID: created.ID,
		Users:    []models.StartPayload{pa, pb},
	}, nil
}
