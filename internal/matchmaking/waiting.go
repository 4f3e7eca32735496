package matchmaking

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jason-s-yu/arena/internal/models"
	"github.com/jason-s-yu/arena/internal/stream"
)

// Outcome is what a waiting player eventually learns once it has been matched: the battle
// it was placed in, or the error that stopped the battle from being created.
type Outcome struct {
	Response *models.ConnectResponse
	Err      error
}

// WaitingPlayer is one connect call parked in a pool.
type WaitingPlayer struct {
	models.ConnectRequest

	// Stream receives the ConnectResponse once the outcome is delivered.
	Stream   stream.Sender
	JoinedAt time.Time

	opponentFound atomic.Bool
	handled       atomic.Bool
	once          sync.Once
	outcome       chan Outcome
}

func NewWaitingPlayer(req models.ConnectRequest, s stream.Sender) *WaitingPlayer {
	return &WaitingPlayer{
		ConnectRequest: req,
		Stream:         s,
		JoinedAt:       time.Now(),
		outcome:        make(chan Outcome, 1),
	}
}

// Deliver hands the match outcome to the player's waiting call. Only the first call has
// an effect.
func (w *WaitingPlayer) Deliver(o Outcome) bool {
	delivered := false
	w.once.Do(func() {
		w.handled.Store(true)
		w.outcome <- o
		delivered = true
	})
	return delivered
}

// OpponentFound reports whether the entry has been claimed by a match.
func (w *WaitingPlayer) OpponentFound() bool { return w.opponentFound.Load() }

// Handled reports whether an outcome has been delivered.
func (w *WaitingPlayer) Handled() bool { return w.handled.Load() }
