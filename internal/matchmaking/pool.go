// Package matchmaking pairs waiting players, either by mutual invite or from a shared
// ranked pool.
package matchmaking

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jason-s-yu/arena/internal/registry"
	"github.com/sirupsen/logrus"
)

type matchFunc func(self *WaitingPlayer, waiting map[string]*WaitingPlayer) *WaitingPlayer

// Pool holds the players waiting in one pairing mode. Register, match-commit and removal
// each run under the pool lock, so an entry can be claimed by at most one match.
type Pool struct {
	kind  registry.LobbyKind
	reg   *registry.Registry
	match matchFunc
	log   logrus.FieldLogger

	mu      sync.Mutex
	waiting map[string]*WaitingPlayer
}

// NewDirectPool pairs players only when each named the other as opponent.
func NewDirectPool(reg *registry.Registry, log logrus.FieldLogger) *Pool {
	return &Pool{
		kind:    registry.LobbyDirect,
		reg:     reg,
		match:   matchDirect,
		log:     log.WithField("pool", "direct"),
		waiting: make(map[string]*WaitingPlayer),
	}
}

// NewRankedPool pairs players of the same mode using finder to rank candidates.
func NewRankedPool(reg *registry.Registry, finder OpponentFinder, log logrus.FieldLogger) *Pool {
	if finder == nil {
		finder = FirstFinder{}
	}
	return &Pool{
		kind:    registry.LobbyRanked,
		reg:     reg,
		match:   rankedMatcher(finder),
		log:     log.WithField("pool", "ranked"),
		waiting: make(map[string]*WaitingPlayer),
	}
}

func matchDirect(self *WaitingPlayer, waiting map[string]*WaitingPlayer) *WaitingPlayer {
	c, ok := waiting[self.OpponentID]
	if !ok || c.OpponentID != self.UserID {
		return nil
	}
	return c
}

func rankedMatcher(finder OpponentFinder) matchFunc {
	return func(self *WaitingPlayer, waiting map[string]*WaitingPlayer) *WaitingPlayer {
		candidates := make([]*WaitingPlayer, 0, len(waiting))
		for id, c := range waiting {
			if id == self.UserID || c.Mode != self.Mode {
				continue
			}
			candidates = append(candidates, c)
		}
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].JoinedAt.Equal(candidates[j].JoinedAt) {
				return candidates[i].UserID < candidates[j].UserID
			}
			return candidates[i].JoinedAt.Before(candidates[j].JoinedAt)
		})
		return finder.FindOpponent(self, candidates)
	}
}

// Register parks w in the pool. It fails without side effects when the identity is already
// waiting somewhere or bound to a battle.
func (p *Pool) Register(w *WaitingPlayer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.register(w)
}

func (p *Pool) register(w *WaitingPlayer) error {
	if err := p.reg.EnterLobby(w.UserID, p.kind); err != nil {
		return err
	}
	p.waiting[w.UserID] = w
	return nil
}

// FindCounterpart looks for a match for w and, when one exists, commits it: both entries
// leave the pool before this returns.
func (p *Pool) FindCounterpart(w *WaitingPlayer) (*WaitingPlayer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.commit(w)
}

func (p *Pool) commit(w *WaitingPlayer) (*WaitingPlayer, bool) {
	if p.waiting[w.UserID] != w {
		return nil, false
	}
	c := p.match(w, p.waiting)
	if c == nil {
		return nil, false
	}
	delete(p.waiting, w.UserID)
	delete(p.waiting, c.UserID)
	w.opponentFound.Store(true)
	c.opponentFound.Store(true)
	p.log.WithFields(logrus.Fields{
		"user_id":     w.UserID,
		"opponent_id": c.UserID,
	}).Info("match committed")
	return c, true
}

// Join registers w and tries to match it in one critical section. A nil counterpart means
// w is now waiting.
func (p *Pool) Join(w *WaitingPlayer) (*WaitingPlayer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.register(w); err != nil {
		return nil, err
	}
	c, _ := p.commit(w)
	return c, nil
}

// Remove takes a still-waiting entry out of the pool and releases its lobby slot. It
// returns false when the entry is gone, usually because a match already claimed it.
func (p *Pool) Remove(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.waiting[userID]; !ok {
		return false
	}
	delete(p.waiting, userID)
	p.reg.LeaveLobby(userID)
	return true
}

// Evict removes userID from the pool if present and always releases its lobby slot, also
// for entries that were already claimed by a match that then failed.
func (p *Pool) Evict(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.waiting, userID)
	p.reg.LeaveLobby(userID)
}

// Wait blocks until w is matched or ctx is done. A cancelled caller whose entry was already
// claimed still waits for the outcome, since the claiming side is building the battle.
func (p *Pool) Wait(ctx context.Context, w *WaitingPlayer) (Outcome, error) {
	select {
	case o := <-w.outcome:
		return o, nil
	case <-ctx.Done():
		if p.Remove(w.UserID) {
			p.log.WithField("user_id", w.UserID).Info("left pool before a match formed")
			return Outcome{}, fmt.Errorf("waiting for opponent: %w", ctx.Err())
		}
		return <-w.outcome, nil
	}
}

// Len returns the number of waiting entries.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiting)
}
