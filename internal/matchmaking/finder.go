package matchmaking

import (
	"github.com/jason-s-yu/arena/internal/rating"
)

// OpponentFinder picks the best counterpart for self among eligible candidates, or nil.
// Candidates are already filtered to other identities with the same mode and are ordered
// longest-waiting first.
type OpponentFinder interface {
	FindOpponent(self *WaitingPlayer, candidates []*WaitingPlayer) *WaitingPlayer
}

// MMRFinder prefers the most even pairing by Glicko-2 expected score. MaxGap, when
// positive, rejects candidates whose MMR differs by more than that.
type MMRFinder struct {
	MaxGap int
}

func (f MMRFinder) FindOpponent(self *WaitingPlayer, candidates []*WaitingPlayer) *WaitingPlayer {
	var (
		best        *WaitingPlayer
		bestQuality = -1.0
	)
	for _, c := range candidates {
		if f.MaxGap > 0 && abs(c.MMR-self.MMR) > f.MaxGap {
			continue
		}
		q := rating.MatchQuality(self.MMR, c.MMR)
		if q > bestQuality {
			best, bestQuality = c, q
		}
	}
	return best
}

// FirstFinder matches the longest waiting candidate regardless of rating.
type FirstFinder struct{}

func (FirstFinder) FindOpponent(_ *WaitingPlayer, candidates []*WaitingPlayer) *WaitingPlayer {
	if len(candidates) == 0 {
		return nil
	}
	return candidates[0]
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
