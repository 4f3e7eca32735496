package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// BattleMode tags how a battle was paired. Ranked-pool entries only match entries with the
// same mode.
type BattleMode string

const (
	ModeRanked BattleMode = "pvp"
	ModeCasual BattleMode = "casual"
	ModeDirect BattleMode = "fvf"
)

// Valid reports whether m is a known mode.
func (m BattleMode) Valid() bool {
	switch m {
	case ModeRanked, ModeCasual, ModeDirect:
		return true
	}
	return false
}

// Pooled reports whether players of this mode queue in the shared ranked pool.
func (m BattleMode) Pooled() bool {
	return m == ModeRanked || m == ModeCasual
}

type BattleStatus string

const (
	BattleInProgress BattleStatus = "in_progress"
	BattleFinished   BattleStatus = "finished"
)

// Battle is a row in the battles table.
type Battle struct {
	ID         uuid.UUID    `json:"id"`
	Status     BattleStatus `json:"status"`
	PlayerA    string       `json:"player_a"`
	PlayerB    string       `json:"player_b"`
	WinnerID   string       `json:"winner_id,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
}

// BattleDetail is the per-player row that records which mode each side queued with.
type BattleDetail struct {
	BattleID   uuid.UUID  `json:"battle_id"`
	UserID     string     `json:"user_id"`
	OpponentID string     `json:"opponent_id"`
	Mode       BattleMode `json:"mode"`
}

// BattleEvent is one applied action, shipped to the historian through redis and stored in
// the battle_events table.
type BattleEvent struct {
	BattleID    uuid.UUID       `json:"battle_id"`
	ActionIndex int             `json:"action_index"`
	ActorID     string          `json:"actor_id"`
	Kind        ActionKind      `json:"kind"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   int64           `json:"timestamp"`
}
