package battle

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/arena/internal/models"
	"github.com/jason-s-yu/arena/internal/registry"
)

// ParticipantState is one side's connection as seen in a snapshot.
type ParticipantState struct {
	UserID string `json:"user_id"`
	State  string `json:"state"`
}

// Snapshot is the authoritative view of a battle sent to a reconnecting client.
type Snapshot struct {
	BattleID     uuid.UUID          `json:"battle_id"`
	Mode         models.BattleMode  `json:"mode"`
	Participants []ParticipantState `json:"participants"`
	Turn         registry.TurnState `json:"turn"`
	FirstPlayer  string             `json:"first_player,omitempty"`
	Ready        []string           `json:"ready"`
	ActionCount  int                `json:"action_count"`
	LastAction   *models.BattleData `json:"last_action,omitempty"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// GetCurrentState builds a fresh snapshot from the registry session and the applied
// actions. It never returns a cached copy.
func (m *Manager) GetCurrentState(battleID uuid.UUID) (Snapshot, error) {
	sess, ok := m.reg.Session(battleID)
	if !ok {
		return Snapshot{}, fmt.Errorf("%s: %w", battleID, registry.ErrBattleNotFound)
	}

	snap := Snapshot{
		BattleID: battleID,
		Mode:     sess.Mode,
		Turn:     sess.Turn,
		Ready:    []string{},
	}
	for _, p := range sess.Participants {
		snap.Participants = append(snap.Participants, ParticipantState{UserID: p.UserID, State: p.State.String()})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.states[battleID]; ok {
		snap.FirstPlayer = st.firstPlayer
		snap.ActionCount = st.actionCount
		snap.UpdatedAt = st.updatedAt
		for id := range st.ready {
			snap.Ready = append(snap.Ready, id)
		}
		sort.Strings(snap.Ready)
		if st.lastAction != nil {
			last := *st.lastAction
			last.Payload = append([]byte(nil), st.lastAction.Payload...)
			snap.LastAction = &last
		}
	}
	return snap, nil
}

// RecordAction stores msg as the latest applied action and returns its 1-based index.
func (m *Manager) RecordAction(battleID uuid.UUID, msg *models.BattleData) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[battleID]
	if !ok {
		return 0, fmt.Errorf("%s: %w", battleID, registry.ErrBattleNotFound)
	}
	cp := *msg
	cp.Payload = append([]byte(nil), msg.Payload...)
	st.actionCount++
	st.lastAction = &cp
	st.updatedAt = time.Now()
	return st.actionCount, nil
}

// MarkReady records that userID is ready. Once both participants are ready the first
// player is drawn at random, exactly once per battle; decided is true only on the call
// that made the decision.
func (m *Manager) MarkReady(battleID uuid.UUID, userID string) (first string, decided bool, err error) {
	sess, ok := m.reg.Session(battleID)
	if !ok {
		return "", false, fmt.Errorf("%s: %w", battleID, registry.ErrBattleNotFound)
	}
	member := false
	for _, p := range sess.Participants {
		if p.UserID == userID {
			member = true
		}
	}
	if !member {
		return "", false, fmt.Errorf("%s in %s: %w", userID, battleID, ErrNotParticipant)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[battleID]
	if !ok {
		return "", false, fmt.Errorf("%s: %w", battleID, registry.ErrBattleNotFound)
	}
	st.ready[userID] = true
	st.updatedAt = time.Now()
	if st.firstPlayer != "" || len(st.ready) < len(sess.Participants) {
		return st.firstPlayer, false, nil
	}
	st.firstPlayer = sess.Participants[m.rnd.Intn(len(sess.Participants))].UserID
	return st.firstPlayer, true, nil
}

// FirstTurn returns the first player once decided.
func (m *Manager) FirstTurn(battleID uuid.UUID) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[battleID]
	if !ok || st.firstPlayer == "" {
		return "", false
	}
	return st.firstPlayer, true
}
