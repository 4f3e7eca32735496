// Package registry tracks which identities are waiting in a lobby or bound to a battle, and
// the live connection state of every battle's two participants.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jason-s-yu/arena/internal/models"
	"github.com/jason-s-yu/arena/internal/stream"
)

var (
	ErrAlreadyQueued   = errors.New("already waiting in a lobby")
	ErrAlreadyInBattle = errors.New("already in a battle")
	ErrBattleExists    = errors.New("battle already registered")
	ErrBattleNotFound  = errors.New("battle not found")
	ErrNotParticipant  = errors.New("not a participant of this battle")
	ErrNotDisconnected = errors.New("participant is not disconnected")
	ErrTurnNotStarted  = errors.New("no turn has started")
	ErrTurnMoved       = errors.New("turn already moved on")
)

type ConnectionState int

const (
	Connected ConnectionState = iota
	Disconnected
)

func (s ConnectionState) String() string {
	if s == Disconnected {
		return "disconnected"
	}
	return "connected"
}

// LobbyKind says which pool an identity is waiting in.
type LobbyKind int

const (
	LobbyDirect LobbyKind = iota
	LobbyRanked
)

// Participant is a copy of one side of a session. Stream is nil until the play loop
// attaches.
type Participant struct {
	UserID string
	State  ConnectionState
	Stream stream.Sender
}

type TurnState struct {
	Owner  string `json:"owner"`
	Number int    `json:"number"`
}

// Snapshot is a copy of a session safe to read without the registry lock.
type Snapshot struct {
	BattleID     uuid.UUID
	Mode         models.BattleMode
	Participants [2]Participant
	Turn         TurnState
	Abandoned    bool
}

type session struct {
	battleID     uuid.UUID
	mode         models.BattleMode
	participants [2]Participant
	turn         TurnState
	abandoned    bool
}

func (s *session) index(userID string) int {
	for i := range s.participants {
		if s.participants[i].UserID == userID {
			return i
		}
	}
	return -1
}

func (s *session) snapshot() Snapshot {
	return Snapshot{
		BattleID:     s.battleID,
		Mode:         s.mode,
		Participants: s.participants,
		Turn:         s.turn,
		Abandoned:    s.abandoned,
	}
}

// Registry is safe for concurrent use. Every exported method is one critical section.
type Registry struct {
	mu         sync.Mutex
	lobby      map[string]LobbyKind
	battles    map[uuid.UUID]*session
	userBattle map[string]uuid.UUID
}

func New() *Registry {
	return &Registry{
		lobby:      make(map[string]LobbyKind),
		battles:    make(map[uuid.UUID]*session),
		userBattle: make(map[string]uuid.UUID),
	}
}

// EnterLobby records userID as waiting. It fails without side effects when the identity is
// already waiting anywhere or bound to a battle.
func (r *Registry) EnterLobby(userID string, kind LobbyKind) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.userBattle[userID]; ok {
		return fmt.Errorf("%s: %w", userID, ErrAlreadyInBattle)
	}
	if _, ok := r.lobby[userID]; ok {
		return fmt.Errorf("%s: %w", userID, ErrAlreadyQueued)
	}
	r.lobby[userID] = kind
	return nil
}

func (r *Registry) LeaveLobby(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.lobby, userID)
}

func (r *Registry) IsInLobby(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.lobby[userID]
	return ok
}

func (r *Registry) IsInBattle(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.userBattle[userID]
	return ok
}

// OpenBattle binds two identities into a new session and moves them out of the lobby.
// Both participants start Connected with no stream attached.
func (r *Registry) OpenBattle(battleID uuid.UUID, mode models.BattleMode, a, b string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.battles[battleID]; ok {
		return fmt.Errorf("%s: %w", battleID, ErrBattleExists)
	}
	for _, id := range []string{a, b} {
		if _, ok := r.userBattle[id]; ok {
			return fmt.Errorf("%s: %w", id, ErrAlreadyInBattle)
		}
	}
	r.battles[battleID] = &session{
		battleID: battleID,
		mode:     mode,
		participants: [2]Participant{
			{UserID: a, State: Connected},
			{UserID: b, State: Connected},
		},
	}
	for _, id := range []string{a, b} {
		delete(r.lobby, id)
		r.userBattle[id] = battleID
	}
	return nil
}

// AddParticipant attaches the play-loop stream of userID to its session.
func (r *Registry) AddParticipant(battleID uuid.UUID, userID string, s stream.Sender) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, err := r.live(battleID)
	if err != nil {
		return err
	}
	i := sess.index(userID)
	if i < 0 {
		return fmt.Errorf("%s in %s: %w", userID, battleID, ErrNotParticipant)
	}
	sess.participants[i].State = Connected
	sess.participants[i].Stream = s
	return nil
}

// MarkDisconnected flips userID to Disconnected and returns its entry as it was before.
// When the other side is already disconnected the session becomes abandoned: it can no
// longer be reconnected and the caller is expected to remove it.
func (r *Registry) MarkDisconnected(battleID uuid.UUID, userID string) (prev Participant, abandoned bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.battles[battleID]
	if !ok {
		return Participant{}, false, fmt.Errorf("%s: %w", battleID, ErrBattleNotFound)
	}
	i := sess.index(userID)
	if i < 0 {
		return Participant{}, false, fmt.Errorf("%s in %s: %w", userID, battleID, ErrNotParticipant)
	}
	prev = sess.participants[i]
	sess.participants[i].State = Disconnected
	sess.participants[i].Stream = nil
	if sess.participants[1-i].State == Disconnected {
		sess.abandoned = true
	}
	return prev, sess.abandoned, nil
}

// GetDisconnectedParticipant returns the single disconnected participant of a live session.
func (r *Registry) GetDisconnectedParticipant(battleID uuid.UUID) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, err := r.live(battleID)
	if err != nil {
		return Participant{}, false
	}
	for _, p := range sess.participants {
		if p.State == Disconnected {
			return p, true
		}
	}
	return Participant{}, false
}

// IsDisconnected reports whether userID is the disconnected participant of a live session.
func (r *Registry) IsDisconnected(battleID uuid.UUID, userID string) bool {
	p, ok := r.GetDisconnectedParticipant(battleID)
	return ok && p.UserID == userID
}

// Reconnect marks the disconnected participant userID as Connected and swaps in s.
func (r *Registry) Reconnect(battleID uuid.UUID, userID string, s stream.Sender) (Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, err := r.live(battleID)
	if err != nil {
		return Participant{}, err
	}
	i := sess.index(userID)
	if i < 0 {
		return Participant{}, fmt.Errorf("%s in %s: %w", userID, battleID, ErrNotParticipant)
	}
	if sess.participants[i].State != Disconnected {
		return Participant{}, fmt.Errorf("%s in %s: %w", userID, battleID, ErrNotDisconnected)
	}
	sess.participants[i].State = Connected
	sess.participants[i].Stream = s
	return sess.participants[i], nil
}

// Session returns a copy of the battle's session, including abandoned ones.
func (r *Registry) Session(battleID uuid.UUID) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.battles[battleID]
	if !ok {
		return Snapshot{}, false
	}
	return sess.snapshot(), true
}

// Opponent returns the other participant of userID's session.
func (r *Registry) Opponent(battleID uuid.UUID, userID string) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.battles[battleID]
	if !ok {
		return Participant{}, false
	}
	i := sess.index(userID)
	if i < 0 {
		return Participant{}, false
	}
	return sess.participants[1-i], true
}

// RemoveAllForBattle drops the session and frees both identities. It returns the removed
// participants; a second call returns nil.
func (r *Registry) RemoveAllForBattle(battleID uuid.UUID) []Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.battles[battleID]
	if !ok {
		return nil
	}
	delete(r.battles, battleID)
	for _, p := range sess.participants {
		if r.userBattle[p.UserID] == battleID {
			delete(r.userBattle, p.UserID)
		}
	}
	out := make([]Participant, len(sess.participants))
	copy(out, sess.participants[:])
	return out
}

// ClearTurnState resets turn bookkeeping. Unknown battles are ignored.
func (r *Registry) ClearTurnState(battleID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.battles[battleID]; ok {
		sess.turn = TurnState{}
	}
}

func (r *Registry) Turn(battleID uuid.UUID) (TurnState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.battles[battleID]
	if !ok {
		return TurnState{}, false
	}
	return sess.turn, true
}

// SetTurn hands the turn to owner and bumps the turn number.
func (r *Registry) SetTurn(battleID uuid.UUID, owner string) (TurnState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, err := r.live(battleID)
	if err != nil {
		return TurnState{}, err
	}
	if sess.index(owner) < 0 {
		return TurnState{}, fmt.Errorf("%s in %s: %w", owner, battleID, ErrNotParticipant)
	}
	sess.turn.Owner = owner
	sess.turn.Number++
	return sess.turn, nil
}

// AdvanceTurn passes the turn to the other participant.
func (r *Registry) AdvanceTurn(battleID uuid.UUID) (TurnState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, err := r.live(battleID)
	if err != nil {
		return TurnState{}, err
	}
	i := sess.index(sess.turn.Owner)
	if i < 0 {
		return TurnState{}, fmt.Errorf("%s: %w", battleID, ErrTurnNotStarted)
	}
	sess.turn.Owner = sess.participants[1-i].UserID
	sess.turn.Number++
	return sess.turn, nil
}

// PassTurn advances the turn only if it is still from. Expiring turn clocks use it so a
// turn that was ended in the meantime is not passed twice.
func (r *Registry) PassTurn(battleID uuid.UUID, from TurnState) (TurnState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, err := r.live(battleID)
	if err != nil {
		return TurnState{}, err
	}
	if sess.turn != from {
		return TurnState{}, fmt.Errorf("%s turn %d: %w", battleID, from.Number, ErrTurnMoved)
	}
	i := sess.index(from.Owner)
	if i < 0 {
		return TurnState{}, fmt.Errorf("%s: %w", battleID, ErrTurnNotStarted)
	}
	sess.turn.Owner = sess.participants[1-i].UserID
	sess.turn.Number++
	return sess.turn, nil
}

// live returns a session that can still be joined. Assumes r.mu is held.
func (r *Registry) live(battleID uuid.UUID) (*session, error) {
	sess, ok := r.battles[battleID]
	if !ok || sess.abandoned {
		return nil, fmt.Errorf("%s: %w", battleID, ErrBattleNotFound)
	}
	return sess, nil
}
