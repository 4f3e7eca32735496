// Package battle creates battles, builds each side's start payload and keeps the
// authoritative per-battle state used to resynchronize reconnecting clients.
package battle

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/arena/internal/assets"
	"github.com/jason-s-yu/arena/internal/matchmaking"
	"github.com/jason-s-yu/arena/internal/models"
	"github.com/jason-s-yu/arena/internal/registry"
	"github.com/sirupsen/logrus"
)

var ErrNotParticipant = errors.New("not a participant of this battle")

// Store persists battles. Each method is one unit of work.
type Store interface {
	CreateBattle(ctx context.Context, battle *models.Battle, details []models.BattleDetail) error
	FinishBattle(ctx context.Context, battleID uuid.UUID, winnerID, loserID string) error
	ResetAll(ctx context.Context) error
}

// DeckSource returns a shuffled copy of a stored deck, or assets.ErrDeckNotFound.
type DeckSource interface {
	ShuffledDeck(ctx context.Context, id int64) (*models.Deck, error)
}

// TitanSource resolves a titan reference; an unknown reference is (nil, nil).
type TitanSource interface {
	Resolve(ctx context.Context, id int64) (*models.Titan, error)
}

// Evictor releases a ranked-pool entry that cannot be turned into a battle.
type Evictor interface {
	Evict(userID string)
}

// Contender is one side of a battle about to be created.
type Contender struct {
	UserID string
	Mode   models.BattleMode
}

type state struct {
	mode        models.BattleMode
	ready       map[string]bool
	firstPlayer string
	actionCount int
	lastAction  *models.BattleData
	updatedAt   time.Time
}

type Manager struct {
	store  Store
	decks  DeckSource
	titans TitanSource
	reg    *registry.Registry
	ranked Evictor
	log    logrus.FieldLogger

	mu     sync.Mutex
	states map[uuid.UUID]*state
	rnd    *rand.Rand
}

func NewManager(store Store, decks DeckSource, titans TitanSource, reg *registry.Registry, ranked Evictor, log logrus.FieldLogger) *Manager {
	return &Manager{
		store:  store,
		decks:  decks,
		titans: titans,
		reg:    reg,
		ranked: ranked,
		log:    log,
		states: make(map[uuid.UUID]*state),
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// CreateBattle persists a new battle for a and b together with their detail rows and
// in-battle status. Nothing is stored if any part fails.
func (m *Manager) CreateBattle(ctx context.Context, a, b Contender) (*models.Battle, error) {
	battle := &models.Battle{
		ID:        uuid.New(),
		Status:    models.BattleInProgress,
		PlayerA:   a.UserID,
		PlayerB:   b.UserID,
		CreatedAt: time.Now().UTC(),
	}
	details := []models.BattleDetail{
		{BattleID: battle.ID, UserID: a.UserID, OpponentID: b.UserID, Mode: a.Mode},
		{BattleID: battle.ID, UserID: b.UserID, OpponentID: a.UserID, Mode: b.Mode},
	}
	if err := m.store.CreateBattle(ctx, battle, details); err != nil {
		return nil, err
	}
	m.log.WithFields(logrus.Fields{
		"battle_id": battle.ID,
		"player_a":  a.UserID,
		"player_b":  b.UserID,
	}).Info("battle created")
	return battle, nil
}

// BindParticipants opens the in-memory session for a created battle.
func (m *Manager) BindParticipants(battle *models.Battle, a, b Contender) error {
	if err := m.reg.OpenBattle(battle.ID, a.Mode, a.UserID, b.UserID); err != nil {
		return fmt.Errorf("failed to bind participants of %s: %w", battle.ID, err)
	}
	m.mu.Lock()
	m.states[battle.ID] = &state{
		mode:      a.Mode,
		ready:     make(map[string]bool, 2),
		updatedAt: time.Now(),
	}
	m.mu.Unlock()
	return nil
}

// BuildStartPayload resolves the player's shuffled deck and titan. A missing deck fails the
// payload and, for ranked-pool players, evicts the player from the pool. An unresolved
// titan leaves the field nil.
func (m *Manager) BuildStartPayload(ctx context.Context, w *matchmaking.WaitingPlayer) (models.StartPayload, error) {
	deck, err := m.decks.ShuffledDeck(ctx, w.DeckID)
	if err != nil {
		if errors.Is(err, assets.ErrDeckNotFound) && w.Mode.Pooled() && m.ranked != nil {
			m.ranked.Evict(w.UserID)
		}
		return models.StartPayload{}, err
	}

	titan, err := m.titans.Resolve(ctx, w.TitanID)
	if err != nil {
		return models.StartPayload{}, err
	}
	if titan == nil {
		m.log.WithFields(logrus.Fields{"user_id": w.UserID, "titan_id": w.TitanID}).Warn("titan not resolved")
	}

	return models.StartPayload{
		UserID:   w.UserID,
		UserName: w.UserName,
		Rank:     w.Rank,
		MMR:      w.MMR,
		Deck:     deck,
		Titan:    titan,
	}, nil
}

// FinishBattle records the result and returns both players to the online status.
func (m *Manager) FinishBattle(ctx context.Context, battleID uuid.UUID, winnerID, loserID string) error {
	return m.store.FinishBattle(ctx, battleID, winnerID, loserID)
}

// ResetAll deletes every persisted battle and battle event.
func (m *Manager) ResetAll(ctx context.Context) error {
	return m.store.ResetAll(ctx)
}

// Release drops the in-memory state of a battle, including its first-turn decision.
// Unknown battles are ignored.
func (m *Manager) Release(battleID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, battleID)
}
