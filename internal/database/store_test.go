package database

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/arena/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testStore connects to TEST_DATABASE_URL and applies the schema. Tests are skipped when
// no database is configured.
func testStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := Connect(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	s := NewStore(pool)
	require.NoError(t, s.Migrate(ctx))
	return s
}

func newBattle(a, b string) (*models.Battle, []models.BattleDetail) {
	battle := &models.Battle{
		ID:        uuid.New(),
		Status:    models.BattleInProgress,
		PlayerA:   a,
		PlayerB:   b,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	details := []models.BattleDetail{
		{BattleID: battle.ID, UserID: a, OpponentID: b, Mode: models.ModeRanked},
		{BattleID: battle.ID, UserID: b, OpponentID: a, Mode: models.ModeRanked},
	}
	return battle, details
}

func TestCreateAndFinishBattle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	a, b := "user-"+uuid.NewString(), "user-"+uuid.NewString()

	battle, details := newBattle(a, b)
	require.NoError(t, s.CreateBattle(ctx, battle, details))

	got, err := s.GetBattle(ctx, battle.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.BattleInProgress, got.Status)

	status, err := s.GetUserStatus(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, models.UserInBattle, status)

	require.NoError(t, s.FinishBattle(ctx, battle.ID, a, b))
	got, err = s.GetBattle(ctx, battle.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BattleFinished, got.Status)
	assert.Equal(t, a, got.WinnerID)
	assert.NotNil(t, got.FinishedAt)

	status, err = s.GetUserStatus(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, models.UserOnline, status)
}

func TestCreateBattleRollsBackOnFailure(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	a := "user-" + uuid.NewString()

	battle, details := newBattle(a, "user-"+uuid.NewString())
	details = append(details, details[0]) // duplicate primary key
	require.Error(t, s.CreateBattle(ctx, battle, details))

	got, err := s.GetBattle(ctx, battle.ID)
	require.NoError(t, err)
	assert.Nil(t, got, "no partial battle may survive")

	status, err := s.GetUserStatus(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, models.UserOffline, status)
}

func TestInsertEventsAndReset(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	battle, details := newBattle("user-"+uuid.NewString(), "user-"+uuid.NewString())
	require.NoError(t, s.CreateBattle(ctx, battle, details))

	payload, _ := json.Marshal(map[string]int{"card_id": 3})
	events := []models.BattleEvent{
		{BattleID: battle.ID, ActionIndex: 1, ActorID: battle.PlayerA, Kind: models.ActionPlayCard, Payload: payload, Timestamp: time.Now().UnixMilli()},
		{BattleID: battle.ID, ActionIndex: 2, ActorID: battle.PlayerB, Kind: models.ActionEndTurn, Timestamp: time.Now().UnixMilli()},
	}
	require.NoError(t, s.InsertBattleEvents(ctx, events))
	require.NoError(t, s.InsertBattleEvents(ctx, events[:1]), "replayed events are ignored")

	require.NoError(t, s.ResetAll(ctx))
	got, err := s.GetBattle(ctx, battle.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDeckAndTitanLookups(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	deckID := time.Now().UnixNano()
	cards, _ := json.Marshal([]models.Card{{ID: 1, TemplateID: 10}, {ID: 2, TemplateID: 11}})
	_, err := s.pool.Exec(ctx, `INSERT INTO decks (id, owner_id, name, cards) VALUES ($1, 'p1', 'main', $2)`, deckID, cards)
	require.NoError(t, err)
	_, err = s.pool.Exec(ctx, `INSERT INTO titans (id, owner_id, name, is_free) VALUES ($1, 'p2', 'Rhino', FALSE)
	                           ON CONFLICT (id) DO NOTHING`, deckID)
	require.NoError(t, err)

	deck, err := s.GetDeck(ctx, deckID)
	require.NoError(t, err)
	require.NotNil(t, deck)
	assert.Len(t, deck.Cards, 2)

	missing, err := s.GetDeck(ctx, -deckID)
	require.NoError(t, err)
	assert.Nil(t, missing)

	titan, err := s.GetOwnedTitan(ctx, deckID)
	require.NoError(t, err)
	require.NotNil(t, titan)
	assert.Equal(t, "Rhino", titan.Name)
}
