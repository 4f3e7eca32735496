package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jason-s-yu/arena/internal/models"
)

type BattleRepository struct{ q querier }

func (r BattleRepository) Insert(ctx context.Context, b *models.Battle) error {
	q := `INSERT INTO battles (id, status, player_a, player_b, created_at)
	      VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.q.Exec(ctx, q, b.ID, b.Status, b.PlayerA, b.PlayerB, b.CreatedAt); err != nil {
		return fmt.Errorf("insert battle: %w", err)
	}
	return nil
}

func (r BattleRepository) Finish(ctx context.Context, id uuid.UUID, winnerID string, at time.Time) error {
	q := `UPDATE battles SET status = $2, winner_id = $3, finished_at = $4 WHERE id = $1`
	if _, err := r.q.Exec(ctx, q, id, models.BattleFinished, winnerID, at); err != nil {
		return fmt.Errorf("finish battle: %w", err)
	}
	return nil
}

func (r BattleRepository) Get(ctx context.Context, id uuid.UUID) (*models.Battle, error) {
	var (
		b      models.Battle
		winner *string
	)
	q := `SELECT id, status, player_a, player_b, winner_id, created_at, finished_at
	      FROM battles WHERE id = $1`
	err := r.q.QueryRow(ctx, q, id).Scan(&b.ID, &b.Status, &b.PlayerA, &b.PlayerB, &winner, &b.CreatedAt, &b.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get battle: %w", err)
	}
	if winner != nil {
		b.WinnerID = *winner
	}
	return &b, nil
}

func (r BattleRepository) DeleteAll(ctx context.Context) (int64, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM battles`)
	if err != nil {
		return 0, fmt.Errorf("delete battles: %w", err)
	}
	return tag.RowsAffected(), nil
}

type BattleDetailRepository struct{ q querier }

func (r BattleDetailRepository) Insert(ctx context.Context, d models.BattleDetail) error {
	q := `INSERT INTO battle_details (battle_id, user_id, opponent_id, mode) VALUES ($1, $2, $3, $4)`
	if _, err := r.q.Exec(ctx, q, d.BattleID, d.UserID, d.OpponentID, d.Mode); err != nil {
		return fmt.Errorf("insert battle detail: %w", err)
	}
	return nil
}

type BattleEventRepository struct{ q querier }

func (r BattleEventRepository) Insert(ctx context.Context, e models.BattleEvent) error {
	q := `INSERT INTO battle_events (battle_id, action_index, actor_id, kind, payload, created_at)
	      VALUES ($1, $2, $3, $4, $5, $6)
	      ON CONFLICT (battle_id, action_index) DO NOTHING`
	var payload []byte
	if len(e.Payload) > 0 {
		payload = e.Payload
	}
	_, err := r.q.Exec(ctx, q, e.BattleID, e.ActionIndex, e.ActorID, e.Kind, payload, time.UnixMilli(e.Timestamp))
	if err != nil {
		return fmt.Errorf("insert battle event: %w", err)
	}
	return nil
}

func (r BattleEventRepository) DeleteAll(ctx context.Context) (int64, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM battle_events`)
	if err != nil {
		return 0, fmt.Errorf("delete battle events: %w", err)
	}
	return tag.RowsAffected(), nil
}

type UserDataRepository struct{ q querier }

// SetStatus upserts the user's global status.
func (r UserDataRepository) SetStatus(ctx context.Context, userID string, status models.UserStatus) error {
	q := `INSERT INTO user_data (user_id, user_status, updated_at) VALUES ($1, $2, NOW())
	      ON CONFLICT (user_id) DO UPDATE SET user_status = EXCLUDED.user_status, updated_at = NOW()`
	if _, err := r.q.Exec(ctx, q, userID, int(status)); err != nil {
		return fmt.Errorf("set status for %s: %w", userID, err)
	}
	return nil
}

// Status returns the stored status, Offline for unknown users.
func (r UserDataRepository) Status(ctx context.Context, userID string) (models.UserStatus, error) {
	var s int
	err := r.q.QueryRow(ctx, `SELECT user_status FROM user_data WHERE user_id = $1`, userID).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.UserOffline, nil
	}
	if err != nil {
		return models.UserOffline, fmt.Errorf("get status for %s: %w", userID, err)
	}
	return models.UserStatus(s), nil
}

type DeckRepository struct{ q querier }

// Get returns the deck or nil when it does not exist.
func (r DeckRepository) Get(ctx context.Context, id int64) (*models.Deck, error) {
	var (
		d     models.Deck
		cards []byte
	)
	err := r.q.QueryRow(ctx, `SELECT id, owner_id, name, cards FROM decks WHERE id = $1`, id).
		Scan(&d.ID, &d.OwnerID, &d.Name, &cards)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get deck: %w", err)
	}
	if err := json.Unmarshal(cards, &d.Cards); err != nil {
		return nil, fmt.Errorf("decode cards of deck %d: %w", id, err)
	}
	return &d, nil
}

type TitanRepository struct{ q querier }

const titanColumns = `id, COALESCE(owner_id, ''), name, level, health, attack, is_free`

func scanTitan(row pgx.Row) (models.Titan, error) {
	var t models.Titan
	err := row.Scan(&t.ID, &t.OwnerID, &t.Name, &t.Level, &t.Health, &t.Attack, &t.Free)
	return t, err
}

// GetOwned returns an owned titan or nil when it does not exist.
func (r TitanRepository) GetOwned(ctx context.Context, id int64) (*models.Titan, error) {
	t, err := scanTitan(r.q.QueryRow(ctx, `SELECT `+titanColumns+` FROM titans WHERE id = $1 AND NOT is_free`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get titan: %w", err)
	}
	return &t, nil
}

func (r TitanRepository) ListFree(ctx context.Context) ([]models.Titan, error) {
	rows, err := r.q.Query(ctx, `SELECT `+titanColumns+` FROM titans WHERE is_free ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list free titans: %w", err)
	}
	defer rows.Close()

	var out []models.Titan
	for rows.Next() {
		t, err := scanTitan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan free titan: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
