package database

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/arena/internal/models"
)

//go:embed schema.sql
var schema string

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the postgres-backed persistence used by the battle service and the historian.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates any missing tables.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// UnitOfWork exposes one repository per entity, all bound to the same transaction.
type UnitOfWork struct {
	Battles       BattleRepository
	BattleDetails BattleDetailRepository
	BattleEvents  BattleEventRepository
	UserData      UserDataRepository
}

func newUnitOfWork(q querier) *UnitOfWork {
	return &UnitOfWork{
		Battles:       BattleRepository{q: q},
		BattleDetails: BattleDetailRepository{q: q},
		BattleEvents:  BattleEventRepository{q: q},
		UserData:      UserDataRepository{q: q},
	}
}

// Do runs fn inside one transaction. Returning nil commits every write fn made through
// the unit of work; any error rolls all of them back.
func (s *Store) Do(ctx context.Context, fn func(uow *UnitOfWork) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(newUnitOfWork(tx))
	})
}

// CreateBattle stores the battle, its per-player details and both players' in-battle
// status as one unit.
func (s *Store) CreateBattle(ctx context.Context, battle *models.Battle, details []models.BattleDetail) error {
	err := s.Do(ctx, func(uow *UnitOfWork) error {
		if err := uow.Battles.Insert(ctx, battle); err != nil {
			return err
		}
		for _, d := range details {
			if err := uow.BattleDetails.Insert(ctx, d); err != nil {
				return err
			}
			if err := uow.UserData.SetStatus(ctx, d.UserID, models.UserInBattle); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create battle %s: %w", battle.ID, err)
	}
	return nil
}

// FinishBattle records the winner and puts both players back online.
func (s *Store) FinishBattle(ctx context.Context, battleID uuid.UUID, winnerID, loserID string) error {
	err := s.Do(ctx, func(uow *UnitOfWork) error {
		if err := uow.Battles.Finish(ctx, battleID, winnerID, time.Now()); err != nil {
			return err
		}
		for _, id := range []string{winnerID, loserID} {
			if err := uow.UserData.SetStatus(ctx, id, models.UserOnline); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to finish battle %s: %w", battleID, err)
	}
	return nil
}

// ResetAll deletes every battle and battle event.
func (s *Store) ResetAll(ctx context.Context) error {
	return s.Do(ctx, func(uow *UnitOfWork) error {
		if _, err := uow.BattleEvents.DeleteAll(ctx); err != nil {
			return err
		}
		_, err := uow.Battles.DeleteAll(ctx)
		return err
	})
}

// InsertBattleEvents writes a batch of logged actions in one transaction.
func (s *Store) InsertBattleEvents(ctx context.Context, events []models.BattleEvent) error {
	return s.Do(ctx, func(uow *UnitOfWork) error {
		for _, e := range events {
			if err := uow.BattleEvents.Insert(ctx, e); err != nil {
				return fmt.Errorf("insert event %s/%d: %w", e.BattleID, e.ActionIndex, err)
			}
		}
		return nil
	})
}

// GetBattle returns the battle row or nil when it does not exist.
func (s *Store) GetBattle(ctx context.Context, id uuid.UUID) (*models.Battle, error) {
	return BattleRepository{q: s.pool}.Get(ctx, id)
}

func (s *Store) GetDeck(ctx context.Context, id int64) (*models.Deck, error) {
	return DeckRepository{q: s.pool}.Get(ctx, id)
}

func (s *Store) GetOwnedTitan(ctx context.Context, id int64) (*models.Titan, error) {
	return TitanRepository{q: s.pool}.GetOwned(ctx, id)
}

func (s *Store) ListFreeTitans(ctx context.Context) ([]models.Titan, error) {
	return TitanRepository{q: s.pool}.ListFree(ctx)
}

func (s *Store) GetUserStatus(ctx context.Context, userID string) (models.UserStatus, error) {
	return UserDataRepository{q: s.pool}.Status(ctx, userID)
}
