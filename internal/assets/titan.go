package assets

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jason-s-yu/arena/internal/models"
	gocache "github.com/patrickmn/go-cache"
)

// TitanRepository reads titans from storage. A missing owned titan is (nil, nil).
type TitanRepository interface {
	GetOwnedTitan(ctx context.Context, id int64) (*models.Titan, error)
	ListFreeTitans(ctx context.Context) ([]models.Titan, error)
}

// unknownTitan marks a free-catalog id that the last catalog load did not contain.
type unknownTitan struct{}

// TitanResolver looks owned titans up on every call and serves the free catalog from an
// in-process cache that is reloaded when it expires.
type TitanResolver struct {
	repo TitanRepository
	free *gocache.Cache
}

func NewTitanResolver(repo TitanRepository, ttl time.Duration) *TitanResolver {
	return &TitanResolver{
		repo: repo,
		free: gocache.New(ttl, 2*ttl),
	}
}

// Resolve returns the titan for a reference: positive ids come from owned storage, zero
// and negative ids from the free catalog. An unknown reference is (nil, nil).
func (r *TitanResolver) Resolve(ctx context.Context, id int64) (*models.Titan, error) {
	if models.IsOwnedRef(id) {
		t, err := r.repo.GetOwnedTitan(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load owned titan %d: %w", id, err)
		}
		return t, nil
	}
	return r.FreeTitan(ctx, id)
}

// FreeTitan returns a free-catalog titan, loading the catalog on a cache miss. Unknown ids
// are remembered for the same TTL as the catalog.
func (r *TitanResolver) FreeTitan(ctx context.Context, id int64) (*models.Titan, error) {
	key := strconv.FormatInt(id, 10)
	if v, ok := r.free.Get(key); ok {
		t, known := v.(models.Titan)
		if !known {
			return nil, nil
		}
		return &t, nil
	}

	catalog, err := r.repo.ListFreeTitans(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load free titan catalog: %w", err)
	}
	var found *models.Titan
	for _, t := range catalog {
		t.Free = true
		r.free.SetDefault(strconv.FormatInt(t.ID, 10), t)
		if t.ID == id {
			cp := t
			found = &cp
		}
	}
	if found == nil {
		r.free.SetDefault(key, unknownTitan{})
	}
	return found, nil
}
