// Package assets resolves the decks and titans players bring into a battle.
package assets

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/jason-s-yu/arena/internal/models"
)

var ErrDeckNotFound = errors.New("requested deck does not exist")

// DeckRepository loads a stored deck. A missing deck is (nil, nil).
type DeckRepository interface {
	GetDeck(ctx context.Context, id int64) (*models.Deck, error)
}

// DeckService returns shuffled copies of stored decks.
type DeckService struct {
	repo DeckRepository

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewDeckService(repo DeckRepository) *DeckService {
	return NewDeckServiceWithSource(repo, rand.NewSource(time.Now().UnixNano()))
}

// NewDeckServiceWithSource is NewDeckService with a fixed random source, for tests.
func NewDeckServiceWithSource(repo DeckRepository, src rand.Source) *DeckService {
	return &DeckService{repo: repo, rnd: rand.New(src)}
}

// ShuffledDeck loads deck id and returns a copy with its cards in random order.
func (s *DeckService) ShuffledDeck(ctx context.Context, id int64) (*models.Deck, error) {
	deck, err := s.repo.GetDeck(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load deck %d: %w", id, err)
	}
	if deck == nil {
		return nil, fmt.Errorf("deck %d: %w", id, ErrDeckNotFound)
	}

	shuffled := deck.Clone()
	s.mu.Lock()
	s.rnd.Shuffle(len(shuffled.Cards), func(i, j int) {
		shuffled.Cards[i], shuffled.Cards[j] = shuffled.Cards[j], shuffled.Cards[i]
	})
	s.mu.Unlock()
	return shuffled, nil
}
