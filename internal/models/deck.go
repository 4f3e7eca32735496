package models

// Card is an opaque reference to a card template; card rules live elsewhere.
type Card struct {
	ID         int64 `json:"id"`
	TemplateID int64 `json:"template_id"`
}

type Deck struct {
	ID      int64  `json:"id"`
	OwnerID string `json:"owner_id"`
	Name    string `json:"name"`
	Cards   []Card `json:"cards"`
}

// Clone returns a deep copy so callers can reorder cards without touching the source.
func (d *Deck) Clone() *Deck {
	if d == nil {
		return nil
	}
	cp := *d
	cp.Cards = make([]Card, len(d.Cards))
	copy(cp.Cards, d.Cards)
	return &cp
}
