package models

// Titan is the hero unit a player brings into battle. Positive ids are owned assets,
// zero and negative ids belong to the free catalog.
type Titan struct {
	ID      int64  `json:"id"`
	OwnerID string `json:"owner_id,omitempty"`
	Name    string `json:"name"`
	Level   int    `json:"level"`
	Health  int    `json:"health"`
	Attack  int    `json:"attack"`
	Free    bool   `json:"free"`
}

// IsOwnedRef reports whether a titan reference points at owned storage.
func IsOwnedRef(titanID int64) bool {
	return titanID > 0
}
