package models

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var ErrInvalidRequest = errors.New("invalid connect request")

// ConnectRequest is the first frame a client sends on a connect stream.
type ConnectRequest struct {
	UserID     string     `json:"user_id"`
	UserName   string     `json:"user_name"`
	Rank       int        `json:"rank"`
	MMR        int        `json:"mmr"`
	DeckID     int64      `json:"deck_id"`
	TitanID    int64      `json:"titan_id"`
	Mode       BattleMode `json:"mode,omitempty"`
	OpponentID string     `json:"opponent_id,omitempty"`
}

// Validate checks the request for the given pairing mode and fills the mode default.
func (r *ConnectRequest) Validate(direct bool) error {
	if r.UserID == "" {
		return fmt.Errorf("%w: missing user_id", ErrInvalidRequest)
	}
	if direct {
		if r.OpponentID == "" {
			return fmt.Errorf("%w: missing opponent_id", ErrInvalidRequest)
		}
		if r.OpponentID == r.UserID {
			return fmt.Errorf("%w: cannot invite yourself", ErrInvalidRequest)
		}
		r.Mode = ModeDirect
		return nil
	}
	if r.Mode == "" {
		r.Mode = ModeRanked
	}
	if !r.Mode.Valid() {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, r.Mode)
	}
	if !r.Mode.Pooled() {
		return fmt.Errorf("%w: mode %q cannot queue in the ranked pool", ErrInvalidRequest, r.Mode)
	}
	return nil
}

// StartPayload is what each side learns about a participant when the battle starts.
type StartPayload struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	Rank     int    `json:"rank"`
	MMR      int    `json:"mmr"`
	Deck     *Deck  `json:"deck"`
	Titan    *Titan `json:"titan"`
}

// ConnectResponse is sent to both connect streams once a battle has been created.
type ConnectResponse struct {
	BattleID uuid.UUID      `json:"battle_id"`
	Users    []StartPayload `json:"users"`
}

// ErrorMessage is written to a stream right before it is closed with an error.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewErrorMessage(msg string) ErrorMessage {
	return ErrorMessage{Type: "error", Message: msg}
}

// BattleData is one play-loop frame in either direction. System is the reserved sender tag
// for frames the server synthesizes; SenderID is empty on those.
type BattleData struct {
	BattleID uuid.UUID       `json:"battle_id"`
	SenderID string          `json:"sender_id,omitempty"`
	System   bool            `json:"system,omitempty"`
	Kind     ActionKind      `json:"kind"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// SystemFrame builds a server-originated frame with a JSON-encoded payload.
func SystemFrame(battleID uuid.UUID, kind ActionKind, payload interface{}) (*BattleData, error) {
	msg := &BattleData{BattleID: battleID, System: true, Kind: kind}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", kind, err)
		}
		msg.Payload = raw
	}
	return msg, nil
}

// Payloads carried by system frames and by battle_end.
type (
	UserPayload struct {
		UserID string `json:"user_id"`
	}

	TurnPayload struct {
		UserID string `json:"user_id"`
		Turn   int    `json:"turn"`
	}

	BattleEndPayload struct {
		WinnerID string `json:"winner_id"`
		LoserID  string `json:"loser_id"`
	}

	ErrorPayload struct {
		Message string `json:"message"`
	}
)
