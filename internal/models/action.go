package models

// ActionKind is the discriminant of a play-loop frame. The set is closed: every kind a
// client may send has exactly one handler, and system kinds are only ever produced by the
// server.
type ActionKind string

// Client kinds.
const (
	ActionJoin       ActionKind = "join"
	ActionReady      ActionKind = "ready"
	ActionGetState   ActionKind = "get_state"
	ActionPlayCard   ActionKind = "play_card"
	ActionAttack     ActionKind = "attack"
	ActionUseAbility ActionKind = "use_ability"
	ActionEndTurn    ActionKind = "end_turn"
	ActionSurrender  ActionKind = "surrender"
	ActionBattleEnd  ActionKind = "battle_end"
)

// System kinds.
const (
	EventBattleState        ActionKind = "battle_state"
	EventPlayerReconnected  ActionKind = "player_reconnected"
	EventPlayerDisconnected ActionKind = "player_disconnected"
	EventFirstTurn          ActionKind = "first_turn"
	EventTurnStarted        ActionKind = "turn_started"
	EventTurnTimeout        ActionKind = "turn_timeout"
	EventError              ActionKind = "error"
)

// ClientKinds lists every kind a client is allowed to send.
var ClientKinds = []ActionKind{
	ActionJoin,
	ActionReady,
	ActionGetState,
	ActionPlayCard,
	ActionAttack,
	ActionUseAbility,
	ActionEndTurn,
	ActionSurrender,
	ActionBattleEnd,
}

// TurnBound reports whether the kind may only be sent by the current turn owner when turn
// order is enforced.
func (k ActionKind) TurnBound() bool {
	switch k {
	case ActionPlayCard, ActionAttack, ActionUseAbility, ActionEndTurn:
		return true
	}
	return false
}
