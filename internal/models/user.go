package models

// UserStatus is the global presence value kept in user_data.
type UserStatus int

const (
	UserOffline UserStatus = iota
	UserOnline
	UserInBattle
)

func (s UserStatus) String() string {
	switch s {
	case UserOnline:
		return "online"
	case UserInBattle:
		return "in_battle"
	default:
		return "offline"
	}
}

type UserData struct {
	UserID string     `json:"user_id"`
	Status UserStatus `json:"status"`
}
