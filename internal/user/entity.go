package user

import "time"

// User is a registered participant. Name is the display name and acts as
// the join key for task author/assignee fields, so it must stay unique
// across the collection.
type User struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Position           string    `json:"position,omitempty"`
	TelegramID         int64     `json:"telegramId,omitempty"`
	TelegramUsername   string    `json:"telegramUsername,omitempty"`
	Avatar             string    `json:"avatar,omitempty"`
	Username           string    `json:"username,omitempty"`
	PasswordHash       string    `json:"password,omitempty"`
	MustChangePassword bool      `json:"mustChangePassword,omitempty"`
	CreatedAt          time.Time `json:"createdAt,omitempty"`
}

// Public returns a copy safe to hand to API clients.
func (u *User) Public() *User {
	c := *u
	c.PasswordHash = ""
	return &c
}
