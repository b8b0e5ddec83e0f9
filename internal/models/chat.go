package models

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatTurn is one side of a question/answer exchange on a matter.
type ChatTurn struct {
	ID        int64     `json:"id"`
	MatterID  string    `json:"matter_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	UserID    string    `json:"user_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
