package model

import (
	"time"
)

// User modes. A user is either answered by the bot or silently forwarded
// to the CS operator; switching mode always clears the selected menu.
const (
	ModeBot   = "BOT"
	ModeHuman = "HUMAN"
)

// User represents one WhatsApp identity known to the bot
type User struct {
	ID                int64     `json:"-" gorm:"column:id;primaryKey;autoIncrement"`
	WaNumber          string    `json:"wa_number" gorm:"column:wa_number;uniqueIndex;not null"`
	Mode              string    `json:"mode" gorm:"column:mode;not null;default:BOT"`
	SelectedMenu      *int      `json:"selected_menu,omitempty" gorm:"column:selected_menu"`
	LastInteractionAt int64     `json:"last_interaction_at" gorm:"column:last_interaction_at;index;not null"`
	CreatedAt         time.Time `json:"created_at,omitempty" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time `json:"updated_at,omitempty" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM
func (User) TableName() string {
	return "users"
}

// InHumanMode reports whether the user is currently handed off to CS
func (u *User) InHumanMode() bool {
	return u != nil && u.Mode == ModeHuman
}
