package model

import (
	"time"

	"gorm.io/datatypes"

	"gitlab.com/timkado/api/daisi-cs-bot-engine/pkg/utils"
)

// Message directions. SYS is part of the ledger schema for manually
// injected rows; the processor itself writes IN, OUT and FWD.
const (
	DirectionIn      = "IN"
	DirectionOut     = "OUT"
	DirectionForward = "FWD"
	DirectionSystem  = "SYS"
)

// Outbound delivery statuses; unset for inbound rows
const (
	StatusSent   = "SENT"
	StatusFailed = "FAILED"
)

// Meta kinds tag why a ledger row was produced
const (
	MetaCSCommand         = "CS_COMMAND"
	MetaCSNonCommand      = "CS_NON_COMMAND"
	MetaRateLimited       = "RATE_LIMITED"
	MetaSensitiveWarning  = "SENSITIVE_WARNING"
	MetaSensitiveMasked   = "SENSITIVE_MASKED"
	MetaMenuAfterSensitive = "MENU_AFTER_SENSITIVE"
	MetaHumanForward      = "HUMAN_FORWARD"
	MetaMenu              = "MENU"
	MetaBotReply          = "BOT_REPLY"
	MetaBotForward        = "BOT_FORWARD"
	MetaOrderPlaceholder  = "ORDER_PLACEHOLDER"
	MetaInvalidMenuNumber = "INVALID_MENU_NUMBER"
	MetaFallback          = "FALLBACK"
	MetaAdminNotifyBot    = "ADMIN_NOTIFY_BOT"
	MetaAdminNotifyHuman  = "ADMIN_NOTIFY_HUMAN"
	MetaAdminTakeover     = "ADMIN_TAKEOVER_NOTIFY"
	MetaAdminManual       = "ADMIN_MANUAL"
)

// Message is one row of the append-only conversation ledger.
// Rows are never updated or deleted; display ordering is created_at DESC.
type Message struct {
	ID         int64          `json:"-" gorm:"column:id;primaryKey;autoIncrement"`
	UserID     int64          `json:"-" gorm:"column:user_id;index:idx_messages_user_created;not null"`
	Direction  string         `json:"direction" gorm:"column:direction;not null"`
	MessageID  *string        `json:"message_id,omitempty" gorm:"column:message_id;index"`
	FromNumber *string        `json:"from_number,omitempty" gorm:"column:from_number"`
	ToNumber   *string        `json:"to_number,omitempty" gorm:"column:to_number"`
	Text       string         `json:"text" gorm:"column:text;not null"`
	Timestamp  int64          `json:"timestamp" gorm:"column:timestamp;not null"`
	Status     *string        `json:"status,omitempty" gorm:"column:status"`
	Error      *string        `json:"error,omitempty" gorm:"column:error"`
	Meta       datatypes.JSON `json:"meta,omitempty" gorm:"type:jsonb;column:meta"`
	CreatedAt  time.Time      `json:"created_at,omitempty" gorm:"column:created_at;index:idx_messages_user_created;autoCreateTime"`
}

// TableName specifies the table name for GORM
func (Message) TableName() string {
	return "messages"
}

// MessageMeta is the structured tag serialized into the meta column
type MessageMeta struct {
	Kind      string `json:"kind"`
	MenuID    *int   `json:"menu_id,omitempty"`
	OrderNo   string `json:"order_no,omitempty"`
	Sensitive string `json:"sensitive,omitempty"`
	Command   string `json:"cmd,omitempty"`
	Target    string `json:"target,omitempty"`
}

// JSON serializes the meta tag for the jsonb column
func (m MessageMeta) JSON() datatypes.JSON {
	return datatypes.JSON(utils.MustMarshalJSON(m))
}

// Meta builds a plain kind-only tag
func Meta(kind string) MessageMeta {
	return MessageMeta{Kind: kind}
}

// StrPtr returns a pointer to s, or nil when s is empty
func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
