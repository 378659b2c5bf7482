package model

// ProcessedEvent is the idempotency record for inbound gateway events.
// The primary key on message_id makes insert-if-absent the exactly-once
// gate: the first insert wins, later attempts are no-ops.
type ProcessedEvent struct {
	MessageID   string `json:"message_id" gorm:"column:message_id;primaryKey"`
	ProcessedAt int64  `json:"processed_at" gorm:"column:processed_at;not null"`
}

// TableName specifies the table name for GORM
func (ProcessedEvent) TableName() string {
	return "processed_events"
}
