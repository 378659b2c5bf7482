package storage

import (
	"context"

	"gitlab.com/timkado/api/daisi-cs-bot-engine/internal/model"
)

// UserRepo defines conversation-state storage operations
type UserRepo interface {
	// FindUserByNumber returns the user or a wrapped apperrors.ErrNotFound
	FindUserByNumber(ctx context.Context, waNumber string) (*model.User, error)
	// UpsertUser creates the user with BOT mode and no selected menu, or
	// updates only last_interaction_at when the user already exists.
	UpsertUser(ctx context.Context, waNumber string, lastInteractionAt int64) (*model.User, error)
	// SetUserMode sets the mode and unconditionally clears selected_menu
	SetUserMode(ctx context.Context, waNumber string, mode string) (*model.User, error)
	// SetUserSelectedMenu sets or clears (nil) the selected menu step
	SetUserSelectedMenu(ctx context.Context, waNumber string, menu *int) (*model.User, error)
	// ListUsers pages users ordered by last_interaction_at descending
	ListUsers(ctx context.Context, limit, offset int) ([]model.User, int64, error)
	// SweepTimeouts flips every HUMAN user with last_interaction_at below
	// the cutoff back to BOT in one pass, clearing selected_menu.
	SweepTimeouts(ctx context.Context, cutoffMs int64) (int64, error)
}

// MessageRepo defines append-only ledger operations
type MessageRepo interface {
	InsertMessage(ctx context.Context, message model.Message) error
	// ListMessagesByUser pages a user's ledger newest-first (created_at DESC)
	ListMessagesByUser(ctx context.Context, waNumber string, limit, offset int) ([]model.Message, error)
}

// ProcessedEventRepo is the idempotency gate for inbound events
type ProcessedEventRepo interface {
	// TryMarkProcessed returns true iff this call performed the first
	// insertion for messageID; concurrent calls for the same key see
	// exactly one true.
	TryMarkProcessed(ctx context.Context, messageID string) (bool, error)
}
