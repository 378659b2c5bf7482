package storage

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm/clause"

	"gitlab.com/timkado/api/daisi-cs-bot-engine/internal/model"
	"gitlab.com/timkado/api/daisi-cs-bot-engine/internal/observer"
	"gitlab.com/timkado/api/daisi-cs-bot-engine/pkg/logger"
	"gitlab.com/timkado/api/daisi-cs-bot-engine/pkg/utils"
)

// InsertMessage appends one row to the conversation ledger. The ledger is
// append-only; there is deliberately no update or delete counterpart.
func (r *PostgresRepo) InsertMessage(ctx context.Context, message model.Message) error {
	operation := func() error {
		return r.db.WithContext(ctx).Create(&message).Error
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "InsertMessage", operation)
	observer.ObserveDbOperationDuration("insert", "message", time.Since(startTime), err)

	if err != nil {
		logger.FromContext(ctx).Error("Failed to insert ledger message",
			zap.String("direction", message.Direction),
			zap.Int64("user_id", message.UserID),
			zap.Error(err),
		)
		return wrapDBError(err)
	}
	return nil
}

// ListMessagesByUser pages a user's ledger newest-first. Ordering is by
// created_at (ledger insertion time), not the event timestamp.
func (r *PostgresRepo) ListMessagesByUser(ctx context.Context, waNumber string, limit, offset int) ([]model.Message, error) {
	var messages []model.Message

	operation := func() error {
		return r.db.WithContext(ctx).
			Joins("JOIN users ON users.id = messages.user_id").
			Where("users.wa_number = ?", waNumber).
			Order("messages.created_at DESC").
			Limit(limit).
			Offset(offset).
			Find(&messages).Error
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, readPolicy, "ListMessagesByUser", operation)
	observer.ObserveDbOperationDuration("list", "message", time.Since(startTime), err)

	if err != nil {
		return nil, wrapDBError(err)
	}
	return messages, nil
}

// TryMarkProcessed is the exactly-once gate: INSERT ... ON CONFLICT DO
// NOTHING on the message_id primary key, with rows-affected telling the
// first insert apart from a replay. Linearizable per key because the
// conflict check and the insert are a single statement.
func (r *PostgresRepo) TryMarkProcessed(ctx context.Context, messageID string) (bool, error) {
	var inserted bool

	operation := func() error {
		result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}},
			DoNothing: true,
		}).Create(&model.ProcessedEvent{
			MessageID:   messageID,
			ProcessedAt: utils.NowUnixMs(),
		})
		if result.Error != nil {
			return result.Error
		}
		inserted = result.RowsAffected > 0
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "TryMarkProcessed", operation)
	observer.ObserveDbOperationDuration("insert", "processed_event", time.Since(startTime), err)

	if err != nil {
		logger.FromContext(ctx).Error("Failed to mark event processed",
			zap.String("message_id", messageID), zap.Error(err))
		return false, wrapDBError(err)
	}
	return inserted, nil
}
