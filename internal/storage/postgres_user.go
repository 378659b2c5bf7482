package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gitlab.com/timkado/api/daisi-cs-bot-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-cs-bot-engine/internal/model"
	"gitlab.com/timkado/api/daisi-cs-bot-engine/internal/observer"
	"gitlab.com/timkado/api/daisi-cs-bot-engine/pkg/logger"
	"gitlab.com/timkado/api/daisi-cs-bot-engine/pkg/utils"
)

// FindUserByNumber finds a user by canonical WhatsApp number
func (r *PostgresRepo) FindUserByNumber(ctx context.Context, waNumber string) (*model.User, error) {
	var user model.User

	operation := func() error {
		result := r.db.WithContext(ctx).Where("wa_number = ?", waNumber).First(&user)
		return result.Error
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, readPolicy, "FindUserByNumber", operation)
	observer.ObserveDbOperationDuration("find", "user", time.Since(startTime), err)

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: user %s", apperrors.ErrNotFound, waNumber)
		}
		return nil, wrapDBError(err)
	}
	return &user, nil
}

// UpsertUser creates the user lazily on first contact, or bumps only
// last_interaction_at on subsequent ones. Mode and selected menu are never
// touched here so an inbound message cannot silently change conversation
// state.
func (r *PostgresRepo) UpsertUser(ctx context.Context, waNumber string, lastInteractionAt int64) (*model.User, error) {
	user := model.User{
		WaNumber:          waNumber,
		Mode:              model.ModeBot,
		SelectedMenu:      nil,
		LastInteractionAt: lastInteractionAt,
	}

	operation := func() error {
		result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "wa_number"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"last_interaction_at": lastInteractionAt,
				"updated_at":          utils.Now(),
			}),
		}).Create(&user)
		return result.Error
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "UpsertUser", operation)
	observer.ObserveDbOperationDuration("upsert", "user", time.Since(startTime), err)

	if err != nil {
		logger.FromContext(ctx).Error("Failed to upsert user", zap.String("wa_number", waNumber), zap.Error(err))
		return nil, wrapDBError(err)
	}

	// Reload to return the authoritative mode/selected_menu, not the
	// zero-value defaults of the insert struct.
	return r.FindUserByNumber(ctx, waNumber)
}

// SetUserMode sets the mode and clears selected_menu in a single UPDATE,
// enforcing the mode/step exclusivity invariant at the statement level.
func (r *PostgresRepo) SetUserMode(ctx context.Context, waNumber string, mode string) (*model.User, error) {
	if mode != model.ModeBot && mode != model.ModeHuman {
		return nil, fmt.Errorf("%w: invalid mode %q", apperrors.ErrBadRequest, mode)
	}

	var rowsAffected int64
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.User{}).
			Where("wa_number = ?", waNumber).
			Updates(map[string]interface{}{
				"mode":          mode,
				"selected_menu": nil,
				"updated_at":    utils.Now(),
			})
		rowsAffected = result.RowsAffected
		return result.Error
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "SetUserMode", operation)
	observer.ObserveDbOperationDuration("update", "user", time.Since(startTime), err)

	if err != nil {
		logger.FromContext(ctx).Error("Failed to set user mode",
			zap.String("wa_number", waNumber), zap.String("mode", mode), zap.Error(err))
		return nil, wrapDBError(err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("%w: user %s", apperrors.ErrNotFound, waNumber)
	}

	return r.FindUserByNumber(ctx, waNumber)
}

// SetUserSelectedMenu sets or clears the selected menu step
func (r *PostgresRepo) SetUserSelectedMenu(ctx context.Context, waNumber string, menu *int) (*model.User, error) {
	var rowsAffected int64
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.User{}).
			Where("wa_number = ?", waNumber).
			Updates(map[string]interface{}{
				"selected_menu": menu,
				"updated_at":    utils.Now(),
			})
		rowsAffected = result.RowsAffected
		return result.Error
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "SetUserSelectedMenu", operation)
	observer.ObserveDbOperationDuration("update", "user", time.Since(startTime), err)

	if err != nil {
		logger.FromContext(ctx).Error("Failed to set selected menu",
			zap.String("wa_number", waNumber), zap.Error(err))
		return nil, wrapDBError(err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("%w: user %s", apperrors.ErrNotFound, waNumber)
	}

	return r.FindUserByNumber(ctx, waNumber)
}

// ListUsers pages users ordered by most recent interaction
func (r *PostgresRepo) ListUsers(ctx context.Context, limit, offset int) ([]model.User, int64, error) {
	var (
		users []model.User
		total int64
	)

	operation := func() error {
		if err := r.db.WithContext(ctx).Model(&model.User{}).Count(&total).Error; err != nil {
			return err
		}
		return r.db.WithContext(ctx).
			Order("last_interaction_at DESC").
			Limit(limit).
			Offset(offset).
			Find(&users).Error
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, readPolicy, "ListUsers", operation)
	observer.ObserveDbOperationDuration("list", "user", time.Since(startTime), err)

	if err != nil {
		return nil, 0, wrapDBError(err)
	}
	return users, total, nil
}

// SweepTimeouts bulk-reverts stale HUMAN users to BOT in one statement
func (r *PostgresRepo) SweepTimeouts(ctx context.Context, cutoffMs int64) (int64, error) {
	var rowsAffected int64

	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.User{}).
			Where("mode = ? AND last_interaction_at < ?", model.ModeHuman, cutoffMs).
			Updates(map[string]interface{}{
				"mode":          model.ModeBot,
				"selected_menu": nil,
				"updated_at":    utils.Now(),
			})
		rowsAffected = result.RowsAffected
		return result.Error
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "SweepTimeouts", operation)
	observer.ObserveDbOperationDuration("sweep", "user", time.Since(startTime), err)

	if err != nil {
		logger.FromContext(ctx).Error("Failed to sweep timed-out users", zap.Int64("cutoff_ms", cutoffMs), zap.Error(err))
		return 0, wrapDBError(err)
	}
	return rowsAffected, nil
}
