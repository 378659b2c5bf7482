package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"gitlab.com/timkado/api/daisi-cs-bot-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-cs-bot-engine/internal/model"
	"gitlab.com/timkado/api/daisi-cs-bot-engine/pkg/logger"
)

// --- Retry Logic Configuration ---
const (
	defaultRetryInitialInterval = 50 * time.Millisecond
	defaultRetryMaxInterval     = 2 * time.Second
	readRetryMaxElapsedTime     = 5 * time.Second  // More aggressive for reads
	commitRetryMaxElapsedTime   = 15 * time.Second // More tolerant for commits
	connectRetryMaxElapsedTime  = 30 * time.Second
)

// PostgresRepo implements UserRepo, MessageRepo and ProcessedEventRepo
// on a single shared gorm connection.
type PostgresRepo struct {
	db *gorm.DB
}

var (
	_ UserRepo           = (*PostgresRepo)(nil)
	_ MessageRepo        = (*PostgresRepo)(nil)
	_ ProcessedEventRepo = (*PostgresRepo)(nil)
)

// NewPostgresRepo connects to Postgres with retry and optionally migrates
// the conversation schema.
func NewPostgresRepo(dsn string, autoMigrate bool) (*PostgresRepo, error) {
	var db *gorm.DB

	connect := func() error {
		var err error
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger:         gormLogger.Default.LogMode(gormLogger.Silent),
			TranslateError: true,
		})
		if err != nil {
			if isTransientError(err) {
				logger.Log.Warn("Failed to connect to postgres (transient), retrying...", zap.Error(err))
				return err
			}
			return backoff.Permanent(fmt.Errorf("failed to connect to postgres: %w", err))
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = defaultRetryInitialInterval
	policy.MaxInterval = defaultRetryMaxInterval
	policy.MaxElapsedTime = connectRetryMaxElapsedTime

	if err := backoff.Retry(connect, policy); err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrDatabase, err)
	}

	repo := &PostgresRepo{db: db}

	if autoMigrate {
		if err := db.AutoMigrate(&model.User{}, &model.Message{}, &model.ProcessedEvent{}); err != nil {
			return nil, fmt.Errorf("%w: auto-migration failed: %w", apperrors.ErrDatabase, err)
		}
		logger.Log.Info("Postgres schema migrated",
			zap.Strings("tables", []string{"users", "messages", "processed_events"}),
		)
	}

	return repo, nil
}

// Close closes the underlying database connection
func (r *PostgresRepo) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// newRetryPolicy creates a new exponential backoff policy with context awareness.
func newRetryPolicy(ctx context.Context, maxElapsedTime time.Duration) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = defaultRetryInitialInterval
	b.MaxInterval = defaultRetryMaxInterval
	b.MaxElapsedTime = maxElapsedTime
	b.Reset() // Important: Reset before first use
	return backoff.WithContext(b, ctx)
}

// retryableOperation wraps a database operation with retry logic.
func retryableOperation(ctx context.Context, policy backoff.BackOffContext, opName string, operation func() error) error {
	notify := func(err error, d time.Duration) {
		logger.FromContext(ctx).Warn("Retrying DB operation",
			zap.String("operation", opName),
			zap.Error(err),
			zap.Duration("after", d),
		)
	}

	err := backoff.RetryNotify(func() error {
		err := operation()
		if err != nil {
			// Check for non-retryable errors first
			if errors.Is(err, gorm.ErrRecordNotFound) ||
				errors.Is(err, gorm.ErrInvalidTransaction) ||
				errors.Is(err, gorm.ErrDuplicatedKey) ||
				errors.Is(err, gorm.ErrForeignKeyViolated) {
				return backoff.Permanent(err)
			}
			if isTransientError(err) {
				return err // Retry transient errors
			}
			// Treat other errors as permanent by default
			return backoff.Permanent(err)
		}
		return nil
	}, policy, notify)

	return err
}

// isTransientError checks if the error suggests a temporary issue like a network problem.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 (connection exception), class 53 (insufficient
		// resources), 40P01 deadlock, 40001 serialization failure.
		if strings.HasPrefix(pgErr.Code, "08") ||
			strings.HasPrefix(pgErr.Code, "53") ||
			pgErr.Code == "40P01" ||
			pgErr.Code == "40001" {
			return true
		}
	}

	errStr := strings.ToLower(err.Error())
	transientIndicators := []string{
		"connection refused",
		"network is unreachable",
		"i/o timeout",
		"broken pipe",
		"connection reset by peer",
		"could not translate host name",
		"no route to host",
		"database system is starting up",
		"connection timed out",
		"connection reset",
	}
	for _, indicator := range transientIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}

	return false
}

// wrapDBError maps driver errors onto the apperrors taxonomy
func wrapDBError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %w", apperrors.ErrDuplicate, err)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: %w", apperrors.ErrBadRequest, err)
		}
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %w", apperrors.ErrDuplicate, err)
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %w", apperrors.ErrNotFound, err)
	}
	if isTransientError(err) {
		return apperrors.NewRetryable(err, "transient database error")
	}
	return fmt.Errorf("%w: %w", apperrors.ErrDatabase, err)
}
