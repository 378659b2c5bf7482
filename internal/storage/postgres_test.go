package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"gitlab.com/timkado/api/daisi-cs-bot-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-cs-bot-engine/pkg/logger"
)

// Note on SQL Query Matching in Tests:
// ----------------------------------
// GORM generates SQL with clauses (ORDER BY, LIMIT parameterization) that
// vary between versions, so these tests use QueryMatcherRegexp with loose
// patterns anchored on the table name and the interesting clause instead
// of exact SQL strings.

// newMockRepo creates a PostgresRepo backed by sqlmock
func newMockRepo(t *testing.T) (*PostgresRepo, sqlmock.Sqlmock, func()) {
	t.Helper()
	logger.Log = zaptest.NewLogger(t)

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
		// Prevent GORM from trying to ping the database
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		// Skip default transaction to avoid unexpected BEGIN/COMMIT
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 gormLogger.Default.LogMode(gormLogger.Silent),
	})
	require.NoError(t, err)

	teardown := func() {
		assert.NoError(t, mock.ExpectationsWereMet())
	}
	return &PostgresRepo{db: gormDB}, mock, teardown
}

func TestIsTransientError(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"wrapped deadline exceeded", fmt.Errorf("op failed: %w", context.DeadlineExceeded), true},
		{"gorm record not found", gorm.ErrRecordNotFound, false},
		{"pg connection exception 08000", &pgconn.PgError{Code: "08000"}, true},
		{"pg insufficient resources 53100", &pgconn.PgError{Code: "53100"}, true},
		{"pg deadlock 40P01", &pgconn.PgError{Code: "40P01"}, true},
		{"pg serialization failure 40001", &pgconn.PgError{Code: "40001"}, true},
		{"pg syntax error 42601", &pgconn.PgError{Code: "42601"}, false},
		{"connection refused", errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), true},
		{"io timeout", errors.New("read tcp: i/o timeout"), true},
		{"broken pipe", errors.New("write: broken pipe"), true},
		{"db starting up", errors.New("pq: the database system is starting up"), true},
		{"generic error", errors.New("some other database error"), false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, isTransientError(tc.err))
		})
	}
}

func TestWrapDBError(t *testing.T) {
	testCases := []struct {
		name     string
		inErr    error
		expected error
	}{
		{"nil error", nil, nil},
		{"unique violation 23505", &pgconn.PgError{Code: "23505"}, apperrors.ErrDuplicate},
		{"foreign key violation 23503", &pgconn.PgError{Code: "23503"}, apperrors.ErrBadRequest},
		{"gorm duplicated key", gorm.ErrDuplicatedKey, apperrors.ErrDuplicate},
		{"gorm record not found", gorm.ErrRecordNotFound, apperrors.ErrNotFound},
		{"generic error", errors.New("boom"), apperrors.ErrDatabase},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			out := wrapDBError(tc.inErr)
			if tc.expected == nil {
				assert.NoError(t, out)
				return
			}
			assert.Truef(t, errors.Is(out, tc.expected), "expected %v to wrap %v", out, tc.expected)
			assert.Truef(t, errors.Is(out, tc.inErr), "expected %v to preserve %v", out, tc.inErr)
		})
	}
}

func TestWrapDBErrorMarksTransientRetryable(t *testing.T) {
	out := wrapDBError(&pgconn.PgError{Code: "08006"})
	assert.True(t, apperrors.IsRetryable(out))
}

func TestPostgresRepoClose(t *testing.T) {
	repo, mock, teardown := newMockRepo(t)
	t.Cleanup(teardown)

	mock.ExpectClose()

	assert.NoError(t, repo.Close())
}
