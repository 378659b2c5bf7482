package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap/zaptest"

	storagemock "gitlab.com/timkado/api/daisi-cs-bot-engine/internal/storage/mock"
	"gitlab.com/timkado/api/daisi-cs-bot-engine/pkg/logger"
)

func TestSweepOncePassesCutoff(t *testing.T) {
	logger.Log = zaptest.NewLogger(t)
	users := &storagemock.UserRepoMock{}
	w := NewSweeper(users, 24*time.Hour, 15*time.Minute)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).UnixMilli()
	w.nowFn = func() int64 { return now }

	cutoff := now - (24 * time.Hour).Milliseconds()
	users.On("SweepTimeouts", mock.Anything, cutoff).Return(int64(3), nil).Once()

	w.SweepOnce(context.Background())

	users.AssertExpectations(t)
}

func TestSweepOnceToleratesStoreFailure(t *testing.T) {
	logger.Log = zaptest.NewLogger(t)
	users := &storagemock.UserRepoMock{}
	w := NewSweeper(users, 24*time.Hour, 15*time.Minute)

	users.On("SweepTimeouts", mock.Anything, mock.AnythingOfType("int64")).
		Return(int64(0), context.DeadlineExceeded).Once()

	// Must not panic and must not propagate
	w.SweepOnce(context.Background())

	users.AssertExpectations(t)
}

func TestSweeperRunTicksUntilCancelled(t *testing.T) {
	logger.Log = zaptest.NewLogger(t)
	users := &storagemock.UserRepoMock{}
	w := NewSweeper(users, 24*time.Hour, 20*time.Millisecond)

	users.On("SweepTimeouts", mock.Anything, mock.AnythingOfType("int64")).Return(int64(0), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Millisecond)
	defer cancel()
	w.Run(ctx)

	users.AssertCalled(t, "SweepTimeouts", mock.Anything, mock.AnythingOfType("int64"))
}
