package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/daisi-cs-bot-engine/internal/model"
)

// UserRepoMock is a testify mock for storage.UserRepo
type UserRepoMock struct {
	mock.Mock
}

func (m *UserRepoMock) FindUserByNumber(ctx context.Context, waNumber string) (*model.User, error) {
	args := m.Called(ctx, waNumber)
	if u := args.Get(0); u != nil {
		return u.(*model.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *UserRepoMock) UpsertUser(ctx context.Context, waNumber string, lastInteractionAt int64) (*model.User, error) {
	args := m.Called(ctx, waNumber, lastInteractionAt)
	if u := args.Get(0); u != nil {
		return u.(*model.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *UserRepoMock) SetUserMode(ctx context.Context, waNumber string, mode string) (*model.User, error) {
	args := m.Called(ctx, waNumber, mode)
	if u := args.Get(0); u != nil {
		return u.(*model.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *UserRepoMock) SetUserSelectedMenu(ctx context.Context, waNumber string, menu *int) (*model.User, error) {
	args := m.Called(ctx, waNumber, menu)
	if u := args.Get(0); u != nil {
		return u.(*model.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *UserRepoMock) ListUsers(ctx context.Context, limit, offset int) ([]model.User, int64, error) {
	args := m.Called(ctx, limit, offset)
	var users []model.User
	if u := args.Get(0); u != nil {
		users = u.([]model.User)
	}
	return users, args.Get(1).(int64), args.Error(2)
}

func (m *UserRepoMock) SweepTimeouts(ctx context.Context, cutoffMs int64) (int64, error) {
	args := m.Called(ctx, cutoffMs)
	return args.Get(0).(int64), args.Error(1)
}

// MessageRepoMock is a testify mock for storage.MessageRepo
type MessageRepoMock struct {
	mock.Mock
}

func (m *MessageRepoMock) InsertMessage(ctx context.Context, message model.Message) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

func (m *MessageRepoMock) ListMessagesByUser(ctx context.Context, waNumber string, limit, offset int) ([]model.Message, error) {
	args := m.Called(ctx, waNumber, limit, offset)
	var messages []model.Message
	if v := args.Get(0); v != nil {
		messages = v.([]model.Message)
	}
	return messages, args.Error(1)
}

// ProcessedEventRepoMock is a testify mock for storage.ProcessedEventRepo
type ProcessedEventRepoMock struct {
	mock.Mock
}

func (m *ProcessedEventRepoMock) TryMarkProcessed(ctx context.Context, messageID string) (bool, error) {
	args := m.Called(ctx, messageID)
	return args.Bool(0), args.Error(1)
}
