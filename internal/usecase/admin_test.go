package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/daisi-cs-bot-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-cs-bot-engine/internal/gateway"
	"gitlab.com/timkado/api/daisi-cs-bot-engine/internal/model"
)

func TestAdminSetModeHumanWithNotify(t *testing.T) {
	f := newFixture(t, defaultConfig())
	user := model.UserFactory(func(u *model.User) { u.WaNumber = testUserWa })
	humanUser := model.UserFactory(func(u *model.User) {
		u.ID = user.ID
		u.WaNumber = testUserWa
		u.Mode = model.ModeHuman
	})

	f.users.On("UpsertUser", mock.Anything, testUserWa, f.now).Return(user, nil).Once()
	f.users.On("SetUserMode", mock.Anything, testUserWa, model.ModeHuman).Return(humanUser, nil).Once()
	f.gw.On("SendMessage", mock.Anything, testUserWa, adminNotifyHumanText).
		Return(gateway.SendResult{OK: true}).Once()
	f.messages.On("InsertMessage", mock.Anything, msgWith(model.DirectionOut, model.MetaAdminNotifyHuman)).Return(nil).Once()
	f.gw.On("ForwardToHuman", mock.Anything, testCSNumber, testUserWa, "(SYSTEM) Admin takeover: user masuk mode HUMAN.").
		Return(gateway.SendResult{OK: true}).Once()
	f.messages.On("InsertMessage", mock.Anything, msgWith(model.DirectionForward, model.MetaAdminTakeover)).Return(nil).Once()

	updated, err := f.svc.AdminSetMode(context.Background(), testUserWa, "human", true)

	require.NoError(t, err)
	assert.Equal(t, model.ModeHuman, updated.Mode)
	f.assertAll(t)
}

func TestAdminSetModeBotWithoutNotify(t *testing.T) {
	f := newFixture(t, defaultConfig())
	user := model.UserFactory(func(u *model.User) { u.WaNumber = testUserWa })

	f.users.On("UpsertUser", mock.Anything, testUserWa, f.now).Return(user, nil).Once()
	f.users.On("SetUserMode", mock.Anything, testUserWa, model.ModeBot).Return(user, nil).Once()

	updated, err := f.svc.AdminSetMode(context.Background(), testUserWa, "BOT", false)

	require.NoError(t, err)
	assert.Equal(t, model.ModeBot, updated.Mode)
	f.gw.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything)
	f.assertAll(t)
}

func TestAdminSetModeRejectsInvalidInput(t *testing.T) {
	f := newFixture(t, defaultConfig())

	_, err := f.svc.AdminSetMode(context.Background(), testUserWa, "PAUSED", false)
	assert.True(t, apperrors.IsBadRequestError(err))

	_, err = f.svc.AdminSetMode(context.Background(), "??", model.ModeBot, false)
	assert.True(t, apperrors.IsBadRequestError(err))

	f.users.AssertNotCalled(t, "SetUserMode", mock.Anything, mock.Anything, mock.Anything)
}

func TestAdminSendMessage(t *testing.T) {
	f := newFixture(t, defaultConfig())
	user := model.UserFactory(func(u *model.User) { u.WaNumber = testUserWa })

	f.users.On("UpsertUser", mock.Anything, testUserWa, f.now).Return(user, nil).Once()
	f.gw.On("SendMessage", mock.Anything, testUserWa, "Halo kak, update pesanan ya").
		Return(gateway.SendResult{OK: true}).Once()
	f.messages.On("InsertMessage", mock.Anything, msgWith(model.DirectionOut, model.MetaAdminManual)).Return(nil).Once()

	_, err := f.svc.AdminSendMessage(context.Background(), testUserWa, "Halo kak, update pesanan ya")

	require.NoError(t, err)
	f.assertAll(t)
}

func TestAdminSendMessageRejectsEmptyText(t *testing.T) {
	f := newFixture(t, defaultConfig())

	_, err := f.svc.AdminSendMessage(context.Background(), testUserWa, "   ")

	assert.True(t, apperrors.IsBadRequestError(err))
	f.users.AssertNotCalled(t, "UpsertUser", mock.Anything, mock.Anything, mock.Anything)
}

func TestListMessagesNormalizesIdentity(t *testing.T) {
	f := newFixture(t, defaultConfig())
	rows := []model.Message{*model.MessageFactory()}

	f.messages.On("ListMessagesByUser", mock.Anything, testUserWa, 20, 0).Return(rows, nil).Once()

	got, err := f.svc.ListMessages(context.Background(), "+62 811-000-222", 20, 0)

	require.NoError(t, err)
	assert.Len(t, got, 1)
	f.assertAll(t)
}

func TestListMessagesRejectsEmptyIdentity(t *testing.T) {
	f := newFixture(t, defaultConfig())

	_, err := f.svc.ListMessages(context.Background(), "---", 20, 0)

	assert.True(t, apperrors.IsBadRequestError(err))
}
