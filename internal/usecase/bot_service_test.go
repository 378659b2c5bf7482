package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gitlab.com/timkado/api/daisi-cs-bot-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-cs-bot-engine/internal/gateway"
	gatewaymock "gitlab.com/timkado/api/daisi-cs-bot-engine/internal/gateway/mock"
	"gitlab.com/timkado/api/daisi-cs-bot-engine/internal/model"
	storagemock "gitlab.com/timkado/api/daisi-cs-bot-engine/internal/storage/mock"
	"gitlab.com/timkado/api/daisi-cs-bot-engine/pkg/logger"
)

const (
	testCSNumber = "628999000111"
	testUserWa   = "62811000222"
)

type fixture struct {
	users     *storagemock.UserRepoMock
	messages  *storagemock.MessageRepoMock
	processed *storagemock.ProcessedEventRepoMock
	gw        *gatewaymock.GatewayMock
	svc       *BotService
	now       int64
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	logger.Log = zaptest.NewLogger(t)
	f := &fixture{
		users:     &storagemock.UserRepoMock{},
		messages:  &storagemock.MessageRepoMock{},
		processed: &storagemock.ProcessedEventRepoMock{},
		gw:        &gatewaymock.GatewayMock{},
		now:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).UnixMilli(),
	}
	f.svc = NewBotService(f.users, f.messages, f.processed, f.gw, cfg)
	f.svc.nowFn = func() int64 { return f.now }
	return f
}

func defaultConfig() Config {
	return Config{CSNumber: testCSNumber, AutoTimeout: 24 * time.Hour}
}

func (f *fixture) assertAll(t *testing.T) {
	t.Helper()
	f.users.AssertExpectations(t)
	f.messages.AssertExpectations(t)
	f.processed.AssertExpectations(t)
	f.gw.AssertExpectations(t)
}

func metaKind(msg model.Message) string {
	if len(msg.Meta) == 0 {
		return ""
	}
	var meta model.MessageMeta
	_ = json.Unmarshal(msg.Meta, &meta)
	return meta.Kind
}

// msgWith matches a ledger row by direction and meta kind
func msgWith(direction, kind string) interface{} {
	return mock.MatchedBy(func(m model.Message) bool {
		return m.Direction == direction && metaKind(m) == kind
	})
}

func inboundEvent(from, text string) *model.InboundEventPayload {
	return model.InboundEventFactory(func(p *model.InboundEventPayload) {
		p.From = from
		p.Text = text
	})
}

func TestHandleRejectsInvalidPayload(t *testing.T) {
	f := newFixture(t, defaultConfig())
	payload := inboundEvent(testUserWa, "halo")
	payload.MessageID = ""

	res, err := f.svc.Handle(context.Background(), payload)

	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "invalid_payload", res.Error)
	f.processed.AssertNotCalled(t, "TryMarkProcessed", mock.Anything, mock.Anything)
}

func TestHandleRejectsNonNumericSender(t *testing.T) {
	f := newFixture(t, defaultConfig())
	payload := inboundEvent("+++---***", "halo")

	res, err := f.svc.Handle(context.Background(), payload)

	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "invalid_from", res.Error)
	f.processed.AssertNotCalled(t, "TryMarkProcessed", mock.Anything, mock.Anything)
}

func TestHandleSuppressesDuplicate(t *testing.T) {
	f := newFixture(t, defaultConfig())
	payload := inboundEvent(testUserWa, "halo")
	f.processed.On("TryMarkProcessed", mock.Anything, payload.MessageID).Return(false, nil).Once()

	res, err := f.svc.Handle(context.Background(), payload)

	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.True(t, res.Duplicate)
	f.users.AssertNotCalled(t, "UpsertUser", mock.Anything, mock.Anything, mock.Anything)
	f.messages.AssertNotCalled(t, "InsertMessage", mock.Anything, mock.Anything)
	f.assertAll(t)
}

func TestHandleMenuCommandForNewUser(t *testing.T) {
	f := newFixture(t, defaultConfig())
	payload := inboundEvent(testUserWa, "menu")
	user := model.UserFactory(func(u *model.User) { u.WaNumber = testUserWa })

	f.processed.On("TryMarkProcessed", mock.Anything, payload.MessageID).Return(true, nil).Once()
	f.users.On("FindUserByNumber", mock.Anything, testUserWa).Return(nil, apperrors.ErrNotFound).Once()
	f.users.On("UpsertUser", mock.Anything, testUserWa, f.now).Return(user, nil).Once()
	f.messages.On("InsertMessage", mock.Anything, msgWith(model.DirectionIn, "")).Return(nil).Once()
	f.users.On("SetUserSelectedMenu", mock.Anything, testUserWa, (*int)(nil)).Return(user, nil).Once()
	f.gw.On("SendMessage", mock.Anything, testUserWa, mock.AnythingOfType("string")).
		Return(gateway.SendResult{OK: true}).Once()
	f.messages.On("InsertMessage", mock.Anything, msgWith(model.DirectionOut, model.MetaMenu)).Return(nil).Once()

	res, err := f.svc.Handle(context.Background(), payload)

	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "menu", res.Handled)
	f.assertAll(t)
}

func TestHandleForwardsWhileHuman(t *testing.T) {
	f := newFixture(t, defaultConfig())
	payload := inboundEvent(testUserWa, "halo kak, pesanan saya gimana?")
	user := model.UserFactory(func(u *model.User) {
		u.WaNumber = testUserWa
		u.Mode = model.ModeHuman
		u.LastInteractionAt = f.now - time.Minute.Milliseconds()
	})

	f.processed.On("TryMarkProcessed", mock.Anything, payload.MessageID).Return(true, nil).Once()
	f.users.On("FindUserByNumber", mock.Anything, testUserWa).Return(user, nil).Once()
	f.users.On("UpsertUser", mock.Anything, testUserWa, f.now).Return(user, nil).Once()
	f.messages.On("InsertMessage", mock.Anything, msgWith(model.DirectionIn, "")).Return(nil).Once()
	f.gw.On("ForwardToHuman", mock.Anything, testCSNumber, testUserWa, payload.Text).
		Return(gateway.SendResult{OK: true}).Once()
	f.messages.On("InsertMessage", mock.Anything, msgWith(model.DirectionForward, model.MetaHumanForward)).Return(nil).Once()

	res, err := f.svc.Handle(context.Background(), payload)

	require.NoError(t, err)
	assert.Equal(t, "human_forward", res.Handled)
	f.users.AssertNotCalled(t, "SetUserMode", mock.Anything, mock.Anything, mock.Anything)
	f.assertAll(t)
}

func TestHandleSensitiveWhileHumanForwardsMasked(t *testing.T) {
	f := newFixture(t, defaultConfig())
	payload := inboundEvent(testUserWa, "kode 123456")
	user := model.UserFactory(func(u *model.User) {
		u.WaNumber = testUserWa
		u.Mode = model.ModeHuman
		u.LastInteractionAt = f.now - time.Minute.Milliseconds()
	})

	f.processed.On("TryMarkProcessed", mock.Anything, payload.MessageID).Return(true, nil).Once()
	f.users.On("FindUserByNumber", mock.Anything, testUserWa).Return(user, nil).Once()
	f.users.On("UpsertUser", mock.Anything, testUserWa, f.now).Return(user, nil).Once()
	f.messages.On("InsertMessage", mock.Anything, msgWith(model.DirectionIn, "")).Return(nil).Once()
	f.gw.On("SendMessage", mock.Anything, testUserWa, mock.AnythingOfType("string")).
		Return(gateway.SendResult{OK: true}).Once()
	f.messages.On("InsertMessage", mock.Anything, msgWith(model.DirectionOut, model.MetaSensitiveWarning)).Return(nil).Once()
	f.gw.On("ForwardToHuman", mock.Anything, testCSNumber, testUserWa, "kode ****56").
		Return(gateway.SendResult{OK: true}).Once()
	f.messages.On("InsertMessage", mock.Anything, msgWith(model.DirectionForward, model.MetaSensitiveMasked)).Return(nil).Once()

	res, err := f.svc.Handle(context.Background(), payload)

	require.NoError(t, err)
	assert.Equal(t, "human_forward_sensitive", res.Handled)
	f.assertAll(t)
}

func TestHandleSensitiveWhileBotResendsMenu(t *testing.T) {
	f := newFixture(t, defaultConfig())
	payload := inboundEvent(testUserWa, "4111 1111 1111 1111")
	user := model.UserFactory(func(u *model.User) { u.WaNumber = testUserWa })

	f.processed.On("TryMarkProcessed", mock.Anything, payload.MessageID).Return(true, nil).Once()
	f.users.On("FindUserByNumber", mock.Anything, testUserWa).Return(user, nil).Once()
	f.users.On("UpsertUser", mock.Anything, testUserWa, f.now).Return(user, nil).Once()
	f.messages.On("InsertMessage", mock.Anything, msgWith(model.DirectionIn, "")).Return(nil).Once()
	f.gw.On("SendMessage", mock.Anything, testUserWa, mock.AnythingOfType("string")).
		Return(gateway.SendResult{OK: true}).Twice()
	f.messages.On("InsertMessage", mock.Anything, msgWith(model.DirectionOut, model.MetaSensitiveWarning)).Return(nil).Once()
	f.users.On("SetUserSelectedMenu", mock.Anything, testUserWa, (*int)(nil)).Return(user, nil).Once()
	f.messages.On("InsertMessage", mock.Anything, msgWith(model.DirectionOut, model.MetaMenuAfterSensitive)).Return(nil).Once()

	res, err := f.svc.Handle(context.Background(), payload)

	require.NoError(t, err)
	assert.Equal(t, "bot_sensitive", res.Handled)
	f.assertAll(t)
}

func TestHandleMenuFiveHandsOffToHuman(t *testing.T) {
	f := newFixture(t, defaultConfig())
	payload := inboundEvent(testUserWa, "5")
	user := model.UserFactory(func(u *model.User) { u.WaNumber = testUserWa })
	humanUser := model.UserFactory(func(u *model.User) {
		u.ID = user.ID
		u.WaNumber = testUserWa
		u.Mode = model.ModeHuman
	})

	f.processed.On("TryMarkProcessed", mock.Anything, payload.MessageID).Return(true, nil).Once()
	f.users.On("FindUserByNumber", mock.Anything, testUserWa).Return(user, nil).Once()
	f.users.On("UpsertUser", mock.Anything, testUserWa, f.now).Return(user, nil).Once()
	f.messages.On("InsertMessage", mock.Anything, msgWith(model.DirectionIn, "")).Return(nil).Once()
	f.users.On("SetUserMode", mock.Anything, testUserWa, model.ModeHuman).Return(humanUser, nil).Once()
	f.gw.On("SendMessage", mock.Anything, testUserWa, mock.AnythingOfType("string")).
		Return(gateway.SendResult{OK: true}).Once()
	f.messages.On("InsertMessage", mock.Anything, msgWith(model.DirectionOut, model.MetaBotReply)).Return(nil).Once()
	f.gw.On("ForwardToHuman", mock.Anything, testCSNumber, testUserWa, mock.AnythingOfType("string")).
		Return(gateway.SendResult{OK: true}).Once()
	f.messages.On("InsertMessage", mock.Anything, msgWith(model.DirectionForward, model.MetaBotForward)).Return(nil).Once()

	res, err := f.svc.Handle(context.Background(), payload)

	require.NoError(t, err)
	assert.Equal(t, "menu_5", res.Handled)
	f.gw.AssertNumberOfCalls(t, "ForwardToHuman", 1)
	f.assertAll(t)
}

func TestHandleInlineAutoTimeoutRevertsToBot(t *testing.T) {
	f := newFixture(t, defaultConfig())
	payload := inboundEvent(testUserWa, "halo")
	stale := model.UserFactory(func(u *model.User) {
		u.WaNumber = testUserWa
		u.Mode = model.ModeHuman
		u.LastInteractionAt = f.now - (25 * time.Hour).Milliseconds()
	})
	reverted := model.UserFactory(func(u *model.User) {
		u.ID = stale.ID
		u.WaNumber = testUserWa
		u.Mode = model.ModeBot
	})

	f.processed.On("TryMarkProcessed", mock.Anything, payload.MessageID).Return(true, nil).Once()
	f.users.On("FindUserByNumber", mock.Anything, testUserWa).Return(stale, nil).Once()
	f.users.On("UpsertUser", mock.Anything, testUserWa, f.now).Return(stale, nil).Once()
	f.messages.On("InsertMessage", mock.Anything, msgWith(model.DirectionIn, "")).Return(nil).Once()
	f.users.On("SetUserMode", mock.Anything, testUserWa, model.ModeBot).Return(reverted, nil).Once()
	f.gw.On("SendMessage", mock.Anything, testUserWa, mock.AnythingOfType("string")).
		Return(gateway.SendResult{OK: true}).Once()
	f.messages.On("InsertMessage", mock.Anything, msgWith(model.DirectionOut, model.MetaFallback)).Return(nil).Once()

	res, err := f.svc.Handle(context.Background(), payload)

	require.NoError(t, err)
	assert.Equal(t, "fallback", res.Handled)
	f.gw.AssertNotCalled(t, "ForwardToHuman", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.assertAll(t)
}

func TestHandleRateLimitClockAdvancesOnlyOnPass(t *testing.T) {
	cfg := defaultConfig()
	cfg.RateLimitMinInterval = time.Minute
	f := newFixture(t, cfg)
	user := model.UserFactory(func(u *model.User) { u.WaNumber = testUserWa })

	f.processed.On("TryMarkProcessed", mock.Anything, mock.AnythingOfType("string")).Return(true, nil)
	f.users.On("FindUserByNumber", mock.Anything, testUserWa).Return(user, nil)
	f.users.On("UpsertUser", mock.Anything, testUserWa, mock.AnythingOfType("int64")).Return(user, nil)
	f.messages.On("InsertMessage", mock.Anything, mock.AnythingOfType("model.Message")).Return(nil)
	f.gw.On("SendMessage", mock.Anything, testUserWa, mock.AnythingOfType("string")).
		Return(gateway.SendResult{OK: true})

	res, err := f.svc.Handle(context.Background(), inboundEvent(testUserWa, "halo"))
	require.NoError(t, err)
	assert.Equal(t, "fallback", res.Handled)

	// 30s later: blocked, ledgered as RATE_LIMITED, no reply sent
	f.now += (30 * time.Second).Milliseconds()
	res, err = f.svc.Handle(context.Background(), inboundEvent(testUserWa, "halo lagi"))
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "rate_limited", res.Handled)
	f.messages.AssertCalled(t, "InsertMessage", mock.Anything, msgWith(model.DirectionIn, model.MetaRateLimited))

	// 70s after the first pass: allowed again, proving the blocked message
	// did not advance the limiter clock.
	f.now += (40 * time.Second).Milliseconds()
	res, err = f.svc.Handle(context.Background(), inboundEvent(testUserWa, "halo ketiga"))
	require.NoError(t, err)
	assert.Equal(t, "fallback", res.Handled)
	f.gw.AssertNumberOfCalls(t, "SendMessage", 2)
}

func TestHandleOperatorCommandRevertsTarget(t *testing.T) {
	f := newFixture(t, defaultConfig())
	target := "62811000333"
	payload := inboundEvent(testCSNumber, "#boton "+target)
	targetUser := model.UserFactory(func(u *model.User) { u.WaNumber = target })
	opUser := model.UserFactory(func(u *model.User) { u.WaNumber = testCSNumber })

	f.processed.On("TryMarkProcessed", mock.Anything, payload.MessageID).Return(true, nil).Once()
	f.users.On("UpsertUser", mock.Anything, target, f.now).Return(targetUser, nil).Once()
	f.users.On("SetUserMode", mock.Anything, target, model.ModeBot).Return(targetUser, nil).Once()
	f.gw.On("SendMessage", mock.Anything, testCSNumber, mock.AnythingOfType("string")).
		Return(gateway.SendResult{OK: true}).Once()
	f.users.On("UpsertUser", mock.Anything, testCSNumber, f.now).Return(opUser, nil).Once()
	f.messages.On("InsertMessage", mock.Anything, msgWith(model.DirectionIn, model.MetaCSCommand)).Return(nil).Once()

	res, err := f.svc.Handle(context.Background(), payload)

	require.NoError(t, err)
	assert.Equal(t, "cs_command", res.Handled)
	f.assertAll(t)
}

func TestHandleOperatorCommandSelfTarget(t *testing.T) {
	// #close aimed at the operator's own identity pre-provisions the row
	// and flips it like any other target.
	f := newFixture(t, defaultConfig())
	payload := inboundEvent(testCSNumber, "#close "+testCSNumber)
	opUser := model.UserFactory(func(u *model.User) { u.WaNumber = testCSNumber })

	f.processed.On("TryMarkProcessed", mock.Anything, payload.MessageID).Return(true, nil).Once()
	f.users.On("UpsertUser", mock.Anything, testCSNumber, f.now).Return(opUser, nil).Twice()
	f.users.On("SetUserMode", mock.Anything, testCSNumber, model.ModeBot).Return(opUser, nil).Once()
	f.gw.On("SendMessage", mock.Anything, testCSNumber, mock.AnythingOfType("string")).
		Return(gateway.SendResult{OK: true}).Once()
	f.messages.On("InsertMessage", mock.Anything, msgWith(model.DirectionIn, model.MetaCSCommand)).Return(nil).Once()

	res, err := f.svc.Handle(context.Background(), payload)

	require.NoError(t, err)
	assert.Equal(t, "cs_command", res.Handled)
	f.assertAll(t)
}

func TestHandleOperatorNonCommandIsArchived(t *testing.T) {
	f := newFixture(t, defaultConfig())
	payload := inboundEvent(testCSNumber, "oke kak, aku cek dulu ya")
	opUser := model.UserFactory(func(u *model.User) { u.WaNumber = testCSNumber })

	f.processed.On("TryMarkProcessed", mock.Anything, payload.MessageID).Return(true, nil).Once()
	f.users.On("UpsertUser", mock.Anything, testCSNumber, f.now).Return(opUser, nil).Once()
	f.messages.On("InsertMessage", mock.Anything, msgWith(model.DirectionIn, model.MetaCSNonCommand)).Return(nil).Once()

	res, err := f.svc.Handle(context.Background(), payload)

	require.NoError(t, err)
	assert.Equal(t, "cs_ignored", res.Handled)
	f.gw.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything)
	f.assertAll(t)
}

func TestHandleOperatorCommandInvalidTarget(t *testing.T) {
	f := newFixture(t, defaultConfig())
	payload := inboundEvent(testCSNumber, "#close xx")

	f.processed.On("TryMarkProcessed", mock.Anything, payload.MessageID).Return(true, nil).Once()
	f.gw.On("SendMessage", mock.Anything, testCSNumber, mock.AnythingOfType("string")).
		Return(gateway.SendResult{OK: true}).Once()

	res, err := f.svc.Handle(context.Background(), payload)

	require.NoError(t, err)
	assert.Equal(t, "cs_command_invalid", res.Handled)
	f.users.AssertNotCalled(t, "UpsertUser", mock.Anything, mock.Anything, mock.Anything)
	f.messages.AssertNotCalled(t, "InsertMessage", mock.Anything, mock.Anything)
	f.assertAll(t)
}

func TestHandleRecordsGatewayFailureAndSucceeds(t *testing.T) {
	f := newFixture(t, defaultConfig())
	payload := inboundEvent(testUserWa, "2")
	user := model.UserFactory(func(u *model.User) { u.WaNumber = testUserWa })

	f.processed.On("TryMarkProcessed", mock.Anything, payload.MessageID).Return(true, nil).Once()
	f.users.On("FindUserByNumber", mock.Anything, testUserWa).Return(user, nil).Once()
	f.users.On("UpsertUser", mock.Anything, testUserWa, f.now).Return(user, nil).Once()
	f.messages.On("InsertMessage", mock.Anything, msgWith(model.DirectionIn, "")).Return(nil).Once()
	f.gw.On("SendMessage", mock.Anything, testUserWa, mock.AnythingOfType("string")).
		Return(gateway.SendResult{OK: false, Err: "gateway returned 503"}).Once()
	f.messages.On("InsertMessage", mock.Anything, mock.MatchedBy(func(m model.Message) bool {
		return m.Direction == model.DirectionOut &&
			m.Status != nil && *m.Status == model.StatusFailed &&
			m.Error != nil && *m.Error == "gateway returned 503"
	})).Return(nil).Once()
	f.users.On("SetUserSelectedMenu", mock.Anything, testUserWa, (*int)(nil)).Return(user, nil).Once()

	res, err := f.svc.Handle(context.Background(), payload)

	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "menu_2", res.Handled)
	f.assertAll(t)
}

func TestHandleSurfacesStoreFaultForRedelivery(t *testing.T) {
	f := newFixture(t, defaultConfig())
	payload := inboundEvent(testUserWa, "halo")
	user := model.UserFactory(func(u *model.User) { u.WaNumber = testUserWa })
	dbErr := apperrors.NewRetryable(fmt.Errorf("connection refused"), "insert failed")

	f.processed.On("TryMarkProcessed", mock.Anything, payload.MessageID).Return(true, nil).Once()
	f.users.On("FindUserByNumber", mock.Anything, testUserWa).Return(user, nil).Once()
	f.users.On("UpsertUser", mock.Anything, testUserWa, f.now).Return(user, nil).Once()
	f.messages.On("InsertMessage", mock.Anything, msgWith(model.DirectionIn, "")).Return(dbErr).Once()

	_, err := f.svc.Handle(context.Background(), payload)

	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
	f.assertAll(t)
}

func TestHandleOrderNumberFollowUp(t *testing.T) {
	f := newFixture(t, defaultConfig())
	payload := inboundEvent(testUserWa, "ORD12345")
	step := 1
	user := model.UserFactory(func(u *model.User) {
		u.WaNumber = testUserWa
		u.SelectedMenu = &step
	})

	f.processed.On("TryMarkProcessed", mock.Anything, payload.MessageID).Return(true, nil).Once()
	f.users.On("FindUserByNumber", mock.Anything, testUserWa).Return(user, nil).Once()
	f.users.On("UpsertUser", mock.Anything, testUserWa, f.now).Return(user, nil).Once()
	f.messages.On("InsertMessage", mock.Anything, msgWith(model.DirectionIn, "")).Return(nil).Once()
	f.gw.On("SendMessage", mock.Anything, testUserWa, mock.MatchedBy(func(text string) bool {
		return len(text) > 0
	})).Return(gateway.SendResult{OK: true}).Once()
	f.messages.On("InsertMessage", mock.Anything, msgWith(model.DirectionOut, model.MetaOrderPlaceholder)).Return(nil).Once()
	f.users.On("SetUserSelectedMenu", mock.Anything, testUserWa, (*int)(nil)).Return(user, nil).Once()

	res, err := f.svc.Handle(context.Background(), payload)

	require.NoError(t, err)
	assert.Equal(t, "order_placeholder", res.Handled)
	f.assertAll(t)
}

func TestNormalizeTimestamp(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).UnixMilli()

	tests := []struct {
		name  string
		input float64
		want  int64
	}{
		{"seconds scaled to ms", 1_700_000_000, 1_700_000_000_000},
		{"milliseconds kept", 1_700_000_000_000, 1_700_000_000_000},
		{"zero falls back to now", 0, now},
		{"negative falls back to now", -5, now},
		{"nan falls back to now", math.NaN(), now},
		{"inf falls back to now", math.Inf(1), now},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, normalizeTimestamp(tc.input, now))
		})
	}
}
