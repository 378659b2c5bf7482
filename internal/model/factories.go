package model

import (
	"fmt"

	"github.com/brianvoe/gofakeit/v6"

	"gitlab.com/timkado/api/daisi-cs-bot-engine/pkg/utils"
)

// UserFactory generates a User with realistic defaults for tests.
// Pass overrides to adjust specific fields after generation.
func UserFactory(overrides ...func(*User)) *User {
	u := &User{
		ID:                int64(gofakeit.Number(1, 1_000_000)),
		WaNumber:          fmt.Sprintf("62%d", gofakeit.Number(8_000_000_000, 8_999_999_999)),
		Mode:              ModeBot,
		SelectedMenu:      nil,
		LastInteractionAt: utils.NowUnixMs(),
	}
	for _, fn := range overrides {
		fn(u)
	}
	return u
}

// MessageFactory generates a ledger row for tests
func MessageFactory(overrides ...func(*Message)) *Message {
	m := &Message{
		ID:        int64(gofakeit.Number(1, 1_000_000)),
		UserID:    int64(gofakeit.Number(1, 1_000_000)),
		Direction: DirectionIn,
		MessageID: StrPtr(gofakeit.UUID()),
		Text:      gofakeit.Sentence(5),
		Timestamp: utils.NowUnixMs(),
	}
	for _, fn := range overrides {
		fn(m)
	}
	return m
}

// InboundEventFactory generates a webhook relay payload for tests
func InboundEventFactory(overrides ...func(*InboundEventPayload)) *InboundEventPayload {
	p := &InboundEventPayload{
		MessageID: gofakeit.UUID(),
		From:      fmt.Sprintf("62%d", gofakeit.Number(8_000_000_000, 8_999_999_999)),
		Text:      gofakeit.Sentence(4),
		Timestamp: EpochValue(utils.NowUnixMs()),
	}
	for _, fn := range overrides {
		fn(p)
	}
	return p
}
