package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/daisi-cs-bot-engine/internal/gateway"
)

// GatewayMock is a testify mock for gateway.Gateway
type GatewayMock struct {
	mock.Mock
}

var _ gateway.Gateway = (*GatewayMock)(nil)

func (m *GatewayMock) SendMessage(ctx context.Context, to, text string) gateway.SendResult {
	args := m.Called(ctx, to, text)
	return args.Get(0).(gateway.SendResult)
}

func (m *GatewayMock) ForwardToHuman(ctx context.Context, csNumber, originalFrom, text string) gateway.SendResult {
	args := m.Called(ctx, csNumber, originalFrom, text)
	return args.Get(0).(gateway.SendResult)
}
