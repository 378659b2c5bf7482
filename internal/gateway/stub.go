package gateway

import (
	"context"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-cs-bot-engine/pkg/logger"
)

// StubGateway is a no-op gateway for deployments where the WA gateway is
// not wired up yet; every attempt succeeds and is only logged.
type StubGateway struct{}

var _ Gateway = (*StubGateway)(nil)

// NewStubGateway creates a stub gateway
func NewStubGateway() *StubGateway {
	logger.Log.Warn("Gateway running in STUB mode, no real messages will be sent")
	return &StubGateway{}
}

// SendMessage logs the attempt and reports success
func (g *StubGateway) SendMessage(ctx context.Context, to, text string) SendResult {
	logger.FromContext(ctx).Info("[stub] sendMessage",
		zap.String("to", to), zap.Int("text_len", len(text)))
	return SendResult{OK: true}
}

// ForwardToHuman logs the attempt and reports success
func (g *StubGateway) ForwardToHuman(ctx context.Context, csNumber, originalFrom, text string) SendResult {
	logger.FromContext(ctx).Info("[stub] forwardToHuman",
		zap.String("cs_number", csNumber), zap.String("original_from", originalFrom),
		zap.Int("text_len", len(text)))
	return SendResult{OK: true}
}
