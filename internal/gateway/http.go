package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-cs-bot-engine/pkg/logger"
	"gitlab.com/timkado/api/daisi-cs-bot-engine/pkg/utils"
)

const defaultRequestTimeout = 15 * time.Second

// HTTPGateway posts outbound messages to the internal WA gateway
type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

var _ Gateway = (*HTTPGateway)(nil)

// NewHTTPGateway creates a gateway client with a bounded request timeout
func NewHTTPGateway(baseURL, apiKey string, requestTimeout time.Duration) *HTTPGateway {
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	return &HTTPGateway{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: requestTimeout},
	}
}

type sendMessageRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// SendMessage delivers text to a user via the gateway
func (g *HTTPGateway) SendMessage(ctx context.Context, to, text string) SendResult {
	res := g.post(ctx, sendMessageRequest{To: to, Text: text})
	if res.OK {
		logger.FromContext(ctx).Info("Gateway sendMessage ok", zap.String("to", to))
	} else {
		logger.FromContext(ctx).Error("Gateway sendMessage failed",
			zap.String("to", to), zap.String("error", res.Err))
	}
	return res
}

// ForwardToHuman relays a user message to the CS channel with a sender prefix
func (g *HTTPGateway) ForwardToHuman(ctx context.Context, csNumber, originalFrom, text string) SendResult {
	forwarded := fmt.Sprintf("📩 *Forward dari user %s*\n%s", originalFrom, text)
	res := g.post(ctx, sendMessageRequest{To: csNumber, Text: forwarded})
	if res.OK {
		logger.FromContext(ctx).Info("Gateway forwardToHuman ok",
			zap.String("cs_number", csNumber), zap.String("original_from", originalFrom))
	} else {
		logger.FromContext(ctx).Error("Gateway forwardToHuman failed",
			zap.String("cs_number", csNumber), zap.String("original_from", originalFrom),
			zap.String("error", res.Err))
	}
	return res
}

func (g *HTTPGateway) post(ctx context.Context, payload sendMessageRequest) SendResult {
	body := utils.MustMarshalJSON(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/messages/send", bytes.NewReader(body))
	if err != nil {
		return SendResult{OK: false, Err: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return SendResult{OK: false, Err: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Keep a short body excerpt for the ledger error column
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return SendResult{OK: false, Err: fmt.Sprintf("gateway returned %d: %s", resp.StatusCode, excerpt)}
	}
	return SendResult{OK: true}
}
