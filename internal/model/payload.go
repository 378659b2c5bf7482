package model

import (
	"strconv"
	"strings"
)

// InboundEventPayload is the webhook relay event for one inbound WhatsApp
// message. Gateways redeliver, so MessageID drives deduplication.
type InboundEventPayload struct {
	MessageID string     `json:"message_id" validate:"required,min=1"`
	From      string     `json:"from" validate:"required,min=3"`
	Text      string     `json:"text"`
	Timestamp EpochValue `json:"timestamp"`
}

// EpochValue accepts a JSON number or a numeric string; anything else
// decodes to zero so the processor falls back to the current time.
type EpochValue float64

// UnmarshalJSON implements json.Unmarshaler
func (e *EpochValue) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(strings.Trim(string(data), `"`))
	if s == "" || s == "null" {
		*e = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*e = 0
		return nil
	}
	*e = EpochValue(f)
	return nil
}
