// Package gateway is the outbound side of the bot: a thin client for the
// internal WhatsApp API gateway. Delivery is fire-and-confirm: the
// gateway only reports a boolean outcome, never delivery receipts.
package gateway

import "context"

// SendResult is the gateway's answer for one outbound attempt
type SendResult struct {
	OK  bool
	Err string
}

// Gateway abstracts the messaging network. Implementations must be safe
// for concurrent use; callers treat a failure as a recorded outcome, not
// an error to propagate.
type Gateway interface {
	// SendMessage delivers text to a user identity
	SendMessage(ctx context.Context, to, text string) SendResult
	// ForwardToHuman relays a user's message to the CS operator channel,
	// prefixed so the operator can tell who it came from.
	ForwardToHuman(ctx context.Context, csNumber, originalFrom, text string) SendResult
}
