package mailer

import (
	"context"
	"time"
)

// Message is a single outbound email with plain-text and HTML bodies.
type Message struct {
	To      string `json:"to"`
	From    string `json:"from"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html"`
}

// Delivery is the provider's acknowledgment of an accepted message.
type Delivery struct {
	Provider   string    `json:"provider"`
	MessageID  string    `json:"message_id,omitempty"`
	AcceptedAt time.Time `json:"accepted_at"`
}

// Sender delivers email through a provider.
type Sender interface {
	// Name returns the sender identifier.
	Name() string

	// Send delivers a message. A nil error means the provider accepted it.
	// Implementations must be safe for concurrent use.
	Send(ctx context.Context, msg Message) (Delivery, error)
}
