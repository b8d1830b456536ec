package mailer

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Log is a Sender that writes messages to the logger instead of delivering
// them. Used for local runs without a mail provider.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a logging sender.
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Name() string { return "log" }

func (l *Log) Send(ctx context.Context, msg Message) (Delivery, error) {
	if err := ctx.Err(); err != nil {
		return Delivery{}, err
	}
	l.logger.Info("email (not delivered)",
		"to", msg.To,
		"from", msg.From,
		"subject", msg.Subject,
		"text", msg.Text,
	)
	return Delivery{
		Provider:   l.Name(),
		MessageID:  uuid.New().String(),
		AcceptedAt: time.Now().UTC(),
	}, nil
}
