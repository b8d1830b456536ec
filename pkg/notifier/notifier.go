package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aqimebaby/aqialert/pkg/mailer"
	"github.com/aqimebaby/aqialert/pkg/model"
	"github.com/aqimebaby/aqialert/pkg/threshold"
)

// DefaultFrom is the sender address used when none is configured.
const DefaultFrom = "aqimebaby@aqimebaby.com"

var (
	// ErrNotCrossing is returned when asked to notify a NoAction decision.
	ErrNotCrossing = errors.New("decision is not a crossing")

	// ErrDeliveryFailed wraps any provider or transport failure. State is left untouched.
	ErrDeliveryFailed = errors.New("email delivery failed")

	// ErrCommitAfterDelivery means the email went out but the new state was not
	// saved. The next run may send a duplicate.
	ErrCommitAfterDelivery = errors.New("state commit failed after delivery")
)

// StateWriter persists the hysteresis state of one alert.
type StateWriter interface {
	SetAlertState(ctx context.Context, id int64, state model.ThresholdState) error
}

// Notifier emails crossing notifications and, only after the provider
// accepts a message, commits the alert's new state.
type Notifier struct {
	sender mailer.Sender
	store  StateWriter
	from   string
	logger *slog.Logger
}

// New creates a notifier.
func New(sender mailer.Sender, store StateWriter, from string, logger *slog.Logger) *Notifier {
	if from == "" {
		from = DefaultFrom
	}
	return &Notifier{
		sender: sender,
		store:  store,
		from:   from,
		logger: logger,
	}
}

// Compose builds the email for a crossing decision.
func (n *Notifier) Compose(alert model.AlertView, r model.Reading, d threshold.Decision) (mailer.Message, error) {
	var ts templateSet
	switch d {
	case threshold.CrossedAbove:
		ts = aboveTemplates
	case threshold.CrossedBelow:
		ts = belowTemplates
	default:
		return mailer.Message{}, ErrNotCrossing
	}

	subject, text, html, err := ts.render(templateData{
		Location:  alert.LocationName,
		Level:     alert.AlertLevel,
		Value:     formatIndex(r.Value),
		Station:   r.Station,
		Direction: d.String(),
	})
	if err != nil {
		return mailer.Message{}, fmt.Errorf("render %s email: %w", d, err)
	}

	return mailer.Message{
		To:      alert.Email,
		From:    n.from,
		Subject: subject,
		Text:    text,
		HTML:    html,
	}, nil
}

// formatIndex renders a reading without trailing zeros: 150, 100.4.
func formatIndex(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Send is the first phase: compose and hand the message to the provider.
func (n *Notifier) Send(ctx context.Context, alert model.AlertView, r model.Reading, d threshold.Decision) (mailer.Delivery, error) {
	msg, err := n.Compose(alert, r, d)
	if err != nil {
		return mailer.Delivery{}, err
	}

	delivery, err := n.sender.Send(ctx, msg)
	if err != nil {
		return mailer.Delivery{}, fmt.Errorf("%w via %s: %w", ErrDeliveryFailed, n.sender.Name(), err)
	}
	return delivery, nil
}

// Commit is the second phase: persist the state implied by a delivered decision.
func (n *Notifier) Commit(ctx context.Context, alert model.AlertView, d threshold.Decision) error {
	if !d.IsCrossing() {
		return ErrNotCrossing
	}
	next := threshold.Next(alert.State, d)
	if err := n.store.SetAlertState(ctx, alert.ID, next); err != nil {
		return fmt.Errorf("%w: %w", ErrCommitAfterDelivery, err)
	}
	return nil
}

// commitTimeout bounds the state write that follows an accepted delivery.
const commitTimeout = 10 * time.Second

// Notify runs both phases. Commit is skipped when delivery fails. Once the
// provider has accepted the message the commit no longer follows ctx
// cancellation, otherwise a shutdown between the phases would leave the flag
// stale and the next run would email again.
func (n *Notifier) Notify(ctx context.Context, alert model.AlertView, r model.Reading, d threshold.Decision) (mailer.Delivery, error) {
	delivery, err := n.Send(ctx, alert, r, d)
	if err != nil {
		return mailer.Delivery{}, err
	}

	n.logger.Info("notification delivered",
		"alert_id", alert.ID,
		"decision", d.String(),
		"provider", delivery.Provider,
		"message_id", delivery.MessageID,
	)

	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()
	if err := n.Commit(commitCtx, alert, d); err != nil {
		n.logger.Warn("alert state not saved after delivery; next run may send a duplicate",
			"alert_id", alert.ID,
			"decision", d.String(),
			"error", err,
		)
		return delivery, err
	}
	return delivery, nil
}
