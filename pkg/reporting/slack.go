package reporting

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"
)

// maxListedFailures caps how many failing alerts are itemised in one message.
const maxListedFailures = 10

// SlackReporter posts run summaries to a Slack incoming webhook.
type SlackReporter struct {
	webhookURL   string
	channel      string
	onlyFailures bool
	client       *http.Client
}

// NewSlackReporter creates a Slack webhook reporter. With onlyFailures set,
// healthy runs are not posted.
func NewSlackReporter(webhookURL, channel string, onlyFailures bool) *SlackReporter {
	return &SlackReporter{
		webhookURL:   webhookURL,
		channel:      channel,
		onlyFailures: onlyFailures,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (s *SlackReporter) Name() string { return "slack" }

func (s *SlackReporter) Send(ctx context.Context, summary Summary) error {
	if s.onlyFailures && summary.Healthy() {
		return nil
	}

	msg := buildSlackMessage(summary)
	msg.Channel = s.channel

	if err := slack.PostWebhookCustomHTTPContext(ctx, s.webhookURL, s.client, msg); err != nil {
		return fmt.Errorf("send slack report: %w", err)
	}
	return nil
}

func buildSlackMessage(summary Summary) *slack.WebhookMessage {
	run := summary.Run

	color := "#36a64f" // green
	title := "AQI alert run completed"
	switch {
	case run.Error != "":
		color = "#cc0000"
		title = "AQI alert run failed"
	case len(summary.Failures) > 0:
		color = "#ff9900"
		title = "AQI alert run completed with failures"
	}

	fields := []slack.AttachmentField{
		{Title: "Alerts", Value: strconv.Itoa(run.AlertsTotal), Short: true},
		{Title: "Notified", Value: strconv.Itoa(run.Notified), Short: true},
		{Title: "Fetch failures", Value: strconv.Itoa(run.FetchFailed), Short: true},
		{Title: "Delivery failures", Value: strconv.Itoa(run.DeliveryFailed), Short: true},
		{Title: "Commit failures", Value: strconv.Itoa(run.CommitFailed), Short: true},
		{Title: "Duration", Value: run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond).String(), Short: true},
	}
	if run.Error != "" {
		fields = append(fields, slack.AttachmentField{Title: "Error", Value: run.Error})
	}
	if len(summary.Failures) > 0 {
		fields = append(fields, slack.AttachmentField{Title: "Failing alerts", Value: failureLines(summary.Failures)})
	}

	return &slack.WebhookMessage{
		Text: fmt.Sprintf("%s (run %s)", title, run.ID),
		Attachments: []slack.Attachment{
			{
				Color:  color,
				Title:  title,
				Fields: fields,
				Footer: "aqialert",
				Ts:     jsonTimestamp(run.FinishedAt),
			},
		},
	}
}

func failureLines(failures []Failure) string {
	var b strings.Builder
	for i, f := range failures {
		if i == maxListedFailures {
			fmt.Fprintf(&b, "…and %d more", len(failures)-maxListedFailures)
			break
		}
		fmt.Fprintf(&b, "#%d %s: %s", f.AlertID, f.Location, f.Outcome)
		if f.Error != "" {
			fmt.Fprintf(&b, " (%s)", f.Error)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func jsonTimestamp(t time.Time) json.Number {
	if t.IsZero() {
		t = time.Now()
	}
	return json.Number(strconv.FormatInt(t.Unix(), 10))
}
