package reporting

import (
	"context"

	"github.com/aqimebaby/aqialert/pkg/model"
)

// Failure describes one alert that did not complete cleanly during a run.
type Failure struct {
	AlertID  int64  `json:"alert_id"`
	Location string `json:"location"`
	Outcome  string `json:"outcome"`
	Error    string `json:"error,omitempty"`
}

// Summary is the operator-facing report of one monitoring run.
type Summary struct {
	Run      model.RunRecord `json:"run"`
	Failures []Failure       `json:"failures,omitempty"`
}

// Healthy reports whether the run finished without any per-alert failure
// or fatal error.
func (s Summary) Healthy() bool {
	return s.Run.Error == "" && len(s.Failures) == 0
}

// Reporter publishes run summaries to external systems.
type Reporter interface {
	// Name returns the reporter identifier.
	Name() string

	// Send delivers a summary. Implementations must be safe for concurrent use.
	Send(ctx context.Context, summary Summary) error
}
