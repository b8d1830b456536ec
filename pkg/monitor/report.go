package monitor

import (
	"github.com/aqimebaby/aqialert/pkg/model"
	"github.com/aqimebaby/aqialert/pkg/reporting"
	"github.com/aqimebaby/aqialert/pkg/threshold"
)

// Outcome classifies how one alert's attempt ended.
type Outcome string

const (
	OutcomeNoAction       Outcome = "no_action"
	OutcomeNotified       Outcome = "notified"
	OutcomeFetchFailed    Outcome = "fetch_failed"
	OutcomeDeliveryFailed Outcome = "delivery_failed"
	OutcomeCommitFailed   Outcome = "commit_failed"
	OutcomePanicked       Outcome = "panicked"
)

// Failed reports whether the outcome should be surfaced to operators.
func (o Outcome) Failed() bool {
	switch o {
	case OutcomeNoAction, OutcomeNotified:
		return false
	default:
		return true
	}
}

// Attempt is the result of processing one alert within a run.
type Attempt struct {
	AlertID  int64
	Location string
	Reading  model.Reading
	Decision threshold.Decision
	Outcome  Outcome
	Err      error
}

// Report is the outcome of one run.
type Report struct {
	Run      model.RunRecord
	Attempts []Attempt
}

func (r *Report) tally() {
	run := &r.Run
	run.AlertsTotal = len(r.Attempts)
	run.Notified, run.FetchFailed, run.DeliveryFailed, run.CommitFailed, run.Panicked = 0, 0, 0, 0, 0
	for _, a := range r.Attempts {
		switch a.Outcome {
		case OutcomeNotified:
			run.Notified++
		case OutcomeFetchFailed:
			run.FetchFailed++
		case OutcomeDeliveryFailed:
			run.DeliveryFailed++
		case OutcomeCommitFailed:
			// the email did go out
			run.Notified++
			run.CommitFailed++
		case OutcomePanicked:
			run.Panicked++
		}
	}
}

// Summary converts the report for reporting sinks.
func (r *Report) Summary() reporting.Summary {
	s := reporting.Summary{Run: r.Run}
	for _, a := range r.Attempts {
		if !a.Outcome.Failed() {
			continue
		}
		f := reporting.Failure{
			AlertID:  a.AlertID,
			Location: a.Location,
			Outcome:  string(a.Outcome),
		}
		if a.Err != nil {
			f.Error = a.Err.Error()
		}
		s.Failures = append(s.Failures, f)
	}
	return s
}
