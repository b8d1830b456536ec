// Package threshold decides whether an air-quality reading crossed an alert's
// level relative to the side it was last observed on.
package threshold

import "github.com/aqimebaby/aqialert/pkg/model"

// Decision is the outcome of evaluating one reading against one alert.
type Decision int

const (
	NoAction     Decision = iota // Nothing to send, state unchanged
	CrossedAbove                 // Reading rose above the level
	CrossedBelow                 // Reading fell below the level
)

func (d Decision) String() string {
	switch d {
	case CrossedAbove:
		return "crossed_above"
	case CrossedBelow:
		return "crossed_below"
	default:
		return "no_action"
	}
}

// IsCrossing reports whether the decision calls for a notification.
func (d Decision) IsCrossing() bool {
	return d == CrossedAbove || d == CrossedBelow
}

// Evaluate applies hysteresis to a reading. A failed reading never acts, and
// a value equal to the level is not a crossing in either direction.
func Evaluate(r model.Reading, level int, prev model.ThresholdState) Decision {
	if !r.OK {
		return NoAction
	}
	l := float64(level)
	switch {
	case r.Value > l && prev == model.StateBelow:
		return CrossedAbove
	case r.Value < l && prev == model.StateAbove:
		return CrossedBelow
	default:
		return NoAction
	}
}

// Next returns the state to persist once a decision has been delivered.
func Next(prev model.ThresholdState, d Decision) model.ThresholdState {
	switch d {
	case CrossedAbove:
		return model.StateAbove
	case CrossedBelow:
		return model.StateBelow
	default:
		return prev
	}
}
