package model

import (
	"fmt"
	"time"
)

// Valid range for Alert.AlertLevel on the US AQI scale.
const (
	MinAlertLevel = 1
	MaxAlertLevel = 500
)

// ThresholdState records which side of the threshold an alert was last observed on.
type ThresholdState int

const (
	StateBelow ThresholdState = iota // Reading at or below the level, or never above
	StateAbove                       // Reading strictly above the level
)

// StateFromActive maps the persisted alert_active_last_check flag to a state.
func StateFromActive(active bool) ThresholdState {
	if active {
		return StateAbove
	}
	return StateBelow
}

// Active reports the persisted flag value for the state.
func (s ThresholdState) Active() bool { return s == StateAbove }

func (s ThresholdState) String() string {
	if s == StateAbove {
		return "above"
	}
	return "below"
}

// Account is the owner of alerts. Only confirmed addresses receive mail.
type Account struct {
	ID             int64     `json:"id" db:"id" yaml:"id"`
	Email          string    `json:"email" db:"email" yaml:"email"`
	ConfirmedEmail bool      `json:"confirmed_email" db:"confirmed_email" yaml:"confirmed_email"`
	CreatedAt      time.Time `json:"created_at" db:"created_at" yaml:"-"`
}

// Alert is a user-defined rule pairing a location with an AQI threshold.
type Alert struct {
	ID                   int64     `json:"id" db:"id" yaml:"id"`
	AccountID            int64     `json:"account_id" db:"account_id" yaml:"account_id"`
	LocationName         string    `json:"location_name" db:"location_name" yaml:"location_name"`
	Latitude             float64   `json:"latitude" db:"latitude" yaml:"latitude"`
	Longitude            float64   `json:"longitude" db:"longitude" yaml:"longitude"`
	AlertLevel           int       `json:"alert_level" db:"alert_level" yaml:"alert_level"`
	AlertActiveLastCheck bool      `json:"alert_active_last_check" db:"alert_active_last_check" yaml:"alert_active_last_check"`
	CreatedAt            time.Time `json:"created_at" db:"created_at" yaml:"-"`
}

// Validate checks the fields the job relies on.
func (a *Alert) Validate() error {
	if a.AlertLevel < MinAlertLevel || a.AlertLevel > MaxAlertLevel {
		return fmt.Errorf("alert level %d out of range %d-%d", a.AlertLevel, MinAlertLevel, MaxAlertLevel)
	}
	if a.Latitude < -90 || a.Latitude > 90 {
		return fmt.Errorf("latitude %f out of range", a.Latitude)
	}
	if a.Longitude < -180 || a.Longitude > 180 {
		return fmt.Errorf("longitude %f out of range", a.Longitude)
	}
	return nil
}

// AlertView is an alert joined with its owner's notification address.
type AlertView struct {
	ID           int64          `json:"id"`
	AccountID    int64          `json:"account_id"`
	LocationName string         `json:"location_name"`
	Latitude     float64        `json:"latitude"`
	Longitude    float64        `json:"longitude"`
	AlertLevel   int            `json:"alert_level"`
	State        ThresholdState `json:"state"`
	Email        string         `json:"email"`
}

// Reading is the outcome of one air-quality feed query. It is never persisted.
type Reading struct {
	OK        bool      `json:"ok"`
	Status    string    `json:"status"`
	Value     float64   `json:"value,omitempty"`
	Station   string    `json:"station,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
	Err       error     `json:"-"`
}

// FailedReading builds a Reading for a query that produced no usable value.
func FailedReading(status string, err error) Reading {
	return Reading{OK: false, Status: status, Err: err, FetchedAt: time.Now().UTC()}
}

// RunRecord summarizes one completed pass over the eligible alerts.
type RunRecord struct {
	ID             string    `json:"id" db:"id"`
	StartedAt      time.Time `json:"started_at" db:"started_at"`
	FinishedAt     time.Time `json:"finished_at" db:"finished_at"`
	AlertsTotal    int       `json:"alerts_total" db:"alerts_total"`
	Notified       int       `json:"notified" db:"notified"`
	FetchFailed    int       `json:"fetch_failed" db:"fetch_failed"`
	DeliveryFailed int       `json:"delivery_failed" db:"delivery_failed"`
	CommitFailed   int       `json:"commit_failed" db:"commit_failed"`
	Panicked       int       `json:"panicked" db:"panicked"`
	Error          string    `json:"error,omitempty" db:"error"`
}

// Failures returns the number of attempts that did not complete cleanly.
func (r *RunRecord) Failures() int {
	return r.FetchFailed + r.DeliveryFailed + r.CommitFailed + r.Panicked
}
