package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aqimebaby/aqialert/pkg/model"
)

func TestStateFromActive(t *testing.T) {
	assert.Equal(t, model.StateAbove, model.StateFromActive(true))
	assert.Equal(t, model.StateBelow, model.StateFromActive(false))
	assert.True(t, model.StateAbove.Active())
	assert.False(t, model.StateBelow.Active())
	assert.Equal(t, "above", model.StateAbove.String())
	assert.Equal(t, "below", model.StateBelow.String())
}

func TestAlert_Validate(t *testing.T) {
	tests := []struct {
		name    string
		alert   model.Alert
		wantErr bool
	}{
		{"valid", model.Alert{AlertLevel: 100, Latitude: 37.77, Longitude: -122.42}, false},
		{"lowest level", model.Alert{AlertLevel: 1}, false},
		{"highest level", model.Alert{AlertLevel: 500}, false},
		{"zero level", model.Alert{AlertLevel: 0}, true},
		{"level too high", model.Alert{AlertLevel: 501}, true},
		{"bad latitude", model.Alert{AlertLevel: 50, Latitude: 91}, true},
		{"bad longitude", model.Alert{AlertLevel: 50, Longitude: -181}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.alert.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRunRecord_Failures(t *testing.T) {
	r := model.RunRecord{FetchFailed: 2, DeliveryFailed: 1, CommitFailed: 1, Panicked: 1, Notified: 5}
	assert.Equal(t, 5, r.Failures())
}
