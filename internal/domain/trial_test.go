package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"shelfmarket-backend/internal/domain"
)

func TestTrialState_DueThresholds(t *testing.T) {
	tests := []struct {
		name          string
		state         domain.TrialState
		daysRemaining int
		want          []domain.ReminderThreshold
	}{
		{"Nothing due yet", domain.TrialState{}, 8, nil},
		{"Seven days", domain.TrialState{}, 7, []domain.ReminderThreshold{7}},
		{"Seven already sent", domain.TrialState{Reminder7Sent: true}, 5, nil},
		{"Skipped run", domain.TrialState{Reminder7Sent: true}, 2, []domain.ReminderThreshold{3}},
		{"Long gap all due", domain.TrialState{}, 0, []domain.ReminderThreshold{7, 3, 1, 0}},
		{"Past end", domain.TrialState{Reminder7Sent: true, Reminder3Sent: true}, -4, []domain.ReminderThreshold{1, 0}},
		{"All sent", domain.TrialState{Reminder7Sent: true, Reminder3Sent: true, Reminder1Sent: true, ExpirationSent: true}, -1, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.DueThresholds(tt.daysRemaining))
		})
	}
}

func TestMostUrgent(t *testing.T) {
	got, ok := domain.MostUrgent([]domain.ReminderThreshold{7, 3, 1, 0})
	assert.True(t, ok)
	assert.Equal(t, domain.ReminderExpiration, got)
	assert.Equal(t, domain.NotificationTrialExpired, got.NotificationKind())

	got, ok = domain.MostUrgent([]domain.ReminderThreshold{7, 3})
	assert.True(t, ok)
	assert.Equal(t, domain.NotificationTrialReminder3, got.NotificationKind())

	_, ok = domain.MostUrgent(nil)
	assert.False(t, ok)
}

func TestTrialState_MarkSentAndReset(t *testing.T) {
	now := time.Date(2025, 10, 8, 6, 0, 0, 0, time.UTC)
	var s domain.TrialState

	for _, th := range domain.ReminderThresholds {
		s.MarkSent(th, now)
		assert.True(t, s.Sent(th))
	}
	assert.Equal(t, now, *s.LastReminderSentAt)

	s.Reset()
	for _, th := range domain.ReminderThresholds {
		assert.False(t, s.Sent(th))
	}
}
