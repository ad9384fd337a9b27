package domain

import "time"

// ReminderThreshold is a number of days before trial end at which a one-time
// notification is due. Zero is the expiration notice.
type ReminderThreshold int

const (
	ReminderSevenDays  ReminderThreshold = 7
	ReminderThreeDays  ReminderThreshold = 3
	ReminderOneDay     ReminderThreshold = 1
	ReminderExpiration ReminderThreshold = 0
)

// ReminderThresholds in evaluation order, most distant first.
var ReminderThresholds = []ReminderThreshold{
	ReminderSevenDays,
	ReminderThreeDays,
	ReminderOneDay,
	ReminderExpiration,
}

func (t ReminderThreshold) NotificationKind() string {
	switch t {
	case ReminderSevenDays:
		return NotificationTrialReminder7
	case ReminderThreeDays:
		return NotificationTrialReminder3
	case ReminderOneDay:
		return NotificationTrialReminder1
	default:
		return NotificationTrialExpired
	}
}

// TrialState records which trial notifications have fired for a vendor.
type TrialState struct {
	VendorID              string     `json:"vendor_id"`
	Reminder7Sent         bool       `json:"reminder_7_sent"`
	Reminder3Sent         bool       `json:"reminder_3_sent"`
	Reminder1Sent         bool       `json:"reminder_1_sent"`
	ExpirationSent        bool       `json:"expiration_sent"`
	LastReminderSentAt    *time.Time `json:"last_reminder_sent_at,omitempty"`
	TrialConversionDate   *time.Time `json:"trial_conversion_date,omitempty"`
	ConversionRequestedAt *time.Time `json:"conversion_requested_at,omitempty"`
	UpdatedOn             time.Time  `json:"updated_on"`
}

func (s *TrialState) Sent(t ReminderThreshold) bool {
	switch t {
	case ReminderSevenDays:
		return s.Reminder7Sent
	case ReminderThreeDays:
		return s.Reminder3Sent
	case ReminderOneDay:
		return s.Reminder1Sent
	default:
		return s.ExpirationSent
	}
}

// MarkSent sets the flag for t. Flags are never cleared here.
func (s *TrialState) MarkSent(t ReminderThreshold, at time.Time) {
	switch t {
	case ReminderSevenDays:
		s.Reminder7Sent = true
	case ReminderThreeDays:
		s.Reminder3Sent = true
	case ReminderOneDay:
		s.Reminder1Sent = true
	default:
		s.ExpirationSent = true
	}
	ts := at
	s.LastReminderSentAt = &ts
}

// DueThresholds returns every unfired threshold that daysRemaining has reached,
// most distant first. After a gap in runs several can be due at once.
func (s *TrialState) DueThresholds(daysRemaining int) []ReminderThreshold {
	var due []ReminderThreshold
	for _, t := range ReminderThresholds {
		if daysRemaining <= int(t) && !s.Sent(t) {
			due = append(due, t)
		}
	}
	return due
}

// MostUrgent picks the threshold to dispatch from a DueThresholds result.
func MostUrgent(due []ReminderThreshold) (ReminderThreshold, bool) {
	if len(due) == 0 {
		return 0, false
	}
	return due[len(due)-1], true
}

func (s *TrialState) ConversionRequested() bool {
	return s.ConversionRequestedAt != nil
}

// Reset clears all flags. Administrative rollback only.
func (s *TrialState) Reset() {
	s.Reminder7Sent = false
	s.Reminder3Sent = false
	s.Reminder1Sent = false
	s.ExpirationSent = false
	s.LastReminderSentAt = nil
}
