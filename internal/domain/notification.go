package domain

import "time"

// Notification kinds understood by the delivery worker.
const (
	NotificationBookingConfirmed  = "booking_confirmed"
	NotificationContractCancelled = "contract_cancelled"
	NotificationTrialReminder7    = "trial_reminder_7d"
	NotificationTrialReminder3    = "trial_reminder_3d"
	NotificationTrialReminder1    = "trial_reminder_1d"
	NotificationTrialExpired      = "trial_expired"
	NotificationTrialConverted    = "trial_converted"
)

type NotificationStatus string

const (
	NotificationStatusQueued     NotificationStatus = "queued"
	NotificationStatusProcessing NotificationStatus = "processing"
	NotificationStatusSent       NotificationStatus = "sent"
	NotificationStatusFailed     NotificationStatus = "failed"
)

// NotificationJob is a durable dispatch request.
type NotificationJob struct {
	ID          string             `json:"id"`
	Kind        string             `json:"kind"`
	RecipientID string             `json:"recipient_id"`
	Payload     map[string]any     `json:"payload"`
	Status      NotificationStatus `json:"status"`
	Attempts    int                `json:"attempts"`
	RunAt       time.Time          `json:"run_at"`
	LockedAt    *time.Time         `json:"locked_at,omitempty"`
	LockedBy    string             `json:"locked_by,omitempty"`
	LastError   string             `json:"last_error,omitempty"`
	SentAt      *time.Time         `json:"sent_at,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

type JobRunOutcome string

const (
	JobRunRunning   JobRunOutcome = "running"
	JobRunCompleted JobRunOutcome = "completed"
	JobRunOverlap   JobRunOutcome = "overlap"
)

// AccountFailure is one isolated per-vendor error from a scheduler run.
type AccountFailure struct {
	VendorID   string `json:"vendor_id"`
	ContractID string `json:"contract_id,omitempty"`
	Error      string `json:"error"`
}

// JobRun is the persisted record of one scheduler pass.
type JobRun struct {
	ID           string           `json:"id"`
	JobName      string           `json:"job_name"`
	StartedAt    time.Time        `json:"started_at"`
	FinishedAt   *time.Time       `json:"finished_at,omitempty"`
	Processed    int              `json:"processed"`
	Dispatched   int              `json:"dispatched"`
	Transitioned int              `json:"transitioned"`
	Failures     []AccountFailure `json:"failures"`
	Outcome      JobRunOutcome    `json:"outcome"`
}
