package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"shelfmarket-backend/internal/domain"
	"shelfmarket-backend/internal/errs"
	"shelfmarket-backend/internal/repository"
	"shelfmarket-backend/internal/service"
)

func TestRetryBackoff(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{7, 32 * time.Minute},
		{8, time.Hour},
		{30, time.Hour},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, service.RetryBackoff(tt.attempts, 30*time.Second, time.Hour), "attempts=%d", tt.attempts)
	}
}

func TestDeliverDue_Sent(t *testing.T) {
	f := newFixture(t, "2025-09-01")
	ctx := context.Background()
	v := f.vendor(t, "Imkerei Lutz")

	sender := new(MockSender)
	sender.On("Send", mock.Anything, mock.MatchedBy(func(msg service.Message) bool {
		return msg.Subject == "Your trial ends in 3 day(s)" && msg.ToName == "Imkerei Lutz"
	})).Return(nil).Once()
	notifier := service.NewNotificationService(f.store, sender, f.alerts, f.clock, notificationConfig())

	jobID, err := notifier.Enqueue(ctx, domain.NotificationTrialReminder3, v.ID, map[string]any{"days_remaining": 3, "trial_end": "2025-09-04"})
	require.NoError(t, err)

	stats, err := notifier.DeliverDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, service.DeliveryStats{Claimed: 1, Sent: 1}, stats)

	job, err := f.store.NotificationJobs().GetByID(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationStatusSent, job.Status)
	assert.NotNil(t, job.SentAt)

	stats, err = notifier.DeliverDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Claimed)
	sender.AssertExpectations(t)
}

func TestDeliverDue_RetriesThenEscalates(t *testing.T) {
	f := newFixture(t, "2025-09-01")
	ctx := context.Background()
	v := f.vendor(t, "Seifenwerk")

	sender := new(MockSender)
	sender.On("Send", mock.Anything, mock.Anything).Return(errs.New("smtp timeout"))
	notifier := service.NewNotificationService(f.store, sender, f.alerts, f.clock, notificationConfig())

	jobID, err := notifier.Enqueue(ctx, domain.NotificationTrialExpired, v.ID, map[string]any{"trial_end": "2025-09-01"})
	require.NoError(t, err)

	stats, err := notifier.DeliverDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Retried)

	job, err := f.store.NotificationJobs().GetByID(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationStatusQueued, job.Status)
	assert.Equal(t, f.clock.Now().Add(30*time.Second), job.RunAt)
	assert.Equal(t, "smtp timeout", job.LastError)

	// not due yet
	stats, err = notifier.DeliverDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Claimed)

	f.clock.Add(30 * time.Second)
	stats, err = notifier.DeliverDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Retried)

	f.clock.Add(time.Minute)
	stats, err = notifier.DeliverDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	job, err = f.store.NotificationJobs().GetByID(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationStatusFailed, job.Status)
	assert.Equal(t, 3, job.Attempts)
	assert.Equal(t, []string{"Notification delivery failed"}, f.alerts.Subjects())
	sender.AssertNumberOfCalls(t, "Send", 3)
}

func TestDeliverDue_PermanentFailureIsNotRetried(t *testing.T) {
	f := newFixture(t, "2025-09-01")
	ctx := context.Background()
	v := f.vendor(t, "Seifenwerk")

	sender := new(MockSender)
	sender.On("Send", mock.Anything, mock.Anything).Return(errs.Mark(errs.New("550 mailbox unavailable"), errs.ErrPermanentDelivery)).Once()
	notifier := service.NewNotificationService(f.store, sender, f.alerts, f.clock, notificationConfig())

	_, err := notifier.Enqueue(ctx, domain.NotificationTrialConverted, v.ID, map[string]any{"conversion_date": "2025-09-01"})
	require.NoError(t, err)
	_, err = notifier.Enqueue(ctx, domain.NotificationTrialConverted, "unknown-vendor", nil)
	require.NoError(t, err)

	stats, err := notifier.DeliverDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Claimed)
	assert.Equal(t, 2, stats.Failed)
	assert.Len(t, f.alerts.Subjects(), 2)
	sender.AssertExpectations(t)
}

func TestEnqueue_FallsBackToSynchronousSend(t *testing.T) {
	f := newFixture(t, "2025-09-01")
	ctx := context.Background()
	v := f.vendor(t, "Imkerei Lutz")
	store := failingQueueStore{Store: f.store, err: errs.New("queue table locked")}

	t.Run("SendSucceeds", func(t *testing.T) {
		sender := new(MockSender)
		sender.On("Send", mock.Anything, mock.MatchedBy(func(msg service.Message) bool {
			return msg.Kind == domain.NotificationContractCancelled
		})).Return(nil).Once()
		notifier := service.NewNotificationService(store, sender, f.alerts, f.clock, notificationConfig())

		id, err := notifier.Enqueue(ctx, domain.NotificationContractCancelled, v.ID, map[string]any{"contract_id": "c-1"})
		require.NoError(t, err)
		assert.NotEmpty(t, id)
		assert.Empty(t, f.alerts.Subjects())
		sender.AssertExpectations(t)
	})

	t.Run("SendFails", func(t *testing.T) {
		sender := new(MockSender)
		sender.On("Send", mock.Anything, mock.Anything).Return(errs.New("connection refused")).Once()
		notifier := service.NewNotificationService(store, sender, f.alerts, f.clock, notificationConfig())

		_, err := notifier.Enqueue(ctx, domain.NotificationContractCancelled, v.ID, nil)
		assert.True(t, errs.Is(err, errs.ErrDispatchUnavailable))
		assert.Equal(t, []string{"Notification dispatch unavailable"}, f.alerts.Subjects())
	})
}

func TestEnqueueTx_RollsBackWithCaller(t *testing.T) {
	f := newFixture(t, "2025-09-01")
	ctx := context.Background()
	v := f.vendor(t, "Imkerei Lutz")

	var jobID string
	err := f.store.Within(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		jobID, err = f.notifier.EnqueueTx(ctx, tx, domain.NotificationTrialExpired, v.ID, nil)
		require.NoError(t, err)
		return errs.New("abort")
	})
	require.Error(t, err)

	_, err = f.store.NotificationJobs().GetByID(ctx, jobID)
	assert.True(t, errs.Is(err, errs.ErrNotFound))
}
