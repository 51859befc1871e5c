package mailqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bassline-events/mailroom-backend/pkg/config"
	"github.com/bassline-events/mailroom-backend/pkg/db/models"
	"github.com/bassline-events/mailroom-backend/pkg/enums"
	pkgerrors "github.com/bassline-events/mailroom-backend/pkg/errors"
	"github.com/bassline-events/mailroom-backend/pkg/logger"
)

type fakeKicker struct {
	kicks int
}

func (f *fakeKicker) Kick(context.Context) { f.kicks++ }

func testQueueConfig() config.QueueConfig {
	return config.QueueConfig{
		PollInterval:        time.Second,
		BatchSize:           10,
		WorkerConcurrency:   2,
		DefaultMaxRetries:   5,
		VerificationRetries: 2,
		BackoffBase:         time.Second,
		BackoffCap:          60 * time.Second,
		ScheduleHorizon:     30 * 24 * time.Hour,
		ClaimLease:          10 * time.Minute,
	}
}

func newTestService(t *testing.T) (*service, Repository, *fakeKicker) {
	t.Helper()
	db := setupQueueTestDB(t)
	repo := NewRepository(db)
	logg := logger.New(logger.Options{Level: zerolog.ErrorLevel})
	kicker := &fakeKicker{}
	svc, err := NewService(repo, testQueueConfig(), logg, kicker)
	require.NoError(t, err)
	return svc.(*service), repo, kicker
}

func TestEnqueueValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		params EnqueueParams
	}{
		{"missing recipient", EnqueueParams{SenderEmail: "a@b.c", Subject: "s", BodyText: "b"}},
		{"missing sender", EnqueueParams{Recipient: "a@b.c", Subject: "s", BodyText: "b"}},
		{"missing subject", EnqueueParams{Recipient: "a@b.c", SenderEmail: "x@y.z", BodyText: "b"}},
		{"missing body", EnqueueParams{Recipient: "a@b.c", SenderEmail: "x@y.z", Subject: "s"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Enqueue(ctx, tc.params)
			require.Error(t, err)
			assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
		})
	}

	horizonBreaker := time.Now().UTC().Add(60 * 24 * time.Hour)
	_, err := svc.Enqueue(ctx, EnqueueParams{
		Recipient:   "a@b.c",
		SenderEmail: "x@y.z",
		Subject:     "s",
		BodyText:    "b",
		ScheduledAt: &horizonBreaker,
	})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestEnqueueDefaultsAndKick(t *testing.T) {
	svc, repo, kicker := newTestService(t)
	ctx := context.Background()

	id, err := svc.Enqueue(ctx, EnqueueParams{
		Recipient:   "member@example.com",
		SenderEmail: "no-reply@bassline.events",
		Subject:     "Your code",
		BodyText:    "123456",
		Category:    CategoryVerification,
		Priority:    PriorityUrgent,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, kicker.kicks)

	job, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, enums.MailStatusPending, job.Status)
	assert.Equal(t, 0, job.RetryCount)
	assert.Equal(t, 2, job.MaxRetries, "verification category uses the smaller retry budget")
	assert.Equal(t, PriorityUrgent, job.Priority)
}

func TestCompleteGuards(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	id, err := svc.Enqueue(ctx, EnqueueParams{
		Recipient:   "member@example.com",
		SenderEmail: "no-reply@bassline.events",
		Subject:     "hi",
		BodyText:    "hi",
	})
	require.NoError(t, err)

	err = svc.Complete(ctx, id)
	require.Error(t, err, "completing an unclaimed job must fail")
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())

	claimed, err := svc.Claim(ctx, "worker-a", 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, svc.Complete(ctx, id))

	err = svc.Complete(ctx, id)
	require.Error(t, err, "double completion must fail")
}

func TestFailBackoffGrowth(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := base
	svc.now = func() time.Time { return current }

	id, err := svc.Enqueue(ctx, EnqueueParams{
		Recipient:   "member@example.com",
		SenderEmail: "no-reply@bassline.events",
		Subject:     "hi",
		BodyText:    "hi",
	})
	require.NoError(t, err)

	expected := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	for attempt, want := range expected {
		claimed, err := svc.Claim(ctx, "worker-a", 1)
		require.NoError(t, err)
		require.Len(t, claimed, 1, "attempt %d should find the job due", attempt)

		transient := pkgerrors.New(pkgerrors.CodeSendTransient, "connection reset")
		require.NoError(t, svc.Fail(ctx, id, transient))

		job, err := repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, enums.MailStatusRetrying, job.Status)
		assert.Equal(t, attempt+1, job.RetryCount)
		assert.WithinDuration(t, current.Add(want), job.ScheduledAt, time.Second)

		current = job.ScheduledAt.Add(time.Millisecond)
	}
}

func TestFailBackoffCap(t *testing.T) {
	svc, _, _ := newTestService(t)
	svc.cfg.BackoffBase = time.Second
	svc.cfg.BackoffCap = 4 * time.Second

	assert.Equal(t, time.Second, svc.backoffDelay(0))
	assert.Equal(t, 2*time.Second, svc.backoffDelay(1))
	assert.Equal(t, 4*time.Second, svc.backoffDelay(2))
	assert.Equal(t, 4*time.Second, svc.backoffDelay(3))
	assert.Equal(t, 4*time.Second, svc.backoffDelay(10))
}

func TestFailPermanentTerminates(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	id, err := svc.Enqueue(ctx, EnqueueParams{
		Recipient:   "bad@",
		SenderEmail: "no-reply@bassline.events",
		Subject:     "hi",
		BodyText:    "hi",
	})
	require.NoError(t, err)

	_, err = svc.Claim(ctx, "worker-a", 1)
	require.NoError(t, err)

	permanent := pkgerrors.New(pkgerrors.CodeSendPermanent, "550 user unknown")
	require.NoError(t, svc.Fail(ctx, id, permanent))

	job, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, enums.MailStatusFailed, job.Status)
	require.NotNil(t, job.FailedAt)
	assert.Equal(t, 0, job.RetryCount, "permanent failure does not consume retries")
}

func TestFailExhaustedBudgetTerminates(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	zero := 0
	id, err := svc.Enqueue(ctx, EnqueueParams{
		Recipient:   "member@example.com",
		SenderEmail: "no-reply@bassline.events",
		Subject:     "hi",
		BodyText:    "hi",
		MaxRetries:  &zero,
	})
	require.NoError(t, err)

	_, err = svc.Claim(ctx, "worker-a", 1)
	require.NoError(t, err)

	require.NoError(t, svc.Fail(ctx, id, errors.New("dial tcp: timeout")))

	job, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, enums.MailStatusFailed, job.Status)
	assert.LessOrEqual(t, job.RetryCount, job.MaxRetries)
}

func TestRequeueLifecycle(t *testing.T) {
	svc, repo, kicker := newTestService(t)
	ctx := context.Background()

	id, err := svc.Enqueue(ctx, EnqueueParams{
		Recipient:   "member@example.com",
		SenderEmail: "no-reply@bassline.events",
		Subject:     "hi",
		BodyText:    "hi",
	})
	require.NoError(t, err)

	err = svc.Requeue(ctx, id)
	require.Error(t, err, "pending jobs cannot be requeued")
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())

	_, err = svc.Claim(ctx, "worker-a", 1)
	require.NoError(t, err)
	require.NoError(t, svc.Fail(ctx, id, pkgerrors.New(pkgerrors.CodeSendPermanent, "550")))

	kicksBefore := kicker.kicks
	require.NoError(t, svc.Requeue(ctx, id))
	assert.Greater(t, kicker.kicks, kicksBefore)

	job, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, enums.MailStatusPending, job.Status)
	assert.Nil(t, job.LastError)
}

func TestDeleteByStatusRejectsSending(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.DeleteByStatus(ctx, enums.MailStatusSending)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())

	_, err = svc.DeleteByStatus(ctx, "bogus")
	require.Error(t, err)
}

func TestStatsSnapshot(t *testing.T) {
	db := setupQueueTestDB(t)
	repo := NewRepository(db)
	now := time.Now().UTC()

	seedJob(t, db, nil)
	recent := now.Add(-time.Hour)
	seedJob(t, db, func(j *models.MailJob) {
		j.Status = enums.MailStatusSent
		j.SentAt = &recent
	})
	old := now.AddDate(0, 0, -10)
	seedJob(t, db, func(j *models.MailJob) {
		j.Status = enums.MailStatusSent
		j.SentAt = &old
	})

	statsSvc, err := NewStatsService(repo)
	require.NoError(t, err)

	stats, err := statsSvc.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(1), stats.ByStatus[enums.MailStatusPending])
	assert.Equal(t, int64(2), stats.ByStatus[enums.MailStatusSent])
	assert.Equal(t, int64(1), stats.Sent7d)
	assert.Equal(t, int64(2), stats.Sent30d)
}
