package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bassline-events/mailroom-backend/internal/mailqueue"
	"github.com/bassline-events/mailroom-backend/pkg/config"
	"github.com/bassline-events/mailroom-backend/pkg/db/models"
	"github.com/bassline-events/mailroom-backend/pkg/enums"
	pkgerrors "github.com/bassline-events/mailroom-backend/pkg/errors"
	"github.com/bassline-events/mailroom-backend/pkg/logger"
	"github.com/bassline-events/mailroom-backend/pkg/mailer"
	"github.com/bassline-events/mailroom-backend/pkg/metrics"
)

const (
	defaultPollInterval = 15 * time.Second
	defaultBatchSize    = 25
	defaultConcurrency  = 4
	defaultSendTimeout  = 30 * time.Second
)

type claimReaper interface {
	ReleaseExpiredClaims(ctx context.Context, cutoff, now time.Time) (int64, error)
	CountByStatus(ctx context.Context) (map[enums.MailStatus]int64, error)
}

// ServiceParams configure the dispatch loop.
type ServiceParams struct {
	Config   *config.Config
	Logger   *logger.Logger
	Queue    mailqueue.Service
	Reaper   claimReaper
	Sender   mailer.Sender
	Metrics  *metrics.DispatcherMetrics
	WorkerID string
	Kicks    <-chan struct{}
}

// Service claims due jobs and drives them through the external sender.
type Service struct {
	cfg         *config.Config
	logg        *logger.Logger
	queue       mailqueue.Service
	reaper      claimReaper
	sender      mailer.Sender
	metrics     *metrics.DispatcherMetrics
	workerID    string
	kicks       <-chan struct{}
	throttle    *rate.Limiter
	poll        time.Duration
	batchSize   int
	concurrency int
	sendTimeout time.Duration
}

// NewService validates dependencies and builds the dispatcher.
func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Queue == nil {
		return nil, errors.New("queue service is required")
	}
	if params.Reaper == nil {
		return nil, errors.New("claim reaper is required")
	}
	if params.Sender == nil {
		return nil, errors.New("sender is required")
	}
	if params.WorkerID == "" {
		return nil, errors.New("worker id is required")
	}

	queueCfg := params.Config.Queue
	poll := queueCfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	batch := queueCfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	concurrency := queueCfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	sendTimeout := params.Config.SMTP.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}

	sendsPerSecond := params.Config.SMTP.SendsPerSecond
	if sendsPerSecond <= 0 {
		sendsPerSecond = 10
	}
	burst := params.Config.SMTP.SendBurst
	if burst <= 0 {
		burst = 1
	}

	return &Service{
		cfg:         params.Config,
		logg:        params.Logger,
		queue:       params.Queue,
		reaper:      params.Reaper,
		sender:      params.Sender,
		metrics:     params.Metrics,
		workerID:    params.WorkerID,
		kicks:       params.Kicks,
		throttle:    rate.NewLimiter(rate.Limit(sendsPerSecond), burst),
		poll:        poll,
		batchSize:   batch,
		concurrency: concurrency,
		sendTimeout: sendTimeout,
	}, nil
}

// Run drives dispatch cycles until the context is canceled. A cycle runs on
// every poll tick and on every kick; cycle errors are logged, never fatal.
func (s *Service) Run(ctx context.Context) error {
	s.logg.Info(ctx, "dispatcher started")
	s.cycle(ctx)

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "dispatcher shutting down")
			return ctx.Err()
		case <-ticker.C:
			s.cycle(ctx)
		case _, ok := <-s.kicks:
			if !ok {
				s.kicks = nil
				continue
			}
			s.drainKicks()
			s.cycle(ctx)
		}
	}
}

// drainKicks collapses a burst of queued kicks into the single cycle that is
// about to run.
func (s *Service) drainKicks() {
	for {
		select {
		case <-s.kicks:
		default:
			return
		}
	}
}

// cycle reaps lapsed claims, then claims and processes one batch.
func (s *Service) cycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	if lease := s.cfg.Queue.ClaimLease; lease > 0 {
		now := time.Now().UTC()
		released, err := s.reaper.ReleaseExpiredClaims(ctx, now.Add(-lease), now)
		if err != nil {
			s.logg.Error(ctx, "claim reap failed", err)
		} else if released > 0 {
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"released": released}), "expired claims released")
		}
	}

	if counts, err := s.reaper.CountByStatus(ctx); err != nil {
		s.logg.Warn(ctx, "queue depth count failed")
	} else {
		for _, status := range enums.MailStatuses() {
			s.metrics.SetQueueDepth(string(status), counts[status])
		}
	}

	jobs, err := s.queue.Claim(ctx, s.workerID, s.batchSize)
	if err != nil {
		s.logg.Error(ctx, "claim cycle failed", err)
		return
	}
	if len(jobs) == 0 {
		return
	}
	s.metrics.IncClaimed(len(jobs))

	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup
	for i := range jobs {
		job := jobs[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			s.process(ctx, job)
		}()
	}
	wg.Wait()
}

// process sends one claimed job and applies the resulting transition. Panics
// and sender errors are contained to the single job.
func (s *Service) process(ctx context.Context, job models.MailJob) {
	ctx = s.logg.WithJobID(ctx, job.ID.String())
	ctx = s.logg.WithCategory(ctx, job.Category)

	defer func() {
		if rec := recover(); rec != nil {
			err := pkgerrors.New(pkgerrors.CodeInternal, "panic during send")
			s.logg.Error(s.logg.WithFields(ctx, map[string]any{"panic": rec}), "send panicked", err)
			if failErr := s.queue.Fail(ctx, job.ID, err); failErr != nil {
				s.logg.Error(ctx, "failed to record panic failure", failErr)
			}
		}
	}()

	if err := s.throttle.Wait(ctx); err != nil {
		// shutting down mid-batch; the claim lease returns the job
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()

	start := time.Now()
	err := s.sender.Send(sendCtx, mailer.Message{
		To:       job.Recipient,
		From:     job.SenderEmail,
		FromName: job.SenderName,
		Subject:  job.Subject,
		HTML:     job.BodyHTML,
		Text:     job.BodyText,
	})
	duration := time.Since(start)

	if err != nil {
		outcome := "transient_failure"
		if !pkgerrors.IsRetryable(err) {
			outcome = "permanent_failure"
		}
		s.metrics.ObserveSend(job.Category, outcome, duration)
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"outcome": outcome}), "send attempt failed")
		if failErr := s.queue.Fail(ctx, job.ID, err); failErr != nil {
			s.logg.Error(ctx, "failed to record send failure", failErr)
		}
		return
	}

	s.metrics.ObserveSend(job.Category, "sent", duration)
	if completeErr := s.queue.Complete(ctx, job.ID); completeErr != nil {
		s.logg.Error(ctx, "failed to record completion", completeErr)
		return
	}
	s.logg.Info(ctx, "mail delivered")
}
