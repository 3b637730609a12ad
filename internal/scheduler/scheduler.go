// Package scheduler drives the discount job lifecycle. A periodic tick is
// the only code path that moves jobs between states; command handlers enqueue
// work and, at most, trigger an extra tick.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rightside-club/service-discount/internal/adapter"
	"github.com/rightside-club/service-discount/internal/domain/job"
	"github.com/rightside-club/service-discount/internal/events"
	"github.com/rightside-club/service-discount/internal/metrics"
	"github.com/rightside-club/service-discount/internal/pkg/kafka"
)

// Publisher publishes lifecycle events to the feed topic.
type Publisher interface {
	PublishEvent(ctx context.Context, topic string, event kafka.CloudEvent) error
}

// DiscountScheduler owns every transition of discount jobs. Concurrent ticks
// are collapsed: while one tick runs, others are skipped, not queued.
type DiscountScheduler struct {
	repo      job.Repository
	billing   adapter.BillingAdapter
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	interval  time.Duration

	tickMu sync.Mutex
	now    func() time.Time
}

func New(
	repo job.Repository,
	billing adapter.BillingAdapter,
	publisher Publisher,
	m *metrics.Metrics,
	logger *zap.Logger,
	interval time.Duration,
) *DiscountScheduler {
	return &DiscountScheduler{
		repo:      repo,
		billing:   billing,
		publisher: publisher,
		metrics:   m,
		logger:    logger.Named("scheduler"),
		interval:  interval,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run ticks on the configured interval until the context is cancelled. The
// first tick fires immediately so jobs missed during downtime are caught up
// on startup.
func (s *DiscountScheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))

	if err := s.Tick(ctx); err != nil {
		s.logger.Error("startup tick failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.Error("tick failed", zap.Error(err))
			}
		}
	}
}

// Tick activates due scheduled jobs and finishes expired active ones. When a
// previous tick is still running the call returns immediately without doing
// anything, so a slow billing API can never stack overlapping passes.
func (s *DiscountScheduler) Tick(ctx context.Context) error {
	if !s.tickMu.TryLock() {
		if s.metrics != nil {
			s.metrics.TickSkippedTotal.Inc()
		}
		s.logger.Debug("tick skipped, previous tick still running")
		return nil
	}
	defer s.tickMu.Unlock()

	start := time.Now()
	now := s.now()

	due, err := s.repo.DueScheduled(ctx, now)
	if err != nil {
		return err
	}
	for _, j := range due {
		if err := s.activateJob(ctx, j); err != nil {
			s.logger.Error("job activation failed",
				zap.Int64("job_id", j.ID()),
				zap.String("client_uuid", j.ClientUUID()),
				zap.Error(err),
			)
		}
	}

	expired, err := s.repo.DueActive(ctx, now)
	if err != nil {
		return err
	}
	for _, j := range expired {
		if err := s.finishJob(ctx, j); err != nil {
			s.logger.Error("job finish failed",
				zap.Int64("job_id", j.ID()),
				zap.String("client_uuid", j.ClientUUID()),
				zap.Error(err),
			)
		}
	}

	if s.metrics != nil {
		s.metrics.TickRunsTotal.Inc()
		s.metrics.TickDuration.Observe(time.Since(start).Seconds())
		s.refreshStatusGauge(ctx)
	}
	return nil
}

// CreateJob persists a new scheduled job and, when it is already due, runs a
// synchronous tick so an "apply now" command takes effect before the response
// goes out. The tick stays the only transition driver either way.
func (s *DiscountScheduler) CreateJob(ctx context.Context, j *job.Job) error {
	if err := s.repo.Save(ctx, j); err != nil {
		return err
	}
	s.publishJobEvent(ctx, events.DiscountJobCreated, j)
	if s.metrics != nil {
		s.metrics.RecordTransition(string(job.StatusScheduled))
	}

	if j.DueForActivation(s.now()) {
		if err := s.Tick(ctx); err != nil {
			s.logger.Error("immediate tick failed", zap.Int64("job_id", j.ID()), zap.Error(err))
		}
	}
	return nil
}

// CancelJob reverts and cancels a job. Canceling a job that already reached a
// terminal state is a no-op and returns the job unchanged. For an active job
// the remote revert happens first; if it fails the job keeps its state so a
// later retry still knows the discount is live.
func (s *DiscountScheduler) CancelJob(ctx context.Context, id int64) (*job.Job, error) {
	j, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.Status().IsTerminal() {
		return j, nil
	}

	if j.Status() == job.StatusActive {
		if _, err := s.setDiscount(ctx, j.ClientUUID(), j.RevertValue()); err != nil {
			return nil, err
		}
	}

	if err := j.Cancel(); err != nil {
		return nil, err
	}
	j.IncrementVersion()
	if err := s.repo.Update(ctx, j); err != nil {
		return nil, err
	}

	s.publishJobEvent(ctx, events.DiscountJobCanceled, j)
	if s.metrics != nil {
		s.metrics.RecordTransition(string(job.StatusCanceled))
	}
	s.logger.Info("job canceled",
		zap.Int64("job_id", j.ID()),
		zap.String("client_uuid", j.ClientUUID()),
	)
	return j, nil
}

// CancelOpenJobsForClient cancels the client's scheduled and active jobs
// after their discount has already been reset remotely. Used when a discount
// is removed directly on the client rather than through a job command.
func (s *DiscountScheduler) CancelOpenJobsForClient(ctx context.Context, clientUUID string) (int, error) {
	open, err := s.repo.OpenByClient(ctx, clientUUID)
	if err != nil {
		return 0, err
	}

	canceled := 0
	for _, j := range open {
		if err := j.Cancel(); err != nil {
			continue
		}
		j.IncrementVersion()
		if err := s.repo.Update(ctx, j); err != nil {
			s.logger.Error("open job cancel failed", zap.Int64("job_id", j.ID()), zap.Error(err))
			continue
		}
		s.publishJobEvent(ctx, events.DiscountJobCanceled, j)
		if s.metrics != nil {
			s.metrics.RecordTransition(string(job.StatusCanceled))
		}
		canceled++
	}
	return canceled, nil
}

// activateJob applies the discount remotely and moves the job to active.
// The client's current discount is captured and persisted before the remote
// write, so a crash in between never loses the revert value.
func (s *DiscountScheduler) activateJob(ctx context.Context, j *job.Job) error {
	if j.PreviousValue() == nil {
		client, err := s.findClient(ctx, j.ClientUUID())
		if err != nil {
			return s.failJob(ctx, j, "client lookup failed: "+err.Error())
		}
		if client == nil {
			return s.failJob(ctx, j, "client not found in billing")
		}
		j.CapturePreviousValue(client.UserDiscount)
		j.IncrementVersion()
		if err := s.repo.Update(ctx, j); err != nil {
			return err
		}
	}

	if _, err := s.setDiscount(ctx, j.ClientUUID(), j.DiscountValue()); err != nil {
		return s.failJob(ctx, j, "set discount failed: "+err.Error())
	}

	if err := j.Activate(); err != nil {
		return err
	}
	j.IncrementVersion()
	if err := s.repo.Update(ctx, j); err != nil {
		return err
	}

	s.publishJobEvent(ctx, events.DiscountJobApplied, j)
	if s.metrics != nil {
		s.metrics.RecordTransition(string(job.StatusActive))
	}
	s.logger.Info("discount applied",
		zap.Int64("job_id", j.ID()),
		zap.String("client_uuid", j.ClientUUID()),
		zap.Int("value", j.DiscountValue()),
		zap.Time("ends_at", j.EndsAt()),
	)
	return nil
}

// finishJob restores the captured previous discount and closes the job.
func (s *DiscountScheduler) finishJob(ctx context.Context, j *job.Job) error {
	if _, err := s.setDiscount(ctx, j.ClientUUID(), j.RevertValue()); err != nil {
		return s.failJob(ctx, j, "revert failed: "+err.Error())
	}

	if err := j.Finish(); err != nil {
		return err
	}
	j.IncrementVersion()
	if err := s.repo.Update(ctx, j); err != nil {
		return err
	}

	s.publishJobEvent(ctx, events.DiscountJobFinished, j)
	if s.metrics != nil {
		s.metrics.RecordTransition(string(job.StatusFinished))
	}
	s.logger.Info("discount reverted",
		zap.Int64("job_id", j.ID()),
		zap.String("client_uuid", j.ClientUUID()),
		zap.Int("revert_value", j.RevertValue()),
	)
	return nil
}

// failJob marks the job failed with a diagnostic. One failing job never
// aborts the rest of the tick.
func (s *DiscountScheduler) failJob(ctx context.Context, j *job.Job, reason string) error {
	if err := j.Fail(reason); err != nil {
		return err
	}
	j.IncrementVersion()
	if err := s.repo.Update(ctx, j); err != nil {
		return err
	}

	s.publishJobEvent(ctx, events.DiscountJobFailed, j)
	if s.metrics != nil {
		s.metrics.RecordTransition(string(job.StatusFailed))
	}
	s.logger.Warn("job failed",
		zap.Int64("job_id", j.ID()),
		zap.String("client_uuid", j.ClientUUID()),
		zap.String("reason", reason),
	)
	return nil
}

func (s *DiscountScheduler) findClient(ctx context.Context, clientUUID string) (*adapter.Client, error) {
	start := time.Now()
	client, err := s.billing.FindClientByUUID(ctx, clientUUID)
	if s.metrics != nil {
		s.metrics.RecordBilling("find_client", err, time.Since(start).Seconds())
	}
	return client, err
}

func (s *DiscountScheduler) setDiscount(ctx context.Context, clientUUID string, value int) (*adapter.Client, error) {
	start := time.Now()
	client, err := s.billing.SetDiscount(ctx, clientUUID, value)
	if s.metrics != nil {
		s.metrics.RecordBilling("set_discount", err, time.Since(start).Seconds())
	}
	return client, err
}

func (s *DiscountScheduler) publishJobEvent(ctx context.Context, eventType string, j *job.Job) {
	if s.publisher == nil {
		return
	}

	label := j.ClientNickname()
	if label == "" {
		label = j.ClientPhone()
	}
	payload := events.JobEvent{
		JobID:         j.ID(),
		ClientUUID:    j.ClientUUID(),
		ClientLabel:   label,
		DiscountValue: j.DiscountValue(),
		RevertValue:   j.PreviousValue(),
		Status:        string(j.Status()),
		Reason:        j.LastError(),
		EndsAt:        j.EndsAt(),
		CreatedBy:     j.CreatedBy(),
		OccurredAt:    time.Now().UTC(),
	}

	ce, err := kafka.NewCloudEvent(events.Source, eventType, payload)
	if err != nil {
		s.logger.Error("failed to build event", zap.String("type", eventType), zap.Error(err))
		return
	}
	if err := s.publisher.PublishEvent(ctx, events.TopicDiscountEvents, ce); err != nil {
		s.logger.Error("failed to publish event", zap.String("type", eventType), zap.Error(err))
	}
}

func (s *DiscountScheduler) refreshStatusGauge(ctx context.Context) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		s.logger.Debug("status gauge refresh failed", zap.Error(err))
		return
	}
	byStatus := make(map[string]int64, len(counts))
	for status, n := range counts {
		byStatus[string(status)] = n
	}
	s.metrics.SetJobsByStatus(byStatus)
}
