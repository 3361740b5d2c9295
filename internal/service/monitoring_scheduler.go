package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-behavior-api/internal/models"
	"github.com/noah-isme/sma-behavior-api/pkg/jobs"
)

const (
	reminderJobType       = "monitoring_reminder"
	reminderResultSent    = "sent"
	reminderResultSkipped = "skipped"
	reminderResultFailed  = "failed"
)

type followUpSource interface {
	ListDueFollowUps(ctx context.Context, now time.Time, limit int) ([]models.Case, error)
}

type followUpReminder interface {
	SendFollowUpReminder(ctx context.Context, caseID string, followUpAt time.Time) (bool, error)
}

type reminderPayload struct {
	CaseID     string
	FollowUpAt time.Time
}

// MonitoringSchedulerConfig tunes the follow-up sweep.
type MonitoringSchedulerConfig struct {
	Schedule   string
	Workers    int
	MaxRetries int
	BatchSize  int
	RetryDelay time.Duration
}

// MonitoringScheduler periodically finds monitored cases whose follow-up is
// due and dispatches reminders through a worker queue.
type MonitoringScheduler struct {
	cases     followUpSource
	reminders followUpReminder
	queue     *jobs.Queue
	cron      *cron.Cron
	metrics   *MetricsService
	logger    *zap.Logger
	cfg       MonitoringSchedulerConfig
	now       func() time.Time
}

// NewMonitoringScheduler constructs the scheduler. Call Start to begin sweeping.
func NewMonitoringScheduler(cases followUpSource, reminders followUpReminder, metrics *MetricsService, cfg MonitoringSchedulerConfig, logger *zap.Logger) *MonitoringScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 15m"
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	s := &MonitoringScheduler{
		cases:     cases,
		reminders: reminders,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
	s.queue = jobs.NewQueue("monitoring-reminders", s.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
		OnGiveUp:   s.giveUp,
	})
	s.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	return s
}

// Start launches the reminder workers and the cron schedule.
func (s *MonitoringScheduler) Start(ctx context.Context) error {
	s.queue.Start(ctx)
	if _, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Warn("monitoring sweep failed", zap.Error(err))
		}
	}); err != nil {
		s.queue.Stop()
		return fmt.Errorf("schedule monitoring sweep %q: %w", s.cfg.Schedule, err)
	}
	s.cron.Start()
	s.logger.Info("monitoring sweep scheduled", zap.String("schedule", s.cfg.Schedule), zap.Int("workers", s.cfg.Workers))
	return nil
}

// Stop waits for a running sweep, then drains the workers.
func (s *MonitoringScheduler) Stop() {
	<-s.cron.Stop().Done()
	s.queue.Stop()
}

// Sweep enqueues a reminder job for every due case not already queued and
// returns how many were enqueued. The queue must be started.
func (s *MonitoringScheduler) Sweep(ctx context.Context) (int, error) {
	due, err := s.cases.ListDueFollowUps(ctx, s.now(), s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list due follow ups: %w", err)
	}
	enqueued := 0
	for _, c := range due {
		if c.FollowUpAt == nil {
			continue
		}
		job := jobs.Job{
			ID:      fmt.Sprintf("%s:%d", c.ID, c.FollowUpAt.Unix()),
			Key:     c.ID,
			Type:    reminderJobType,
			Payload: reminderPayload{CaseID: c.ID, FollowUpAt: *c.FollowUpAt},
		}
		if err := s.queue.Enqueue(job); err != nil {
			if errors.Is(err, jobs.ErrDuplicate) {
				continue
			}
			return enqueued, err
		}
		enqueued++
	}
	if enqueued > 0 {
		s.logger.Info("monitoring reminders enqueued", zap.Int("count", enqueued))
	}
	return enqueued, nil
}

func (s *MonitoringScheduler) handle(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(reminderPayload)
	if !ok {
		s.logger.Error("unexpected reminder payload", zap.String("job_id", job.ID), zap.String("type", job.Type))
		return nil
	}

	sent, err := s.reminders.SendFollowUpReminder(ctx, payload.CaseID, payload.FollowUpAt)
	if err != nil {
		return err
	}
	if sent {
		s.metrics.RecordReminder(reminderResultSent)
	} else {
		s.metrics.RecordReminder(reminderResultSkipped)
	}
	return nil
}

func (s *MonitoringScheduler) giveUp(job jobs.Job, err error) {
	s.metrics.RecordReminder(reminderResultFailed)
	s.logger.Error("monitoring reminder dropped", zap.String("job_id", job.ID), zap.Int("attempts", job.Attempt), zap.Error(err))
}
