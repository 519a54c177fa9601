// Package scheduler drives the periodic work: journey step execution
// and delivery of due scheduled messages.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tailhq/courier/internal/metrics"
)

// JourneyTicker executes due journey steps and scans for dormant users
// to enroll in inactivity-triggered journeys.
type JourneyTicker interface {
	ProcessScheduledJourneys(ctx context.Context) (int, error)
	ProcessInactivityJourneys(ctx context.Context) (int, error)
}

// QueueDrainer delivers due scheduled messages.
type QueueDrainer interface {
	DeliverQueued(ctx context.Context, limit int) (int, error)
}

// Config holds scheduler settings.
type Config struct {
	Interval       time.Duration
	QueueBatchSize int
}

// Scheduler runs the tick loop.
type Scheduler struct {
	journeys JourneyTicker
	queue    QueueDrainer
	config   Config
	logger   *zap.Logger
}

// New creates a scheduler.
func New(journeys JourneyTicker, queue QueueDrainer, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.Interval == 0 {
		cfg.Interval = time.Minute
	}
	if cfg.QueueBatchSize == 0 {
		cfg.QueueBatchSize = 100
	}

	return &Scheduler{
		journeys: journeys,
		queue:    queue,
		config:   cfg,
		logger:   logger,
	}
}

// Start ticks until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.logger.Info("scheduler starting",
		zap.Duration("interval", s.config.Interval),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one round of journey steps, the inactivity scan, and queued
// message delivery. The tasks fail independently: a journey-side error
// never blocks the queue drain.
func (s *Scheduler) tick(ctx context.Context) {
	start := time.Now()
	processed, err := s.journeys.ProcessScheduledJourneys(ctx)
	metrics.RecordSchedulerTick("journeys", time.Since(start))
	if err != nil {
		s.logger.Error("journey tick failed", zap.Error(err))
	} else if processed > 0 {
		s.logger.Info("journey tick processed enrollments",
			zap.Int("count", processed),
		)
	}

	start = time.Now()
	enrolled, err := s.journeys.ProcessInactivityJourneys(ctx)
	metrics.RecordSchedulerTick("inactivity", time.Since(start))
	if err != nil {
		s.logger.Error("inactivity scan failed", zap.Error(err))
	} else if enrolled > 0 {
		s.logger.Info("inactivity scan enrolled users",
			zap.Int("count", enrolled),
		)
	}

	start = time.Now()
	drained, err := s.queue.DeliverQueued(ctx, s.config.QueueBatchSize)
	metrics.RecordSchedulerTick("queued_messages", time.Since(start))
	if err != nil {
		s.logger.Error("queued message drain failed", zap.Error(err))
	} else if drained > 0 {
		s.logger.Info("delivered queued messages",
			zap.Int("count", drained),
		)
	}
}
