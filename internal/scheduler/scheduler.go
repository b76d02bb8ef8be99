// Package scheduler runs the periodic collection cycles and feeds their
// results through the safety and persistence pipeline.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/lendyield-api/internal/circuitbreaker"
	"github.com/yourorg/lendyield-api/internal/collector"
	"github.com/yourorg/lendyield-api/internal/model"
	"github.com/yourorg/lendyield-api/internal/store"
	"github.com/yourorg/lendyield-api/internal/validation"
)

// Exporter receives batches that passed all checks. Implementations must not
// block; the scheduler calls it inline after persisting.
type Exporter interface {
	Export(batch model.YieldBatch)
}

// Scheduler manages the cron-driven collection tasks.
type Scheduler struct {
	cron      *cron.Cron
	collector *collector.Collector
	store     *store.SQLiteStore
	breaker   *circuitbreaker.CircuitBreaker
	exporter  Exporter
	valOpts   validation.Options
	ctx       context.Context
}

// New creates a scheduler. exporter may be nil when exporting is disabled.
func New(
	ctx context.Context,
	col *collector.Collector,
	st *store.SQLiteStore,
	breaker *circuitbreaker.CircuitBreaker,
	exporter Exporter,
	valOpts validation.Options,
) *Scheduler {
	return &Scheduler{
		cron:      cron.New(),
		collector: col,
		store:     st,
		breaker:   breaker,
		exporter:  exporter,
		valOpts:   valOpts,
		ctx:       ctx,
	}
}

// RegisterAll registers the collection tasks for every cadence plus the
// retention job for fine-grained data.
func (s *Scheduler) RegisterAll(minuteCron, hourCron, dayCron, weekCron string) error {
	if _, err := s.cron.AddFunc(minuteCron, func() { s.runCycle(model.GranularityMinute) }); err != nil {
		return fmt.Errorf("register minute task: %w", err)
	}
	if _, err := s.cron.AddFunc(hourCron, func() { s.runCycle(model.GranularityHour) }); err != nil {
		return fmt.Errorf("register hour task: %w", err)
	}
	if _, err := s.cron.AddFunc(dayCron, func() { s.runCycle(model.GranularityDay) }); err != nil {
		return fmt.Errorf("register day task: %w", err)
	}
	if _, err := s.cron.AddFunc(weekCron, func() { s.runCycle(model.GranularityWeek) }); err != nil {
		return fmt.Errorf("register week task: %w", err)
	}

	// Minute batches only matter until they have been rolled into daily
	// averages; two days of slack covers chart windows crossing midnight.
	if _, err := s.cron.AddFunc("30 0 * * *", func() {
		cutoff := time.Now().UTC().AddDate(0, 0, -2)
		if n, err := s.store.Prune(model.GranularityMinute, cutoff); err != nil {
			logrus.WithField("error", err).Error("Pruning minute batches failed")
		} else if n > 0 {
			logrus.Infof("Pruned %d expired minute batches", n)
		}
	}); err != nil {
		return fmt.Errorf("register prune task: %w", err)
	}

	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	logrus.Info("Scheduler started")
}

// Stop stops the cron scheduler gracefully.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	logrus.Info("Scheduler stopped")
}

// RunNow executes one collection cycle immediately, outside the cron
// schedule. Used at startup and by operational tooling.
func (s *Scheduler) RunNow(granularity model.Granularity) {
	s.runCycle(granularity)
}

func (s *Scheduler) runCycle(granularity model.Granularity) {
	ctx, cancel := context.WithTimeout(s.ctx, 3*time.Minute)
	defer cancel()

	log := logrus.WithField("granularity", granularity)

	batch, err := s.collector.Collect(ctx, granularity)
	if err != nil {
		log.WithField("error", err).Error("Collection cycle failed")
		return
	}

	batch.Assets = validation.FilterInvalidWithOptions(batch.Assets, s.valOpts)

	if err := s.breaker.Check(batch); err != nil {
		log.WithField("error", err).Warn("Batch rejected by circuit breaker, not persisting")
		return
	}

	if err := s.store.SaveBatch(batch); err != nil {
		log.WithField("error", err).Error("Persisting batch failed")
		return
	}

	if s.exporter != nil {
		s.exporter.Export(batch)
	}

	log.WithField("assets", len(batch.Assets)).Debug("Cycle persisted")
}
