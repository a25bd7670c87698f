// Package scheduler runs the periodic alerting tasks.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/Faraz1608/IMOS-sub000/internal/config"
	"github.com/Faraz1608/IMOS-sub000/internal/rules"
)

// Sweeper runs a full automated rule sweep
type Sweeper interface {
	RunSweep(ctx context.Context) (*rules.SweepResult, error)
}

// Expirer dismisses open alerts past their expiry
type Expirer interface {
	DismissExpired(ctx context.Context) (int64, error)
}

// Scheduler drives the periodic rule sweep and alert expiry tasks
type Scheduler struct {
	cfg     config.SchedulerConfig
	logger  *slog.Logger
	cron    *cron.Cron
	sweeper Sweeper
	expirer Expirer
}

// New creates a scheduler with second-resolution cron expressions
func New(cfg config.SchedulerConfig, logger *slog.Logger, sweeper Sweeper, expirer Expirer) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		logger:  logger,
		cron:    cron.New(cron.WithSeconds()),
		sweeper: sweeper,
		expirer: expirer,
	}
}

// Start registers the periodic tasks and starts the cron loop
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.SweepSchedule, s.runSweep); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.cfg.SweepSchedule, err)
	}
	if _, err := s.cron.AddFunc(s.cfg.ExpirySchedule, s.runExpiry); err != nil {
		return fmt.Errorf("invalid expiry schedule %q: %w", s.cfg.ExpirySchedule, err)
	}

	s.cron.Start()
	s.logger.Info("Scheduler started",
		"sweepSchedule", s.cfg.SweepSchedule,
		"expirySchedule", s.cfg.ExpirySchedule)
	return nil
}

// Stop stops the cron loop and waits for running tasks to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) runSweep() {
	s.logger.Debug("Running scheduled rule sweep")
	if _, err := s.sweeper.RunSweep(context.Background()); err != nil {
		s.logger.Error("Scheduled rule sweep failed", "error", err)
	}
}

func (s *Scheduler) runExpiry() {
	dismissed, err := s.expirer.DismissExpired(context.Background())
	if err != nil {
		s.logger.Error("Scheduled alert expiry failed", "error", err)
		return
	}
	if dismissed > 0 {
		s.logger.Info("Dismissed expired alerts", "count", dismissed)
	}
}
