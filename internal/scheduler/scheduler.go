// Package scheduler runs periodic housekeeping for LeadPipe.
//
// Jobs are registered with cron expressions; the maintenance job recovers
// stale follow-up jobs and purges old job and dedup records.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Default maintenance settings.
const (
	DefaultMaintenanceSpec = "*/15 * * * *"
	DefaultStaleAfter      = 10 * time.Minute
	DefaultJobRetention    = 7 * 24 * time.Hour
	DefaultDedupRetention  = 72 * time.Hour
	maintenanceTimeout     = time.Minute
)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Standard 5-field parser (min, hour, dom, month, dow) with panic recovery.
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Maintainer is the housekeeping surface of the store.
type Maintainer interface {
	RequeueStaleRunningJobs(ctx context.Context, staleBefore time.Time) (int, error)
	PurgeFinishedJobs(ctx context.Context, before time.Time) (int, error)
	PurgeInbound(ctx context.Context, before time.Time) (int, error)
}

// MaintenanceOpts holds configuration options for Maintenance.
type MaintenanceOpts struct {
	StaleAfter     time.Duration
	JobRetention   time.Duration
	DedupRetention time.Duration
}

// MaintenanceOption defines a configuration option for Maintenance.
type MaintenanceOption func(*MaintenanceOpts)

// WithStaleAfter sets how long a job may stay running before it is requeued.
func WithStaleAfter(d time.Duration) MaintenanceOption {
	return func(o *MaintenanceOpts) {
		o.StaleAfter = d
	}
}

// WithJobRetention sets how long finished jobs are kept.
func WithJobRetention(d time.Duration) MaintenanceOption {
	return func(o *MaintenanceOpts) {
		o.JobRetention = d
	}
}

// WithDedupRetention sets how long inbound message ids are remembered.
func WithDedupRetention(d time.Duration) MaintenanceOption {
	return func(o *MaintenanceOpts) {
		o.DedupRetention = d
	}
}

// Maintenance is the periodic housekeeping job.
type Maintenance struct {
	repo Maintainer
	cfg  MaintenanceOpts
	now  func() time.Time
}

// NewMaintenance creates the housekeeping job over repo.
func NewMaintenance(repo Maintainer, opts ...MaintenanceOption) *Maintenance {
	cfg := MaintenanceOpts{
		StaleAfter:     DefaultStaleAfter,
		JobRetention:   DefaultJobRetention,
		DedupRetention: DefaultDedupRetention,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Maintenance{repo: repo, cfg: cfg, now: time.Now}
}

// RunOnce performs every housekeeping step, continuing past failures.
func (m *Maintenance) RunOnce(ctx context.Context) error {
	now := m.now()
	var errs []error

	requeued, err := m.repo.RequeueStaleRunningJobs(ctx, now.Add(-m.cfg.StaleAfter))
	if err != nil {
		errs = append(errs, fmt.Errorf("requeue stale jobs: %w", err))
	}
	purgedJobs, err := m.repo.PurgeFinishedJobs(ctx, now.Add(-m.cfg.JobRetention))
	if err != nil {
		errs = append(errs, fmt.Errorf("purge finished jobs: %w", err))
	}
	purgedInbound, err := m.repo.PurgeInbound(ctx, now.Add(-m.cfg.DedupRetention))
	if err != nil {
		errs = append(errs, fmt.Errorf("purge inbound records: %w", err))
	}

	slog.Debug("Maintenance.RunOnce: completed", "requeued", requeued, "purgedJobs", purgedJobs, "purgedInbound", purgedInbound)
	return errors.Join(errs...)
}

// Register schedules RunOnce on s with the cron expression spec.
func (m *Maintenance) Register(s *Scheduler, spec string) error {
	if spec == "" {
		spec = DefaultMaintenanceSpec
	}
	return s.AddJob(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), maintenanceTimeout)
		defer cancel()
		if err := m.RunOnce(ctx); err != nil {
			slog.Error("Maintenance: housekeeping failed", "error", err)
		}
	})
}
