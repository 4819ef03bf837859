package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// fallbackInterval is reported for cron schedules whose spacing cannot be
// derived from the next runs
const fallbackInterval = 5 * time.Minute

// JobFunc is the function signature for scheduled jobs
type JobFunc func(ctx context.Context) error

// Config holds scheduler configuration
type Config struct {
	Name           string         // Job name shown in gocron logs
	Interval       string         // Duration ("5m") or cron expression ("*/5 * * * *")
	Timezone       *time.Location // Defaults to UTC
	RunImmediately bool           // Execute once before the first aligned tick
	Logger         *slog.Logger
}

// Scheduler runs one job on a clock-aligned gocron schedule. A run that is
// still going when the next tick fires makes that tick wait instead of
// overlapping it.
type Scheduler struct {
	cron           gocron.Scheduler
	job            gocron.Job
	interval       string
	timezone       *time.Location
	runImmediately bool
	logger         *slog.Logger
}

// NewScheduler creates a scheduler for job; ctx is handed to every run
func NewScheduler(ctx context.Context, cfg Config, job JobFunc) (*Scheduler, error) {
	if cfg.Timezone == nil {
		cfg.Timezone = time.UTC
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = "scheduled-job"
	}

	expr, withSeconds, err := cronFor(cfg.Interval)
	if err != nil {
		return nil, err
	}

	cron, err := gocron.NewScheduler(
		gocron.WithLocation(cfg.Timezone),
		gocron.WithLogger(gocronLogger{cfg.Logger}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	s := &Scheduler{
		cron:           cron,
		interval:       cfg.Interval,
		timezone:       cfg.Timezone,
		runImmediately: cfg.RunImmediately,
		logger:         cfg.Logger,
	}

	s.logger.Info("Scheduling job", "job", cfg.Name, "schedule", DescribeSchedule(cfg.Interval, cfg.Timezone))

	s.job, err = cron.NewJob(
		gocron.CronJob(expr, withSeconds),
		gocron.NewTask(func() {
			if err := job(ctx); err != nil {
				s.logger.Error("Job execution failed", "job", cfg.Name, "error", err)
			}
		}),
		gocron.WithName(cfg.Name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		cron.Shutdown()
		return nil, fmt.Errorf("failed to create scheduled job: %w", err)
	}

	return s, nil
}

// Start begins the scheduler, running the job once first when configured
func (s *Scheduler) Start() error {
	if s.runImmediately {
		s.logger.Info("Executing job immediately before starting scheduler")
		if err := s.job.RunNow(); err != nil {
			s.logger.Error("Immediate execution failed", "error", err)
		}
	}

	s.cron.Start()

	if next, err := s.NextRun(); err == nil {
		s.logger.Info("Scheduler started", "next_run", next.Format(time.RFC3339), "timezone", s.timezone.String())
	} else {
		s.logger.Info("Scheduler started")
	}
	return nil
}

// Stop waits for a running job and shuts the scheduler down
func (s *Scheduler) Stop() error {
	s.logger.Info("Stopping scheduler")
	return s.cron.Shutdown()
}

// NextRun returns the next scheduled run time
func (s *Scheduler) NextRun() (time.Time, error) {
	next, err := s.job.NextRun()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get next run: %w", err)
	}
	return next, nil
}

// ExpectedInterval is the spacing between runs, used by the health checker
// to spot a stalled daemon. Irregular cron schedules report the gap between
// the next two runs.
func (s *Scheduler) ExpectedInterval() time.Duration {
	if d, err := time.ParseDuration(s.interval); err == nil {
		return d
	}
	runs, err := s.job.NextRuns(2)
	if err != nil || len(runs) < 2 {
		return fallbackInterval
	}
	return runs[1].Sub(runs[0])
}

// gocronLogger adapts slog.Logger to gocron.Logger
type gocronLogger struct {
	logger *slog.Logger
}

func (a gocronLogger) Debug(msg string, args ...any) { a.logger.Debug(msg, args...) }
func (a gocronLogger) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a gocronLogger) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a gocronLogger) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
