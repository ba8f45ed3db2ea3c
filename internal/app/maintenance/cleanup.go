package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/ticketdesk/pkg/logger"
)

const (
	defaultPushSchedule = "@daily"
	defaultPushRetain   = 7 * 24 * time.Hour
)

// PushPruner removes push descriptors the push services reported gone.
type PushPruner interface {
	PruneGone(ctx context.Context, cutoff time.Time) (int64, error)
}

// Job is a named maintenance routine run on a cron schedule.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// Cleaner coordinates background maintenance tasks such as pruning dead push descriptors.
type Cleaner struct {
	cron *cron.Cron
	now  func() time.Time
	log  *zap.Logger
	jobs []Job

	pushSchedule string
	pushRetain   time.Duration
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for cleanup comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithPushSchedule overrides the cron specification for push descriptor pruning.
func WithPushSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.pushSchedule = spec
		}
	}
}

// WithPushRetention keeps gone descriptors for d before deleting them.
func WithPushRetention(d time.Duration) Option {
	return func(cleaner *Cleaner) {
		if d > 0 {
			cleaner.pushRetain = d
		}
	}
}

// WithJob registers an additional routine.
func WithJob(job Job) Option {
	return func(cleaner *Cleaner) {
		if job.Run != nil && job.Schedule != "" {
			cleaner.jobs = append(cleaner.jobs, job)
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. A nil pruner skips push pruning.
func NewCleaner(pruner PushPruner, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		now:          time.Now,
		pushSchedule: defaultPushSchedule,
		pushRetain:   defaultPushRetain,
		log:          logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	if pruner != nil {
		cleaner.jobs = append(cleaner.jobs, Job{
			Name:     "push-prune",
			Schedule: cleaner.pushSchedule,
			Run: func(ctx context.Context) error {
				removed, err := pruner.PruneGone(ctx, cleaner.now().Add(-cleaner.pushRetain))
				if err == nil && removed > 0 {
					cleaner.log.Info("pruned push descriptors", zap.Int64("removed", removed))
				}
				return err
			},
		})
	}

	return cleaner
}

// Jobs returns the registered routines.
func (c *Cleaner) Jobs() []Job {
	out := make([]Job, len(c.jobs))
	copy(out, c.jobs)
	return out
}

// Start registers the jobs with the cron scheduler and launches it if at least one job exists.
func (c *Cleaner) Start() error {
	if len(c.jobs) == 0 {
		return nil
	}

	for _, job := range c.jobs {
		job := job
		if _, err := c.cron.AddFunc(job.Schedule, func() {
			if err := job.Run(context.Background()); err != nil {
				c.log.Warn("maintenance job failed", zap.String("job", job.Name), zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes every job sequentially and aggregates failures. Used in tests and during
// graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	for _, job := range c.jobs {
		if err := job.Run(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}
