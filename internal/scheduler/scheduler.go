package scheduler

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/smallbiznis/surge/internal/clock"
	obsmetrics "github.com/smallbiznis/surge/internal/observability/metrics"
	"github.com/smallbiznis/surge/internal/ratelimit"
	"github.com/smallbiznis/surge/internal/storage"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobArchiveSweep = "archive_sweep"
	JobPartialSweep = "partial_sweep"

	lockPrefix = "surge:scheduler:"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Storage storage.Storage
	Log     *zap.Logger
	Clock   clock.Clock
	Metrics *obsmetrics.PipelineMetrics `optional:"true"`
	Locker  *ratelimit.Locker           `optional:"true"`
	Config  Config                      `optional:"true"`
}

// Scheduler runs periodic storage housekeeping. With a locker configured only
// one instance runs a given job at a time.
type Scheduler struct {
	storage storage.Storage
	log     *zap.Logger
	clock   clock.Clock
	metrics *obsmetrics.PipelineMetrics
	locker  *ratelimit.Locker
	cfg     Config
}

func New(p Params) (*Scheduler, error) {
	if p.Storage == nil || p.Log == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		storage: p.Storage,
		log:     p.Log.Named("scheduler"),
		clock:   p.Clock,
		metrics: p.Metrics,
		locker:  p.Locker,
		cfg:     p.Config.withDefaults(),
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) (int, error)) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	log := s.log.With(zap.String("job", name))

	release, ok := s.acquire(ctx, name, log)
	if !ok {
		log.Debug("job skipped, held by another instance")
		return nil
	}
	defer release()

	removed, err := fn(ctx)
	took := s.clock.Now().Sub(start)
	s.metrics.RecordJob(name, err, took)
	s.metrics.RecordSwept(name, removed)

	fields := []zap.Field{
		zap.Int("removed", removed),
		zap.Int64("duration_ms", took.Milliseconds()),
	}
	if err == nil {
		if removed > 0 {
			log.Info("job finished", fields...)
		} else {
			log.Debug("job finished", fields...)
		}
		return nil
	}

	// deadline is a soft timeout, the next tick picks up the rest
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		log.Warn("job timed out", append(fields, zap.Error(err))...)
		return nil
	}
	log.Error("job failed", append(fields, zap.Error(err))...)
	return err
}

func (s *Scheduler) acquire(ctx context.Context, name string, log *zap.Logger) (func(), bool) {
	if s.locker == nil {
		return func() {}, true
	}
	key := lockPrefix + name
	token, ok, err := s.locker.TryLock(ctx, key, s.cfg.JobTimeout)
	if err != nil {
		log.Warn("job lock unavailable, running unguarded", zap.Error(err))
		return func() {}, true
	}
	if !ok {
		return nil, false
	}
	return func() {
		if err := s.locker.Release(context.Background(), key, token); err != nil {
			log.Warn("job lock release failed", zap.Error(err))
		}
	}, true
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) (int, error)
	}{
		{JobArchiveSweep, s.SweepArchives},
		{JobPartialSweep, s.SweepPartials},
	}

	for _, job := range jobs {
		if s.isJobEnabled(job.Name) {
			err = errors.Join(err, s.runJob(parent, job.Name, job.Run))
		}
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// empty means every job runs
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}
