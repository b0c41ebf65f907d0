package scheduler

import (
	"time"

	"github.com/smallbiznis/surge/internal/config"
)

// Config controls housekeeping intervals and retention.
type Config struct {
	RunInterval      time.Duration
	JobTimeout       time.Duration
	ArchiveRetention time.Duration
	PartialRetention time.Duration
	EnabledJobs      []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:      10 * time.Minute,
		JobTimeout:       time.Minute,
		ArchiveRetention: time.Hour,
		PartialRetention: time.Hour,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.ArchiveRetention <= 0 {
		c.ArchiveRetention = defaults.ArchiveRetention
	}
	if c.PartialRetention <= 0 {
		c.PartialRetention = defaults.PartialRetention
	}
	return c
}

// ProvideConfig keeps archives only as long as their download links live.
func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:      cfg.Scheduler.RunInterval,
		ArchiveRetention: cfg.Storage.ArchiveURLTTL,
		PartialRetention: cfg.Scheduler.PartialRetention,
		EnabledJobs:      cfg.Scheduler.EnabledJobs,
	}.withDefaults()
}
