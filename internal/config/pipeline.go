package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// PipelineConfig tunes packet batches. Values are read per batch, so a reload
// only affects batches prepared after it.
type PipelineConfig struct {
	Workers       int           `mapstructure:"workers"`
	PrepareLimit  int           `mapstructure:"prepareLimit"`
	PrepareWindow time.Duration `mapstructure:"prepareWindow"`
	BuildTimeout  time.Duration `mapstructure:"buildTimeout"`
}

func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Workers:       4,
		PrepareLimit:  5,
		PrepareWindow: time.Minute,
		BuildTimeout:  2 * time.Minute,
	}
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	defaults := DefaultPipelineConfig()
	if c.Workers <= 0 {
		c.Workers = defaults.Workers
	}
	if c.PrepareLimit <= 0 {
		c.PrepareLimit = defaults.PrepareLimit
	}
	if c.PrepareWindow <= 0 {
		c.PrepareWindow = defaults.PrepareWindow
	}
	if c.BuildTimeout <= 0 {
		c.BuildTimeout = defaults.BuildTimeout
	}
	return c
}

type PipelineConfigHolder struct {
	current atomic.Value // holds PipelineConfig
}

// NewPipelineConfigHolder reads surge.yml from the standard locations and
// watches it for changes.
func NewPipelineConfigHolder(log *zap.Logger) (*PipelineConfigHolder, error) {
	return LoadPipelineConfig(log, "/var/lib/surge/config", "/etc/surge", ".")
}

// LoadPipelineConfig reads surge.yml from the first matching path. A missing
// file yields defaults.
func LoadPipelineConfig(log *zap.Logger, paths ...string) (*PipelineConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.pipeline")

	v := viper.New()
	v.SetConfigName("surge")
	v.SetConfigType("yml")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	v.SetEnvPrefix("SURGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	cfg := DefaultPipelineConfig()
	if fileFound {
		if err := v.UnmarshalKey("pipeline", &cfg); err != nil {
			return nil, err
		}
		cfg = cfg.withDefaults()
	}
	if err := validatePipelineConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticPipelineConfig(cfg)
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PipelineConfig
		if err := v.UnmarshalKey("pipeline", &updated); err != nil {
			log.Warn("pipeline config reload failed", zap.Error(err))
			return
		}
		updated = updated.withDefaults()
		if err := validatePipelineConfig(updated); err != nil {
			log.Warn("invalid pipeline config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("pipeline config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

// NewStaticPipelineConfig returns a holder that never reloads.
func NewStaticPipelineConfig(cfg PipelineConfig) *PipelineConfigHolder {
	holder := &PipelineConfigHolder{}
	holder.current.Store(cfg.withDefaults())
	return holder
}

func (h *PipelineConfigHolder) Get() PipelineConfig {
	if h == nil {
		return DefaultPipelineConfig()
	}
	return h.current.Load().(PipelineConfig)
}

func validatePipelineConfig(cfg PipelineConfig) error {
	if cfg.Workers > 256 {
		return errors.New("pipeline.workers cannot exceed 256")
	}
	if cfg.PrepareWindow < time.Second {
		return errors.New("pipeline.prepareWindow must be at least 1s")
	}
	return nil
}
