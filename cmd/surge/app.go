package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/surge/internal/archive"
	"github.com/smallbiznis/surge/internal/batch"
	"github.com/smallbiznis/surge/internal/clock"
	"github.com/smallbiznis/surge/internal/config"
	"github.com/smallbiznis/surge/internal/events"
	"github.com/smallbiznis/surge/internal/household"
	"github.com/smallbiznis/surge/internal/logger"
	"github.com/smallbiznis/surge/internal/migration"
	"github.com/smallbiznis/surge/internal/observability"
	"github.com/smallbiznis/surge/internal/packet"
	"github.com/smallbiznis/surge/internal/providers/pdf"
	"github.com/smallbiznis/surge/internal/ratelimit"
	"github.com/smallbiznis/surge/internal/report"
	"github.com/smallbiznis/surge/internal/storage"
	"github.com/smallbiznis/surge/internal/surge"
	"github.com/smallbiznis/surge/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// coreModules wires everything except the HTTP server.
func coreModules() fx.Option {
	return fx.Options(
		// Core Infrastructure
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		storage.Module,
		events.Module,
		ratelimit.Module,
		pdf.Module,

		// Functional Domains
		household.Module,
		report.Module,
		surge.Module,
		packet.Module,
		archive.Module,
		batch.Module,
	)
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}

// standalone returns the config, logger and database used by one-shot
// commands that do not start the fx application.
func standalone() (config.Config, *zap.Logger, func(), error) {
	cfg := config.Load()
	log, err := logger.NewFromConfig(cfg)
	if err != nil {
		return cfg, nil, nil, err
	}
	return cfg, log, func() { _ = log.Sync() }, nil
}
