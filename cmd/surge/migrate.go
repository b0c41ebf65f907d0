package main

import (
	"fmt"

	"github.com/smallbiznis/surge/internal/migration"
	"github.com/smallbiznis/surge/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, sync, err := standalone()
			if err != nil {
				return err
			}
			defer sync()

			conn, err := db.Open(cfg, log)
			if err != nil {
				return err
			}
			if sqlDB, err := conn.DB(); err == nil {
				defer sqlDB.Close()
			}

			if err := migration.Run(conn); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			log.Info("migrations applied", zap.String("type", cfg.DBType))
			return nil
		},
	}
}
