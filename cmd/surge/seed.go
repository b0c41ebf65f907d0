package main

import (
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/fatih/color"
	"github.com/smallbiznis/surge/internal/clock"
	"github.com/smallbiznis/surge/internal/migration"
	"github.com/smallbiznis/surge/internal/seed"
	"github.com/smallbiznis/surge/pkg/db"
	"github.com/spf13/cobra"
)

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create a demo organization with households and report data",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, sync, err := standalone()
			if err != nil {
				return err
			}
			defer sync()
			if cfg.IsProduction() {
				return errors.New("refusing to seed demo data in production")
			}

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

			node, err := snowflake.NewNode(cfg.SnowflakeNode)
			if err != nil {
				return err
			}
			result, err := seed.EnsureDemoOrg(cmd.Context(), conn, node, clock.NewSystem())
			if err != nil {
				return err
			}

			fmt.Printf("Organization: %s\n", color.New(color.FgCyan).Sprint(result.OrgID))
			for _, id := range result.HouseholdIDs {
				fmt.Printf("  household %s\n", id)
			}
			return nil
		},
	}
}
