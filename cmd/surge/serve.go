package main

import (
	"github.com/smallbiznis/surge/internal/scheduler"
	"github.com/smallbiznis/surge/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, apply pending migrations on startup",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fx.New(
				coreModules(),
				scheduler.Module,
				server.Module,
			)
			app.Run()
			return app.Err()
		},
	}
}
