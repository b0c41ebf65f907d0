package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fatih/color"
	"github.com/smallbiznis/surge/internal/batch"
	"github.com/smallbiznis/surge/internal/events"
	"github.com/smallbiznis/surge/internal/orgcontext"
	surgedomain "github.com/smallbiznis/surge/internal/surge/domain"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

type prepareOptions struct {
	orgID      string
	actorID    string
	surgeID    string
	households []string
	order      []string
	download   bool
	timeout    time.Duration
}

func prepareCmd() *cobra.Command {
	opts := prepareOptions{actorID: os.Getenv("USER")}

	cmd := &cobra.Command{
		Use:   "prepare",
		Short: "Build packets for a surge and follow progress until the batch finishes",
		Example: `  surge prepare --org 1789 --surge 1790 --household 1801,1802 --download
  surge prepare --org 1789 --surge 1790 --household 1801 --household 1802 --order 1802,1801`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrepare(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.orgID, "org", "", "organization id")
	cmd.Flags().StringVar(&opts.actorID, "actor", opts.actorID, "actor id progress events are addressed to")
	cmd.Flags().StringVar(&opts.surgeID, "surge", "", "surge id")
	cmd.Flags().StringSliceVar(&opts.households, "household", nil, "household ids to build")
	cmd.Flags().StringSliceVar(&opts.order, "order", nil, "submission order; defaults to the --household order")
	cmd.Flags().BoolVar(&opts.download, "download", false, "bundle the packets into a zip when the batch finishes")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Minute, "give up waiting after this long")
	_ = cmd.MarkFlagRequired("org")
	_ = cmd.MarkFlagRequired("surge")
	_ = cmd.MarkFlagRequired("household")
	return cmd
}

func runPrepare(ctx context.Context, opts prepareOptions) error {
	orgID, err := snowflake.ParseString(strings.TrimSpace(opts.orgID))
	if err != nil {
		return fmt.Errorf("invalid --org: %w", err)
	}
	surgeID, err := snowflake.ParseString(strings.TrimSpace(opts.surgeID))
	if err != nil {
		return fmt.Errorf("invalid --surge: %w", err)
	}
	householdIDs, err := parseIDs(opts.households)
	if err != nil {
		return fmt.Errorf("invalid --household: %w", err)
	}
	order, err := parseIDs(opts.order)
	if err != nil {
		return fmt.Errorf("invalid --order: %w", err)
	}
	action := batch.PostActionNone
	if opts.download {
		action = batch.PostActionDownload
	}

	var (
		orchestrator *batch.Orchestrator
		hub          *events.Hub
		surgeSvc     surgedomain.Service
	)
	app := fx.New(
		coreModules(),
		fx.WithLogger(func() fxevent.Logger { return fxevent.NopLogger }),
		fx.Populate(&orchestrator, &hub, &surgeSvc),
	)
	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		_ = app.Stop(stopCtx)
	}()

	ctx = orgcontext.WithOrgID(ctx, orgID)
	ctx = orgcontext.WithActorID(ctx, opts.actorID)

	s, err := surgeSvc.Get(ctx, surgeID)
	if err != nil {
		return err
	}

	subscription, _, err := hub.Subscribe(events.ActorChannel(opts.actorID))
	if err != nil {
		return err
	}
	defer subscription.Close()

	resp, err := orchestrator.Prepare(ctx, batch.PrepareRequest{
		ActorID:      opts.actorID,
		SurgeID:      s.ID,
		HouseholdIDs: householdIDs,
		Order:        order,
		PostAction:   action,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Preparing %s for %d households (%d steps), batch %s\n",
		color.New(color.Bold).Sprint(s.Name), resp.TotalHouseholds, resp.TotalSteps, resp.BatchID)

	return follow(ctx, subscription, resp.BatchID, opts.timeout)
}

func follow(ctx context.Context, subscription *events.Subscription, batchID string, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("batch %s still running after %s", batchID, timeout)
		case event := <-subscription.Events():
			switch payload := event.Payload.(type) {
			case batch.ProgressEvent:
				if payload.BatchID == batchID {
					fmt.Printf("\r  %s", progressBar(payload.Completed, payload.Total, 30))
				}
			case batch.AllDoneEvent:
				if payload.BatchID != batchID {
					continue
				}
				fmt.Println()
				printSummary(payload)
				if payload.ErrorCount > 0 {
					return fmt.Errorf("%d of %d households failed", payload.ErrorCount, payload.Total)
				}
				return nil
			}
		}
	}
}

func progressBar(completed, total int64, width int) string {
	if total <= 0 {
		return "[" + strings.Repeat("#", width) + "] 0/0"
	}
	filled := int(completed * int64(width) / total)
	return fmt.Sprintf("[%s%s] %d/%d",
		strings.Repeat("#", filled), strings.Repeat(".", width-filled), completed, total)
}

func printSummary(done batch.AllDoneEvent) {
	ok := color.New(color.FgGreen).Sprintf("%d built", done.SuccessCount)
	failed := fmt.Sprintf("%d failed", done.ErrorCount)
	if done.ErrorCount > 0 {
		failed = color.New(color.FgRed).Sprint(failed)
	}
	fmt.Printf("Done: %s, %s\n", ok, failed)

	switch {
	case done.ArchiveRef != "":
		fmt.Printf("Download: %s\n", color.New(color.FgCyan).Sprint(done.ArchiveRef))
		if done.ExpiresAt != nil {
			fmt.Printf("  expires %s\n", done.ExpiresAt.Format(time.RFC1123))
		}
	case done.Action == batch.PostActionDownload:
		fmt.Println(color.New(color.FgYellow).Sprint("No download: nothing was archived"))
	}
}

func parseIDs(values []string) ([]snowflake.ID, error) {
	ids := make([]snowflake.ID, 0, len(values))
	for _, value := range values {
		id, err := snowflake.ParseString(strings.TrimSpace(value))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
