package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// topCmd is the SPEC_FULL.md-supplemented live dashboard: a terminal view
// polling a silod's diagnostic HTTP surface on a ticker, re-rendering active
// silos and dead-letter depth the way an operator would watch a cluster
// during a rollout or migration. The ticker-driven poll loop is grounded on
// getployz-ployz's reconcile.Worker.Run full-reconcile ticker; the rendering
// reuses this package's lipgloss table helpers rather than a terminal-UI
// widget library, since the teacher has no such dependency either.
func topCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "top",
		Short: "poll and redraw cluster and DLQ state on an interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTop(cmd.Context(), client(), interval)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "poll interval")
	return cmd
}

const ansiClearScreen = "\x1b[H\x1b[2J"

func runTop(ctx context.Context, api *apiClient, interval time.Duration) error {
	render := func() {
		var health healthResponse
		healthErr := api.get(ctx, "/health", &health)

		var entries []dlqEntry
		dlqErr := api.get(ctx, "/dlq", &entries)

		fmt.Print(ansiClearScreen)

		if healthErr != nil {
			fmt.Println(uiErrorMsg("health: %s", healthErr))
		} else {
			fmt.Printf("self: %s  status: %s\n\n", health.Self.SiloID, health.Status)
			rows := make([][]string, len(health.ActiveSilos))
			for i, s := range health.ActiveSilos {
				rows[i] = []string{s.SiloID, s.Endpoint, s.RegionID, s.ZoneID}
			}
			fmt.Println(uiTable([]string{"SILO_ID", "ENDPOINT", "REGION", "ZONE"}, rows))
		}

		fmt.Println()
		if dlqErr != nil {
			fmt.Println(uiErrorMsg("dlq: %s", dlqErr))
		} else {
			rows := make([][]string, len(entries))
			for i, e := range entries {
				rows[i] = []string{fmt.Sprintf("%d", e.MessageID), e.ActorType, e.ActorID, fmt.Sprintf("%d", e.Attempts), e.Cause}
			}
			fmt.Println(uiTable([]string{"MESSAGE_ID", "ACTOR_TYPE", "ACTOR_ID", "ATTEMPTS", "CAUSE"}, rows))
			fmt.Println(uiMuted(fmt.Sprintf("%d dead letters, refreshing every %s (ctrl-c to quit)", len(entries), interval)))
		}
	}

	render()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			render()
		case <-ctx.Done():
			return nil
		}
	}
}
