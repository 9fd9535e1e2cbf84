package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func clusterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "inspect cluster membership",
	}
	cmd.AddCommand(clusterListSilosCmd(), clusterHealthCmd())
	return cmd
}

func clusterListSilosCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list-silos",
		Aliases: []string{"ls"},
		Short:   "list silos the target silo considers active",
		RunE: func(cmd *cobra.Command, args []string) error {
			var health healthResponse
			if err := client().get(cmd.Context(), "/health", &health); err != nil {
				return err
			}
			if len(health.ActiveSilos) == 0 {
				fmt.Println(uiMuted("no active silos reported"))
				return nil
			}
			rows := make([][]string, len(health.ActiveSilos))
			for i, s := range health.ActiveSilos {
				rows[i] = []string{s.SiloID, s.Endpoint, s.RegionID, s.ZoneID}
			}
			fmt.Println(uiTable([]string{"SILO_ID", "ENDPOINT", "REGION", "ZONE"}, rows))
			return nil
		},
	}
}

func clusterHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "print the target silo's own health summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			var health healthResponse
			if err := client().get(cmd.Context(), "/health", &health); err != nil {
				return err
			}
			fmt.Println(uiTable(
				[]string{"STATUS", "SELF", "ENDPOINT", "ACTIVE_SILOS"},
				[][]string{{health.Status, health.Self.SiloID, health.Self.Endpoint, fmt.Sprintf("%d", len(health.ActiveSilos))}},
			))
			return nil
		},
	}
}
