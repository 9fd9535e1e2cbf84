package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "inspect live migrations",
	}
	cmd.AddCommand(migrateStatusCmd())
	return cmd
}

func migrateStatusCmd() *cobra.Command {
	var actorType, actorID string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "report a migration's current state",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorType == "" || actorID == "" {
				return fmt.Errorf("siloctl migrate status: --actor-type and --actor-id are required")
			}
			var status migrationStatus
			path := "/migration/status?actor_type=" + actorType + "&actor_id=" + actorID
			if err := client().get(cmd.Context(), path, &status); err != nil {
				return err
			}
			row := [][]string{{status.ActorType, status.ActorID, status.TargetSilo, status.State, status.Err}}
			fmt.Println(uiTable([]string{"ACTOR_TYPE", "ACTOR_ID", "TARGET_SILO", "STATE", "ERR"}, row))
			return nil
		},
	}
	cmd.Flags().StringVar(&actorType, "actor-type", "", "actor type")
	cmd.Flags().StringVar(&actorID, "actor-id", "", "actor id")
	return cmd
}
