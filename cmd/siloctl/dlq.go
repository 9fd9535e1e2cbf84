package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func dlqCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "inspect and replay dead-lettered envelopes",
	}
	cmd.AddCommand(dlqListCmd(), dlqReplayCmd())
	return cmd
}

func dlqListCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "list dead-lettered envelopes, optionally filtered to one actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			var entries []dlqEntry
			path := "/dlq"
			if actor != "" {
				path += "?actor=" + actor
			}
			if err := client().get(cmd.Context(), path, &entries); err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println(uiMuted("dead-letter queue is empty"))
				return nil
			}
			rows := make([][]string, len(entries))
			for i, e := range entries {
				rows[i] = []string{
					fmt.Sprintf("%d", e.MessageID), e.ActorType, e.ActorID,
					fmt.Sprintf("%d", e.Attempts), e.Cause,
				}
			}
			fmt.Println(uiTable([]string{"MESSAGE_ID", "ACTOR_TYPE", "ACTOR_ID", "ATTEMPTS", "CAUSE"}, rows))
			return nil
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", `"type:id", empty lists everything`)
	return cmd
}

func dlqReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay MESSAGE_ID",
		Short: "replay one dead-lettered message by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]bool
			if err := client().post(cmd.Context(), "/dlq/replay/"+args[0], &out); err != nil {
				return err
			}
			if out["replayed"] {
				fmt.Println(uiInfoMsg("replayed message %s", args[0]))
			} else {
				fmt.Println(uiWarnMsg("message %s was not replayed", args[0]))
			}
			return nil
		},
	}
}
