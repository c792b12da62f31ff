package cli

import (
	"net/url"

	"github.com/spf13/cobra"

	"github.com/mcoot/sideline/internal/api/response"
	"github.com/mcoot/sideline/internal/model"
	"github.com/mcoot/sideline/internal/services/datastore"
	"github.com/mcoot/sideline/internal/syncer"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync status",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result datastore.Status
			if err := client.Get(cmd.Context(), "/api/v1/status", &result); err != nil {
				return err
			}
			output(cmd).Print(result)
			return nil
		},
	}
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Drain the pending write queue now",
		Long: `Ask the agent to push every pending write to the remote.

A pass that stops early, for example because the device is signed out,
still prints what it managed and reports the halt.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var result syncer.Result
			if err := client.Post(cmd.Context(), "/api/v1/sync", nil, &result); err != nil {
				return err
			}
			output(cmd).Print(result)
			return nil
		},
	}
}

func newDeadLettersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dead-letters",
		Short: "Inspect and resolve permanently rejected writes",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List dead letters",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.List[model.DeadLetter]
			if err := client.Get(cmd.Context(), "/api/v1/dead-letters", &result); err != nil {
				return err
			}
			output(cmd).Print(result)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "retry <entry-id>",
		Short: "Move a dead letter back onto the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result model.PendingWrite
			path := "/api/v1/dead-letters/" + url.PathEscape(args[0]) + "/retry"
			if err := client.Post(cmd.Context(), path, nil, &result); err != nil {
				return err
			}
			output(cmd).Print(result)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "discard <entry-id>",
		Short: "Drop a dead letter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.Delete(cmd.Context(), "/api/v1/dead-letters/"+url.PathEscape(args[0]), nil); err != nil {
				return err
			}
			output(cmd).PrintMessage("Dead letter discarded")
			return nil
		},
	})

	return cmd
}
