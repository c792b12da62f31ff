package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfg    *Config
	client *Client
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cfg = DefaultConfig()

	rootCmd := &cobra.Command{
		Use:   "sideline",
		Short: "CLI tool for the sideline sync agent",
		Long: `sideline talks to the local sync agent over its JSON API.

It manages the roster, reports and drives sync, switches identity and
connectivity, handles dead letters and backups, and streams sync events.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Output != "text" && cfg.Output != "json" {
				return fmt.Errorf("unknown output format %q", cfg.Output)
			}
			client = NewClient(cfg.ServerURL)
			return nil
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "Agent URL (env: SIDELINE_SERVER)")
	rootCmd.PersistentFlags().StringVarP(&cfg.Output, "output", "o", cfg.Output, "Output format: text, json")

	rootCmd.AddCommand(newPlayersCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newSyncCmd())
	rootCmd.AddCommand(newAuthCmd())
	rootCmd.AddCommand(newConnectivityCmd())
	rootCmd.AddCommand(newBackupCmd())
	rootCmd.AddCommand(newResetCmd())
	rootCmd.AddCommand(newDeadLettersCmd())
	rootCmd.AddCommand(newEventsCmd())
	rootCmd.AddCommand(newHealthCmd())

	return rootCmd
}

// Execute runs the root command. Errors are printed in the selected output
// format so scripts using --output json can parse them.
func Execute(ctx context.Context) {
	root := NewRootCmd()
	root.SilenceErrors = true
	if err := root.ExecuteContext(ctx); err != nil {
		NewOutput(cfg.Output, root.OutOrStdout(), root.ErrOrStderr()).PrintError(err)
		os.Exit(1)
	}
}

func output(cmd *cobra.Command) *Output {
	return NewOutput(cfg.Output, cmd.OutOrStdout(), cmd.ErrOrStderr())
}
