package cli

import (
	"fmt"
	"net/http"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/mcoot/sideline/internal/api/response"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Export or restore the whole dataset",
	}

	cmd.AddCommand(newBackupExportCmd())
	cmd.AddCommand(newBackupImportCmd())

	return cmd
}

func newBackupExportCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a backup document to a file or stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := client.DoRaw(cmd.Context(), http.MethodGet, "/api/v1/backup", nil)
			if err != nil {
				return err
			}
			if file == "" {
				_, err := cmd.OutOrStdout().Write(append(doc, '\n'))
				return err
			}
			if err := os.WriteFile(file, doc, 0o600); err != nil {
				return fmt.Errorf("failed to write backup: %w", err)
			}
			output(cmd).PrintMessage("Backup written to " + file)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Destination file (default stdout)")

	return cmd
}

func newBackupImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the dataset with a backup document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read backup: %w", err)
			}
			if !json.Valid(doc) {
				return fmt.Errorf("%s is not a JSON backup document", args[0])
			}
			return runTransaction(cmd, "/api/v1/backup", json.RawMessage(doc))
		},
	}
}

func newResetCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every record in the dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("reset deletes all data; pass --yes to confirm")
			}
			return runTransaction(cmd, "/api/v1/reset", nil)
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the reset")

	return cmd
}

func runTransaction(cmd *cobra.Command, path string, body any) error {
	var result response.Transaction
	if err := client.Post(cmd.Context(), path, body, &result); err != nil {
		return err
	}
	output(cmd).Print(result)
	return nil
}
