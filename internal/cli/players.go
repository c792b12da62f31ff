package cli

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/mcoot/sideline/internal/api/response"
	"github.com/mcoot/sideline/internal/model"
)

func newPlayersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "players",
		Aliases: []string{"player"},
		Short:   "Roster management commands",
	}

	cmd.AddCommand(newPlayersListCmd())
	cmd.AddCommand(newPlayersAddCmd())
	cmd.AddCommand(newPlayersDeleteCmd())

	return cmd
}

func newPlayersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the roster",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.List[model.Player]
			if err := client.Get(cmd.Context(), "/api/v1/players", &result); err != nil {
				return err
			}
			output(cmd).Print(result)
			return nil
		},
	}
}

func newPlayersAddCmd() *cobra.Command {
	var p model.Player

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a player to the roster",
		RunE: func(cmd *cobra.Command, args []string) error {
			if p.Name == "" {
				return fmt.Errorf("--name is required")
			}

			var result response.Saved[model.Player]
			if err := client.Post(cmd.Context(), "/api/v1/players", p, &result); err != nil {
				return err
			}
			output(cmd).Print(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&p.ID, "id", "", "Player id (generated when empty)")
	cmd.Flags().StringVar(&p.Name, "name", "", "Player name (required)")
	cmd.Flags().StringVar(&p.Nickname, "nickname", "", "Nickname")
	cmd.Flags().StringVar(&p.JerseyNumber, "jersey", "", "Jersey number")
	cmd.Flags().BoolVar(&p.IsGoalie, "goalie", false, "Player is a goalie")
	cmd.Flags().StringVar(&p.Notes, "notes", "", "Notes")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func newPlayersDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a player from the roster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.Deleted
			if err := client.Delete(cmd.Context(), "/api/v1/players/"+url.PathEscape(args[0]), &result); err != nil {
				return err
			}
			output(cmd).Print(result)
			return nil
		},
	}
}
