package cli

import (
	"github.com/spf13/cobra"

	"github.com/mcoot/sideline/internal/api/request"
	"github.com/mcoot/sideline/internal/api/response"
)

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Identity commands",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the current identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.Auth
			if err := client.Get(cmd.Context(), "/api/v1/auth", &result); err != nil {
				return err
			}
			output(cmd).Print(result)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "signin <user-id>",
		Short: "Route storage for a signed-in user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return updateAuth(cmd, request.AuthRequest{IsAuthenticated: true, UserID: args[0]})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "signout",
		Short: "Return to anonymous local-only storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return updateAuth(cmd, request.AuthRequest{})
		},
	})

	return cmd
}

func updateAuth(cmd *cobra.Command, req request.AuthRequest) error {
	var result response.Auth
	if err := client.Put(cmd.Context(), "/api/v1/auth", req, &result); err != nil {
		return err
	}
	output(cmd).Print(result)
	return nil
}

func newConnectivityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connectivity",
		Short: "Report network state to the agent",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show whether the agent considers the device online",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.Connectivity
			if err := client.Get(cmd.Context(), "/api/v1/connectivity", &result); err != nil {
				return err
			}
			output(cmd).Print(result)
			return nil
		},
	})

	for _, state := range []struct {
		use    string
		online bool
	}{{"online", true}, {"offline", false}} {
		cmd.AddCommand(&cobra.Command{
			Use:   state.use,
			Short: "Mark the device " + state.use,
			RunE: func(cmd *cobra.Command, args []string) error {
				var result response.Connectivity
				req := request.ConnectivityRequest{Online: state.online}
				if err := client.Put(cmd.Context(), "/api/v1/connectivity", req, &result); err != nil {
					return err
				}
				output(cmd).Print(result)
				return nil
			},
		})
	}

	return cmd
}
