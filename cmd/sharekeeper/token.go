package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vultisig/sharekeeper/service"
)

func newTokenCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "token <client-id>",
		Short: "Issue an API token for a fee payer client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Server.JWTSecret == "" {
				return fmt.Errorf("server.jwt_secret is not configured")
			}
			token, err := service.NewAuthService(a.cfg.Server.JWTSecret).GenerateToken(args[0])
			if err != nil {
				return err
			}
			a.printf("%s\n", token)
			return nil
		},
	}
}
