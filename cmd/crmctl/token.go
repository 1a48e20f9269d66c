package main

import (
	"encoding/json"
	"fmt"
	"time"

	"settlement-crm/internal/auth"
	"settlement-crm/internal/config"
	"settlement-crm/internal/rbac"

	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	var (
		userID string
		role   string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access/refresh token pair (reads JWT_* from the environment)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !rbac.IsKnown(role) {
				return fmt.Errorf("unknown role %q (want admin, manager or agent)", role)
			}
			cfg, err := config.LoadAuth()
			if err != nil {
				return err
			}
			m, err := auth.NewManager(cfg)
			if err != nil {
				return err
			}
			pair, err := m.IssuePair(time.Now(), userID, role)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(pair)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id the token is issued to")
	cmd.Flags().StringVar(&role, "role", rbac.RoleAgent, "role: admin, manager or agent")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
