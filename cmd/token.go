package cmd

import (
	"fmt"
	"github.com/spf13/cobra"
	"restaurant-service/internal/api"
	"time"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print a staff JWT for the station and loyalty endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		token, err := api.IssueToken(cfg.JWT.Secret, name, api.RoleStaff, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("name", "staff", "Name carried in the token")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
}
