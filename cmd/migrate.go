package cmd

import (
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the tables on the main database and every order shard",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Storage.Driver == "memory" {
			logger.Info().Msg("Storage driver is memory; nothing to migrate")
			return nil
		}
		s, err := buildStores(cmd.Context(), cfg, true)
		if err != nil {
			return err
		}
		defer s.Close()
		logger.Info().Msgf("Migrated main database and %d order shards", len(cfg.DB.OrderShardDSNs))
		return nil
	},
}
