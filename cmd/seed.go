package cmd

import (
	"github.com/spf13/cobra"
	"os"
	"restaurant-service/internal/seed"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load a demo menu, customers and discounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		customers, _ := cmd.Flags().GetInt("customers")
		randomSeed, _ := cmd.Flags().GetInt64("seed")

		if cfg.Storage.Driver == "memory" {
			logger.Warn().Msg("Seeding in-memory storage; the data is gone when this command exits")
		}
		s, err := buildStores(cmd.Context(), cfg, true)
		if err != nil {
			return err
		}
		defer s.Close()

		_, err = seed.NewSeeder(s.catalog, s.customers, s.discounts).Run(cmd.Context(), seed.Options{
			Customers: customers,
			Seed:      randomSeed,
			Progress:  os.Stderr,
		})
		return err
	},
}

func init() {
	seedCmd.Flags().Int("customers", 50, "Number of customers to create")
	seedCmd.Flags().Int64("seed", 42, "Random seed for generated data")
}
