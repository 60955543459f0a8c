package cmd

import (
	"fmt"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"os"
	"restaurant-service/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Str("component", "cmd").Logger()

var rootCmd = &cobra.Command{
	Use:   "restaurant-service",
	Short: "Order, station board and loyalty backend for a restaurant",
	Long: `restaurant-service takes orders, routes their items to the kitchen and bar stations,
applies discounts and keeps each customer's loyalty points.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	rootCmd.AddCommand(serveCmd, migrateCmd, seedCmd, workerCmd, tokenCmd)
}

func initConfig() error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	level, err := zerolog.ParseLevel(loaded.Log.Level)
	if err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	zerolog.SetGlobalLevel(level)
	cfg = loaded
	return nil
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
