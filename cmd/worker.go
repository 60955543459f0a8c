package cmd

import (
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"os"
	"os/signal"
	"restaurant-service/internal/events"
	"restaurant-service/internal/receipt"
	"syscall"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Archive receipts of completed orders and reconcile failed point credits",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, err := buildStores(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer s.Close()
		rdb := newRedis(cfg)
		if rdb != nil {
			defer rdb.Close()
		}
		svc := buildServices(cfg, s, rdb, events.LogPublisher{})

		var sink receipt.WriterFactory
		if cfg.Receipts.Bucket != "" {
			sink, err = receipt.NewS3WriterFactory(ctx, cfg.Receipts.Region, cfg.Receipts.Bucket)
			if err != nil {
				return err
			}
		} else {
			logger.Warn().Msg("No receipts.bucket set; receipts are kept in memory")
			sink = receipt.NewMemoryWriterFactory()
		}

		reader := cfg.Kafka.NewKafkaReader()
		defer reader.Close()

		g, gctx := errgroup.WithContext(ctx)
		if cfg.Loyalty.ReconcileInterval > 0 {
			g.Go(func() error {
				return svc.loyalty.RunReconciler(gctx, cfg.Loyalty.ReconcileInterval, cfg.Loyalty.ReconcileBatch)
			})
		}
		g.Go(func() error {
			logger.Info().Msgf("Consuming %s as group %s", cfg.Kafka.Topic, cfg.Kafka.GroupID)
			return receipt.NewWorker(reader, svc.orders, sink, retryPolicy(cfg)).Run(gctx)
		})
		return g.Wait()
	},
}
