package cmd

import (
	"context"
	"errors"
	"github.com/spf13/cobra"
	"net/http"
	"os"
	"os/signal"
	"restaurant-service/internal/api"
	"restaurant-service/internal/board"
	"restaurant-service/internal/events"
	"syscall"
	"time"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and station boards",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	s, err := buildStores(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer s.Close()

	rdb := newRedis(cfg)
	if rdb != nil {
		defer rdb.Close()
	}

	publisher, err := newPublisher(cfg)
	if err != nil {
		return err
	}
	hub := board.NewHub()
	fanout := events.Multi{publisher, hub}
	defer fanout.Close()

	svc := buildServices(cfg, s, rdb, fanout)
	if rdb != nil {
		if err := svc.catalog.PreWarmCache(ctx); err != nil {
			logger.Warn().Err(err).Msg("Cache pre-warm failed")
		}
	}

	e := api.NewRouter(api.NewHandler(svc.catalog, svc.orders, svc.loyalty, hub), api.RouterConfig{
		JWTSecret: cfg.JWT.Secret,
		Rate:      cfg.RateLimit.Rate,
		Burst:     cfg.RateLimit.Burst,
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Msgf("Listening on %s", cfg.HTTP.Addr)
		if err := e.Start(cfg.HTTP.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
