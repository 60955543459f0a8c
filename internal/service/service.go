// Package service holds the order workflow, the discount engine, the loyalty ledger and the
// catalog read path. Services depend on the repository interfaces only.
package service

import (
	"context"
	"errors"
	"github.com/rs/zerolog"
	"os"
	"restaurant-service/internal/entity"
	"restaurant-service/internal/events"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

var errVariationMismatch = errors.New("variation mismatch")

// publish sends an event after its change has committed. Failures are logged only.
func publish(ctx context.Context, publisher events.Publisher, event entity.Event) {
	if publisher == nil {
		return
	}
	if err := publisher.Publish(ctx, event); err != nil {
		logger.Error().Err(err).Msgf("Error publishing %s for %s", event.Type, event.EntityID)
	}
}
