// Package events publishes domain events after their state change has committed. Publishing is
// best effort: a failure is logged by the caller and never undoes the change.
package events

import (
	"context"
	"errors"
	"fmt"
	"github.com/rs/zerolog"
	"os"
	"restaurant-service/internal/entity"
	"strings"
	"sync"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Str("component", "events").Logger()

type Publisher interface {
	Publish(ctx context.Context, event entity.Event) error
	Close() error
}

// MessageKey is the broker key of an event, for example "order-completed-<id>".
func MessageKey(event entity.Event) string {
	return fmt.Sprintf("%s-%s", strings.ReplaceAll(string(event.Type), ".", "-"), event.EntityID)
}

// LogPublisher writes events to the log only. It backs events.driver=log.
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, event entity.Event) error {
	logger.Info().
		Str("type", string(event.Type)).
		Str("entity_id", event.EntityID).
		Str("status", event.Status).
		Msg("event")
	return nil
}

func (LogPublisher) Close() error { return nil }

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, event entity.Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []entity.Event
	// Err, when set, is returned from every Publish after recording.
	Err error
}

func (r *Recorder) Publish(ctx context.Context, event entity.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.Err
}

func (r *Recorder) Close() error { return nil }

func (r *Recorder) Events() []entity.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]entity.Event(nil), r.events...)
}

// Count returns how many events of type t were published.
func (r *Recorder) Count(t entity.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}
