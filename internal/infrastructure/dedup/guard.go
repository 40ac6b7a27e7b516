// Package dedup makes event handlers idempotent across outbox redeliveries.
package dedup

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/payment-approval/internal/application/dispatcher"
	"github.com/garyjia/payment-approval/internal/application/port"
	"github.com/garyjia/payment-approval/internal/domain/event"
)

// DefaultTTL bounds how long a delivered transition is remembered
const DefaultTTL = 24 * time.Hour

// Guard skips events a handler has already processed. Keys are scoped per
// handler so one handler's success does not suppress another's retry.
type Guard struct {
	store  port.DedupStore
	ttl    time.Duration
	logger *zap.Logger
}

// NewGuard creates a guard backed by store
func NewGuard(store port.DedupStore, ttl time.Duration, logger *zap.Logger) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{store: store, ttl: ttl, logger: logger}
}

// Middleware returns the guard as dispatcher middleware
func (g *Guard) Middleware() dispatcher.Middleware {
	return func(name string, next dispatcher.Handler) dispatcher.Handler {
		return func(ctx context.Context, evt *event.Event) error {
			if evt.DedupKey == "" {
				return next(ctx, evt)
			}

			key := fmt.Sprintf("%s:%s", name, evt.DedupKey)
			claimed, err := g.store.Claim(ctx, key, g.ttl)
			if err != nil {
				return err
			}
			if !claimed {
				g.logger.Debug("Skipping duplicate event",
					zap.String("handler", name),
					zap.String("dedup_key", evt.DedupKey))
				return nil
			}

			if err := next(ctx, evt); err != nil {
				if relErr := g.store.Release(ctx, key); relErr != nil {
					g.logger.Error("Failed to release dedup key",
						zap.String("key", key),
						zap.Error(relErr))
				}
				return err
			}
			return nil
		}
	}
}
