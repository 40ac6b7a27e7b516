package dispatcher

import (
	"context"

	"github.com/garyjia/payment-approval/internal/domain/event"
)

// Handler processes domain events. Handlers must be idempotent: the outbox
// relay redelivers events whose dispatch did not fully succeed.
type Handler func(ctx context.Context, evt *event.Event) error

// Middleware decorates a handler, e.g. with deduplication
type Middleware func(name string, next Handler) Handler

// HandlerInfo describes one registration. Handler is nil in listings.
type HandlerInfo struct {
	Name      string
	EventType event.Type
	Handler   Handler
}
