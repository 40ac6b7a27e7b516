package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/garyjia/payment-approval/internal/domain/event"
)

// AnyType subscribes a handler to every event type
const AnyType event.Type = "*"

// ErrClosed is returned by Dispatch after Close
var ErrClosed = errors.New("dispatcher is closed")

// Dispatcher routes events to registered handlers
type Dispatcher interface {
	// Subscribe registers a handler for an event type
	Subscribe(eventType event.Type, handler Handler)

	// SubscribeNamed registers a handler under a name. The name keys
	// middleware state such as dedup claims, so it must be stable.
	SubscribeNamed(eventType event.Type, name string, handler Handler)

	// Dispatch runs the type-specific handlers, then the wildcard handlers,
	// in registration order. Every handler runs even if an earlier one
	// fails; failures are joined.
	Dispatch(ctx context.Context, evt *event.Event) error

	// Handlers lists every registration, sorted by event type
	Handlers() []HandlerInfo

	// Close rejects further dispatches
	Close() error
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type eventDispatcher struct {
	mu         sync.RWMutex
	handlers   map[event.Type][]HandlerInfo
	logger     Logger
	middleware []Middleware
	closed     atomic.Bool
}

// Option configures the dispatcher
type Option func(*eventDispatcher)

// WithLogger sets a logger for the dispatcher
func WithLogger(logger Logger) Option {
	return func(d *eventDispatcher) {
		d.logger = logger
	}
}

// WithMiddleware wraps every subsequently registered handler. The first
// middleware given is the outermost.
func WithMiddleware(mw ...Middleware) Option {
	return func(d *eventDispatcher) {
		d.middleware = append(d.middleware, mw...)
	}
}

// NewDispatcher creates a new event dispatcher
func NewDispatcher(opts ...Option) Dispatcher {
	d := &eventDispatcher{
		handlers: make(map[event.Type][]HandlerInfo),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *eventDispatcher) Subscribe(eventType event.Type, handler Handler) {
	d.mu.RLock()
	name := fmt.Sprintf("%s-handler-%d", eventType, len(d.handlers[eventType]))
	d.mu.RUnlock()
	d.SubscribeNamed(eventType, name, handler)
}

func (d *eventDispatcher) SubscribeNamed(eventType event.Type, name string, handler Handler) {
	for i := len(d.middleware) - 1; i >= 0; i-- {
		handler = d.middleware[i](name, handler)
	}

	d.mu.Lock()
	d.handlers[eventType] = append(d.handlers[eventType], HandlerInfo{
		Name:      name,
		EventType: eventType,
		Handler:   handler,
	})
	d.mu.Unlock()

	if d.logger != nil {
		d.logger.Info("Handler registered", "event_type", eventType, "handler_name", name)
	}
}

func (d *eventDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	if d.closed.Load() {
		return ErrClosed
	}

	d.mu.RLock()
	targets := make([]HandlerInfo, 0, len(d.handlers[evt.Type])+len(d.handlers[AnyType]))
	targets = append(targets, d.handlers[evt.Type]...)
	targets = append(targets, d.handlers[AnyType]...)
	d.mu.RUnlock()

	var errs []error
	for _, info := range targets {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := d.invoke(ctx, evt, info); err != nil {
			if d.logger != nil {
				d.logger.Error("Handler error",
					"event_type", evt.Type,
					"event_id", evt.ID,
					"instance_id", evt.InstanceID,
					"handler_name", info.Name,
					"error", err,
				)
			}
			errs = append(errs, fmt.Errorf("handler %s failed: %w", info.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (d *eventDispatcher) Handlers() []HandlerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	types := make([]string, 0, len(d.handlers))
	for t := range d.handlers {
		types = append(types, string(t))
	}
	sort.Strings(types)

	var out []HandlerInfo
	for _, t := range types {
		for _, h := range d.handlers[event.Type(t)] {
			out = append(out, HandlerInfo{Name: h.Name, EventType: h.EventType})
		}
	}
	return out
}

func (d *eventDispatcher) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("dispatcher already closed")
	}
	return nil
}

// invoke runs a handler, turning a panic into an error
func (d *eventDispatcher) invoke(ctx context.Context, evt *event.Event, info HandlerInfo) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			if d.logger != nil {
				d.logger.Error("Handler panic recovered",
					"event_type", evt.Type,
					"handler_name", info.Name,
					"panic", r,
				)
			}
		}
	}()
	return info.Handler(ctx, evt)
}
