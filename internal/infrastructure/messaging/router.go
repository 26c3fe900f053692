package messaging

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/Aidin1998/salesflow/pkg/metrics"
	"go.uber.org/zap"
)

// Handler processes the events it declares itself capable of.
type Handler interface {
	Name() string
	IsHandle(event Event) bool
	Handle(ctx context.Context, events []Event) error
}

type funcHandler struct {
	name      string
	predicate func(Event) bool
	handle    func(context.Context, []Event) error
}

func (h funcHandler) Name() string { return h.name }

func (h funcHandler) IsHandle(event Event) bool { return h.predicate(event) }

func (h funcHandler) Handle(ctx context.Context, events []Event) error {
	return h.handle(ctx, events)
}

// NewHandler builds a Handler from a predicate and a handle function.
func NewHandler(name string, predicate func(Event) bool, handle func(context.Context, []Event) error) Handler {
	return funcHandler{name: name, predicate: predicate, handle: handle}
}

// OfType is a predicate accepting events of the given types.
func OfType(types ...MessageType) func(Event) bool {
	return func(e Event) bool {
		for _, t := range types {
			if e.Type == t {
				return true
			}
		}
		return false
	}
}

// HandlerError reports one failed handler group.
type HandlerError struct {
	Handler string
	Events  []Event
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s failed on %d events: %v", e.Handler, len(e.Events), e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// DispatchResult summarizes one Dispatch call.
type DispatchResult struct {
	Handled  int
	Unrouted int
	Failures []*HandlerError
}

// Failed returns the stream ids of events whose handler group failed.
func (r DispatchResult) Failed() map[string]struct{} {
	failed := make(map[string]struct{})
	for _, f := range r.Failures {
		for _, e := range f.Events {
			failed[e.StreamID] = struct{}{}
		}
	}
	return failed
}

// Err joins every handler failure, nil when all groups succeeded.
func (r DispatchResult) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// Router groups events by the first handler that accepts them and invokes
// each handler once per batch.
type Router struct {
	handlers []Handler
	logger   *zap.Logger
}

// NewRouter creates a router evaluating handlers in registration order.
func NewRouter(logger *zap.Logger, handlers ...Handler) *Router {
	return &Router{handlers: handlers, logger: logger}
}

// Register appends a handler after the existing ones.
func (r *Router) Register(h Handler) {
	r.handlers = append(r.handlers, h)
	r.logger.Info("Registered event handler", zap.String("handler", h.Name()))
}

// Dispatch routes a batch. Unmatched events are dropped; a failing or
// panicking handler is logged and does not keep the other groups from running.
func (r *Router) Dispatch(ctx context.Context, events []Event) DispatchResult {
	groups := make([][]Event, len(r.handlers))
	var result DispatchResult

	for _, event := range events {
		idx := r.match(event)
		if idx < 0 {
			result.Unrouted++
			metrics.UnroutedEvents.WithLabelValues(string(event.Type)).Inc()
			r.logger.Debug("No handler accepts event",
				zap.String("type", string(event.Type)),
				zap.String("stream_id", event.StreamID))
			continue
		}
		groups[idx] = append(groups[idx], event)
	}

	for idx, group := range groups {
		if len(group) == 0 {
			continue
		}
		h := r.handlers[idx]
		start := time.Now()
		err := r.invoke(ctx, h, group)
		metrics.HandlerLatency.WithLabelValues(h.Name()).Observe(time.Since(start).Seconds())

		if err != nil {
			metrics.HandlerInvocations.WithLabelValues(h.Name(), "failure").Inc()
			r.logger.Error("Event handler failed",
				zap.String("handler", h.Name()),
				zap.Int("events", len(group)),
				zap.Error(err))
			result.Failures = append(result.Failures, &HandlerError{Handler: h.Name(), Events: group, Err: err})
			continue
		}
		metrics.HandlerInvocations.WithLabelValues(h.Name(), "success").Inc()
		result.Handled += len(group)
	}

	return result
}

func (r *Router) match(event Event) int {
	for i, h := range r.handlers {
		if h.IsHandle(event) {
			return i
		}
	}
	return -1
}

func (r *Router) invoke(ctx context.Context, h Handler, events []Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
			r.logger.Error("Event handler panicked",
				zap.String("handler", h.Name()),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	return h.Handle(ctx, events)
}
