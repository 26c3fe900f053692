package messaging

import (
	"context"

	"github.com/Aidin1998/salesflow/pkg/metrics"
	"go.uber.org/zap"
)

// Listener reprocesses a single message; a nil error allows it to be acked.
type Listener interface {
	OnMessage(ctx context.Context, msg StreamMessage) error
}

// BatchListener reprocesses messages as one batch acked together.
type BatchListener interface {
	OnBatch(ctx context.Context, msgs []StreamMessage) error
}

// ProcessResult is the outcome of decoding and dispatching one batch.
type ProcessResult struct {
	Events    []Event
	Malformed []StreamMessage
	Dispatch  DispatchResult
}

// Processor decodes stream messages and hands them to the router. It is the
// shared handler path of the consumer loop and the reclaim manager.
type Processor struct {
	router *Router
	logger *zap.Logger
}

// NewProcessor creates a processor dispatching through router.
func NewProcessor(router *Router, logger *zap.Logger) *Processor {
	return &Processor{router: router, logger: logger}
}

// Process decodes msgs, drops the malformed ones and dispatches the rest.
func (p *Processor) Process(ctx context.Context, msgs []StreamMessage) ProcessResult {
	var result ProcessResult
	result.Events = make([]Event, 0, len(msgs))

	for _, msg := range msgs {
		event, err := Decode(msg)
		if err != nil {
			metrics.DecodeFailures.WithLabelValues(msg.Stream).Inc()
			p.logger.Warn("Dropping undecodable stream message",
				zap.String("stream", msg.Stream),
				zap.String("message_id", msg.ID),
				zap.Error(err))
			result.Malformed = append(result.Malformed, msg)
			continue
		}
		result.Events = append(result.Events, event)
	}

	if len(result.Events) > 0 {
		result.Dispatch = p.router.Dispatch(ctx, result.Events)
	}
	return result
}

// OnMessage implements Listener. Malformed payloads count as handled.
func (p *Processor) OnMessage(ctx context.Context, msg StreamMessage) error {
	return p.Process(ctx, []StreamMessage{msg}).Dispatch.Err()
}

// OnBatch implements BatchListener.
func (p *Processor) OnBatch(ctx context.Context, msgs []StreamMessage) error {
	return p.Process(ctx, msgs).Dispatch.Err()
}
