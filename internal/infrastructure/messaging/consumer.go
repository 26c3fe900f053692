package messaging

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Aidin1998/salesflow/pkg/metrics"
	"go.uber.org/zap"
)

// AckPolicy decides which messages of a batch are checkpointed.
type AckPolicy string

const (
	// AckAlways checkpoints the whole batch even when handlers failed.
	AckAlways AckPolicy = "always"
	// AckOnSuccess withholds messages of failed handler groups so they stay
	// pending and can be reclaimed.
	AckOnSuccess AckPolicy = "on_success"
)

// ConsumerState is the phase the consumer loop is in.
type ConsumerState int32

const (
	StateIdle ConsumerState = iota
	StateReading
	StateDispatching
	StateCheckpointing
	StateShutdown
)

func (s ConsumerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReading:
		return "reading"
	case StateDispatching:
		return "dispatching"
	case StateCheckpointing:
		return "checkpointing"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// ConsumerConfig configures a ConsumerLoop.
type ConsumerConfig struct {
	// Name labels logs and metrics, usually the stream or topic.
	Name              string
	BatchSize         int
	AckPolicy         AckPolicy
	ReadBackoff       time.Duration
	PollInterval      time.Duration
	CheckpointTimeout time.Duration
}

func (c *ConsumerConfig) defaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.AckPolicy == "" {
		c.AckPolicy = AckAlways
	}
	if c.ReadBackoff <= 0 {
		c.ReadBackoff = time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 200 * time.Millisecond
	}
	if c.CheckpointTimeout <= 0 {
		c.CheckpointTimeout = 5 * time.Second
	}
}

// ConsumerLoop reads batches from a shard, dispatches them and checkpoints.
type ConsumerLoop struct {
	shard     Shard
	processor *Processor
	breaker   *CircuitBreaker
	config    ConsumerConfig
	logger    *zap.Logger

	state atomic.Int32

	mu      sync.Mutex
	pending []StreamMessage // processed, not yet checkpointed
}

// NewConsumerLoop creates a loop over shard. breaker may be nil.
func NewConsumerLoop(shard Shard, processor *Processor, breaker *CircuitBreaker, config ConsumerConfig, logger *zap.Logger) *ConsumerLoop {
	config.defaults()
	if breaker == nil {
		breaker = NewCircuitBreaker(CircuitBreakerConfig{}, logger)
	}
	return &ConsumerLoop{
		shard:     shard,
		processor: processor,
		breaker:   breaker,
		config:    config,
		logger:    logger.With(zap.String("consumer", config.Name)),
	}
}

// State returns the current phase.
func (l *ConsumerLoop) State() ConsumerState {
	return ConsumerState(l.state.Load())
}

// Breaker returns the circuit breaker guarding reads.
func (l *ConsumerLoop) Breaker() *CircuitBreaker {
	return l.breaker
}

func (l *ConsumerLoop) setState(s ConsumerState) {
	l.state.Store(int32(s))
	metrics.ConsumerState.WithLabelValues(l.config.Name).Set(float64(s))
}

// Run consumes until ctx is cancelled. A batch already read is dispatched
// and checkpointed to completion; cancellation is only observed between
// cycles. Before returning, one final checkpoint of anything still
// uncheckpointed is attempted and its error returned.
func (l *ConsumerLoop) Run(ctx context.Context) error {
	l.logger.Info("Starting consumer loop",
		zap.Int("batch_size", l.config.BatchSize),
		zap.String("ack_policy", string(l.config.AckPolicy)))
	l.setState(StateIdle)

	for ctx.Err() == nil {
		n, err := l.cycle(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			l.logger.Error("Failed to read batch", zap.Error(err))
			l.wait(ctx, l.config.ReadBackoff)
			continue
		}
		if n == 0 {
			l.wait(ctx, l.config.PollInterval)
		}
	}

	return l.shutdown()
}

// cycle performs one read-dispatch-checkpoint pass and returns the number
// of messages read.
func (l *ConsumerLoop) cycle(ctx context.Context) (int, error) {
	if !l.breaker.AllowRequest() {
		l.logger.Warn("Circuit breaker is open, pausing consumption")
		l.wait(ctx, l.config.ReadBackoff)
		return 0, nil
	}

	l.setState(StateReading)
	msgs, err := l.shard.ReadBatch(ctx, l.config.BatchSize)
	if err != nil {
		l.setState(StateIdle)
		if ctx.Err() == nil {
			l.breaker.RecordFailure()
		}
		return 0, fmt.Errorf("read batch: %w", err)
	}
	l.breaker.RecordSuccess()

	if len(msgs) == 0 {
		// retry a checkpoint that failed on an earlier cycle
		l.setState(StateCheckpointing)
		l.checkpoint(ctx)
		l.setState(StateIdle)
		return 0, nil
	}
	metrics.MessagesRead.WithLabelValues(l.config.Name).Add(float64(len(msgs)))

	// the batch runs to completion even if ctx is cancelled meanwhile
	batchCtx := context.WithoutCancel(ctx)

	l.setState(StateDispatching)
	result := l.processor.Process(batchCtx, msgs)
	if err := result.Dispatch.Err(); err != nil {
		l.logger.Warn("Batch dispatched with handler failures",
			zap.Int("messages", len(msgs)),
			zap.Int("failed_groups", len(result.Dispatch.Failures)))
	}

	l.setState(StateCheckpointing)
	l.mu.Lock()
	l.pending = append(l.pending, l.checkpointable(msgs, result)...)
	l.mu.Unlock()
	l.checkpoint(batchCtx)

	l.setState(StateIdle)
	return len(msgs), nil
}

// checkpointable returns the messages of a batch the ack policy lets through.
// Malformed messages are always included; redelivery cannot fix them.
func (l *ConsumerLoop) checkpointable(msgs []StreamMessage, result ProcessResult) []StreamMessage {
	if l.config.AckPolicy != AckOnSuccess || len(result.Dispatch.Failures) == 0 {
		return msgs
	}
	failed := result.Dispatch.Failed()
	done := make([]StreamMessage, 0, len(msgs))
	for _, m := range msgs {
		if _, ok := failed[m.ID]; ok {
			continue
		}
		done = append(done, m)
	}
	return done
}

func (l *ConsumerLoop) checkpoint(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pending) == 0 {
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, l.config.CheckpointTimeout)
	defer cancel()

	if err := l.shard.Checkpoint(cctx, l.pending); err != nil {
		metrics.Checkpoints.WithLabelValues(l.config.Name, "failure").Inc()
		l.logger.Error("Checkpoint failed, will retry",
			zap.Int("messages", len(l.pending)),
			zap.Error(err))
		return err
	}
	metrics.Checkpoints.WithLabelValues(l.config.Name, "success").Inc()
	l.logger.Debug("Checkpointed batch", zap.Int("messages", len(l.pending)))
	l.pending = l.pending[:0]
	return nil
}

func (l *ConsumerLoop) shutdown() error {
	l.setState(StateCheckpointing)
	err := l.checkpoint(context.Background())
	l.setState(StateShutdown)
	if err != nil {
		return fmt.Errorf("final checkpoint: %w", err)
	}
	l.logger.Info("Consumer loop stopped")
	return nil
}

func (l *ConsumerLoop) wait(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
