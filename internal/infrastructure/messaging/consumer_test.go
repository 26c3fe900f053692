package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeShard struct {
	mu             sync.Mutex
	batches        [][]StreamMessage
	readErr        error
	reads          int
	checkpointErrs []error
	checkpoints    int
	checkpointed   []string
}

func (s *fakeShard) ReadBatch(ctx context.Context, max int) ([]StreamMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.readErr != nil {
		return nil, s.readErr
	}
	if len(s.batches) == 0 {
		return nil, nil
	}
	b := s.batches[0]
	s.batches = s.batches[1:]
	return b, nil
}

func (s *fakeShard) Checkpoint(ctx context.Context, done []StreamMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints++
	if len(s.checkpointErrs) > 0 {
		err := s.checkpointErrs[0]
		s.checkpointErrs = s.checkpointErrs[1:]
		if err != nil {
			return err
		}
	}
	s.checkpointed = append(s.checkpointed, messageIDs(done)...)
	return nil
}

func (s *fakeShard) Close() error { return nil }

func testProcessor(handlers ...Handler) *Processor {
	return NewProcessor(NewRouter(zap.NewNop(), handlers...), zap.NewNop())
}

// stopAfter cancels the loop once a handler has seen the batch.
func stopAfter(cancel context.CancelFunc, fail map[MessageType]bool) Handler {
	return NewHandler("stopper", func(Event) bool { return true }, func(_ context.Context, events []Event) error {
		defer cancel()
		for _, e := range events {
			if fail[e.Type] {
				return errors.New("handler failed")
			}
		}
		return nil
	})
}

func TestConsumerLoopCheckpointsBatchDespiteHandlerFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transport := NewMemoryTransport()
	transport.Add("inv", envelopePayload(t, MsgProductSnapshot, struct{}{}))
	transport.Add("inv", envelopePayload(t, MsgProductHistory, struct{}{}))
	transport.Add("inv", envelopePayload(t, MsgCategoryTree, struct{}{}))

	failing := &recorder{name: "history", types: []MessageType{MsgProductHistory}, err: errors.New("sink down")}
	var handled []string
	ok := NewHandler("rest", OfType(MsgProductSnapshot, MsgCategoryTree), func(_ context.Context, events []Event) error {
		defer cancel()
		for _, e := range events {
			handled = append(handled, e.StreamID)
		}
		return nil
	})

	shard := &GroupShard{Transport: transport, Stream: "inv", Group: "g", Consumer: "c1"}
	loop := NewConsumerLoop(shard, testProcessor(failing, ok), nil, ConsumerConfig{Name: "inv"}, zap.NewNop())

	require.NoError(t, loop.Run(ctx))
	assert.Equal(t, StateShutdown, loop.State())
	assert.Equal(t, []string{"1-0", "3-0"}, handled)
	require.Len(t, failing.calls, 1)

	pending, err := transport.Pending(context.Background(), "inv", "g", "-", "+", 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "all three messages are acknowledged under the default policy")
}

func TestConsumerLoopOnSuccessWithholdsFailedEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shard := &fakeShard{batches: [][]StreamMessage{{
		{ID: "1-0", Stream: "inv", Payload: envelopePayload(t, MsgProductSnapshot, struct{}{})},
		{ID: "2-0", Stream: "inv", Payload: envelopePayload(t, MsgProductHistory, struct{}{})},
		{ID: "3-0", Stream: "inv", Payload: []byte("garbage")},
	}}}
	proc := testProcessor(stopAfter(cancel, map[MessageType]bool{MsgProductHistory: true}))
	loop := NewConsumerLoop(shard, proc, nil, ConsumerConfig{Name: "inv", AckPolicy: AckOnSuccess}, zap.NewNop())

	require.NoError(t, loop.Run(ctx))
	// the stopper group holds both decoded events and failed as a whole
	assert.Equal(t, []string{"3-0"}, shard.checkpointed)
}

func TestConsumerLoopOnSuccessKeepsHealthyGroups(t *testing.T) {
	shard := &fakeShard{batches: [][]StreamMessage{{
		{ID: "1-0", Stream: "inv", Payload: envelopePayload(t, MsgProductSnapshot, struct{}{})},
		{ID: "2-0", Stream: "inv", Payload: envelopePayload(t, MsgProductHistory, struct{}{})},
		{ID: "3-0", Stream: "inv", Payload: envelopePayload(t, MsgCategoryTree, struct{}{})},
	}}}
	ok := &recorder{name: "ok", types: []MessageType{MsgProductSnapshot, MsgCategoryTree}}
	failing := &recorder{name: "history", types: []MessageType{MsgProductHistory}, err: errors.New("down")}
	loop := NewConsumerLoop(shard, testProcessor(ok, failing), nil, ConsumerConfig{Name: "inv", AckPolicy: AckOnSuccess}, zap.NewNop())

	n, err := loop.cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"1-0", "3-0"}, shard.checkpointed)
}

func TestConsumerLoopRetriesFailedCheckpoint(t *testing.T) {
	shard := &fakeShard{
		batches:        [][]StreamMessage{{{ID: "1-0", Stream: "inv", Payload: envelopePayload(t, MsgProductSnapshot, struct{}{})}}},
		checkpointErrs: []error{errors.New("connection reset")},
	}
	loop := NewConsumerLoop(shard, testProcessor(), nil, ConsumerConfig{Name: "inv"}, zap.NewNop())

	_, err := loop.cycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, shard.checkpointed)

	// an empty read retries the remembered checkpoint
	n, err := loop.cycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []string{"1-0"}, shard.checkpointed)
	assert.Equal(t, 2, shard.checkpoints)
}

func TestConsumerLoopFinalCheckpointOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shard := &fakeShard{
		batches:        [][]StreamMessage{{{ID: "1-0", Stream: "inv", Payload: envelopePayload(t, MsgProductSnapshot, struct{}{})}}},
		checkpointErrs: []error{errors.New("timeout")},
	}
	loop := NewConsumerLoop(shard, testProcessor(stopAfter(cancel, nil)), nil, ConsumerConfig{Name: "inv"}, zap.NewNop())

	require.NoError(t, loop.Run(ctx))
	assert.Equal(t, 2, shard.checkpoints)
	assert.Equal(t, []string{"1-0"}, shard.checkpointed)
}

func TestConsumerLoopReportsFailedFinalCheckpoint(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	down := errors.New("broker down")
	shard := &fakeShard{
		batches:        [][]StreamMessage{{{ID: "1-0", Stream: "inv", Payload: envelopePayload(t, MsgProductSnapshot, struct{}{})}}},
		checkpointErrs: []error{down, down},
	}
	loop := NewConsumerLoop(shard, testProcessor(stopAfter(cancel, nil)), nil, ConsumerConfig{Name: "inv"}, zap.NewNop())

	err := loop.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, down)
	assert.Contains(t, err.Error(), "final checkpoint")
}

func TestConsumerLoopCircuitBreakerPausesReads(t *testing.T) {
	shard := &fakeShard{readErr: errors.New("connection refused")}
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Hour,
	}, zap.NewNop())
	loop := NewConsumerLoop(shard, testProcessor(), cb, ConsumerConfig{Name: "inv", ReadBackoff: time.Millisecond}, zap.NewNop())

	_, err := loop.cycle(context.Background())
	require.Error(t, err)
	assert.Equal(t, CircuitBreakerOpen, loop.Breaker().State())

	n, err := loop.cycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, shard.reads, "no read while the breaker is open")
}
