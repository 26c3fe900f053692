package messaging

import (
	"context"
	"errors"
	"time"
)

// ErrMessageNotFound is returned when a message id no longer exists in the stream.
var ErrMessageNotFound = errors.New("stream message not found")

// StreamMessage is a record delivered by a transport. IDs are totally
// ordered within one shard.
type StreamMessage struct {
	ID            string
	Stream        string
	Payload       []byte
	DeliveryCount int64
}

// PendingClaim describes a delivered but unacknowledged message of a
// consumer group.
type PendingClaim struct {
	MessageID     string
	Idle          time.Duration
	Consumer      string
	DeliveryCount int64
}

// Transport is the stream contract the pipeline relies on: consumer groups,
// explicit acks, a pending list and idle-based claiming.
type Transport interface {
	// ReadBatch returns up to count new messages for the consumer.
	ReadBatch(ctx context.Context, stream, group, consumer string, count int64) ([]StreamMessage, error)

	// Ack acknowledges messages for the group.
	Ack(ctx context.Context, stream, group string, ids ...string) error

	// Claim transfers a pending message idle for at least minIdle to consumer.
	// It returns nil when the message was not claimable.
	Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, id string) (*StreamMessage, error)

	// Pending lists unacknowledged entries of the group within [start, end].
	Pending(ctx context.Context, stream, group, start, end string, count int64) ([]PendingClaim, error)

	// RangeByID fetches one message by id, ErrMessageNotFound if it is gone.
	RangeByID(ctx context.Context, stream, id string) (*StreamMessage, error)
}

// Shard is the unit a ConsumerLoop owns: it hands out batches and records
// how far they were processed.
type Shard interface {
	ReadBatch(ctx context.Context, max int) ([]StreamMessage, error)
	Checkpoint(ctx context.Context, done []StreamMessage) error
	Close() error
}

// GroupShard adapts a Transport consumer group to the Shard contract;
// checkpointing acks the processed messages.
type GroupShard struct {
	Transport Transport
	Stream    string
	Group     string
	Consumer  string
}

// ReadBatch implements Shard.
func (s *GroupShard) ReadBatch(ctx context.Context, max int) ([]StreamMessage, error) {
	return s.Transport.ReadBatch(ctx, s.Stream, s.Group, s.Consumer, int64(max))
}

// Checkpoint implements Shard.
func (s *GroupShard) Checkpoint(ctx context.Context, done []StreamMessage) error {
	if len(done) == 0 {
		return nil
	}
	return s.Transport.Ack(ctx, s.Stream, s.Group, messageIDs(done)...)
}

// Close implements Shard. The transport outlives the shard.
func (s *GroupShard) Close() error { return nil }

func messageIDs(msgs []StreamMessage) []string {
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}
