package messaging

import (
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestCommittablePrefix(t *testing.T) {
	inflight := []kafka.Message{
		{Partition: 0, Offset: 10},
		{Partition: 0, Offset: 11},
		{Partition: 1, Offset: 4},
	}

	assert.Equal(t, 3, committablePrefix(inflight, map[string]struct{}{"0-10": {}, "0-11": {}, "1-4": {}}))
	assert.Equal(t, 1, committablePrefix(inflight, map[string]struct{}{"0-10": {}, "1-4": {}}))
	assert.Zero(t, committablePrefix(inflight, map[string]struct{}{"0-11": {}}))
	assert.Zero(t, committablePrefix(nil, nil))
}

func TestKafkaMessageID(t *testing.T) {
	assert.Equal(t, "3-42", kafkaMessageID(3, 42))
}

func TestNewKafkaShardValidates(t *testing.T) {
	_, err := NewKafkaShard(KafkaConfig{}, zap.NewNop())
	assert.Error(t, err)

	cfg := DefaultKafkaConfig()
	_, err = NewKafkaShard(cfg, zap.NewNop())
	assert.Error(t, err, "topic and group are required")
}
