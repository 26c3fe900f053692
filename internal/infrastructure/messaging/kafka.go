package messaging

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaConfig contains configuration for the Kafka partition consumer
type KafkaConfig struct {
	Brokers  []string      `mapstructure:"brokers"`
	Topic    string        `mapstructure:"topic"`
	GroupID  string        `mapstructure:"group_id"`
	MinBytes int           `mapstructure:"min_bytes"`
	MaxBytes int           `mapstructure:"max_bytes"`
	MaxWait  time.Duration `mapstructure:"max_wait"`
	// FetchWait bounds how long a batch waits for more messages once the
	// first one has arrived.
	FetchWait time.Duration `mapstructure:"fetch_wait"`
}

// DefaultKafkaConfig returns default Kafka consumer configuration
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Brokers:   []string{"localhost:9092"},
		MinBytes:  1,
		MaxBytes:  10 << 20,
		MaxWait:   500 * time.Millisecond,
		FetchWait: 50 * time.Millisecond,
	}
}

// KafkaShard is a Shard over a consumer group reader. Kafka has no
// per-message acknowledgement, so a checkpoint commits offsets and only the
// leading run of finished messages can be committed.
type KafkaShard struct {
	reader    *kafka.Reader
	topic     string
	fetchWait time.Duration
	logger    *zap.Logger

	mu       sync.Mutex
	inflight []kafka.Message
	finished map[string]struct{}
}

// NewKafkaShard creates a group reader for config.Topic.
func NewKafkaShard(config KafkaConfig, logger *zap.Logger) (*KafkaShard, error) {
	if len(config.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if config.Topic == "" || config.GroupID == "" {
		return nil, errors.New("kafka topic and group_id are required")
	}
	if config.FetchWait <= 0 {
		config.FetchWait = 50 * time.Millisecond
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     config.Brokers,
		Topic:       config.Topic,
		GroupID:     config.GroupID,
		MinBytes:    config.MinBytes,
		MaxBytes:    config.MaxBytes,
		MaxWait:     config.MaxWait,
		StartOffset: kafka.FirstOffset,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...), zap.String("topic", config.Topic))
		}),
	})

	logger.Info("Kafka shard created",
		zap.Strings("brokers", config.Brokers),
		zap.String("topic", config.Topic),
		zap.String("group_id", config.GroupID))

	return &KafkaShard{
		reader:    reader,
		topic:     config.Topic,
		fetchWait: config.FetchWait,
		logger:    logger,
		finished:  make(map[string]struct{}),
	}, nil
}

// ReadBatch blocks for the first message, then collects whatever else
// arrives within FetchWait, up to max messages.
func (s *KafkaShard) ReadBatch(ctx context.Context, max int) ([]StreamMessage, error) {
	first, err := s.reader.FetchMessage(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch message from %s: %w", s.topic, err)
	}
	fetched := []kafka.Message{first}

	for len(fetched) < max {
		fctx, cancel := context.WithTimeout(ctx, s.fetchWait)
		m, err := s.reader.FetchMessage(fctx)
		cancel()
		if err != nil {
			// timeout or cancellation ends the batch; the reader keeps its position
			break
		}
		fetched = append(fetched, m)
	}

	s.mu.Lock()
	s.inflight = append(s.inflight, fetched...)
	s.mu.Unlock()

	out := make([]StreamMessage, len(fetched))
	for i, m := range fetched {
		out[i] = StreamMessage{
			ID:            kafkaMessageID(m.Partition, m.Offset),
			Stream:        m.Topic,
			Payload:       m.Value,
			DeliveryCount: 1,
		}
	}
	return out, nil
}

// Checkpoint marks done as finished and commits the offsets of the leading
// run of finished in-flight messages. A withheld message blocks the commit of
// everything after it.
func (s *KafkaShard) Checkpoint(ctx context.Context, done []StreamMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range done {
		s.finished[m.ID] = struct{}{}
	}

	n := committablePrefix(s.inflight, s.finished)
	if n == 0 {
		return nil
	}
	if err := s.reader.CommitMessages(ctx, s.inflight[:n]...); err != nil {
		return fmt.Errorf("commit offsets on %s: %w", s.topic, err)
	}
	for _, m := range s.inflight[:n] {
		delete(s.finished, kafkaMessageID(m.Partition, m.Offset))
	}
	s.inflight = append(s.inflight[:0], s.inflight[n:]...)
	return nil
}

// Close closes the reader and leaves the group.
func (s *KafkaShard) Close() error {
	return s.reader.Close()
}

func committablePrefix(inflight []kafka.Message, finished map[string]struct{}) int {
	n := 0
	for _, m := range inflight {
		if _, ok := finished[kafkaMessageID(m.Partition, m.Offset)]; !ok {
			break
		}
		n++
	}
	return n
}

func kafkaMessageID(partition int, offset int64) string {
	return strconv.Itoa(partition) + "-" + strconv.FormatInt(offset, 10)
}
