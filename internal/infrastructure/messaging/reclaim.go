package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Aidin1998/salesflow/pkg/metrics"
	"go.uber.org/zap"
)

// ReclaimConfig configures a ReclaimManager.
type ReclaimConfig struct {
	Stream   string
	Group    string
	Consumer string

	Interval      time.Duration
	MinIdle       time.Duration
	MaxDeliveries int64
	MaxFetch      int64
	// Batch sends reclaimed messages to a BatchListener in one call.
	Batch bool
}

func (c *ReclaimConfig) defaults() {
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.MinIdle <= 0 {
		c.MinIdle = 5 * time.Second
	}
	if c.MaxDeliveries <= 0 {
		c.MaxDeliveries = 5
	}
	if c.MaxFetch <= 0 {
		c.MaxFetch = 100
	}
}

// ReclaimReport counts what one reclaim pass did.
type ReclaimReport struct {
	Pending      int
	Claimed      int
	Missing      int
	DeadLettered int
	Reprocessed  int
	Failed       int
}

// ReclaimManager recovers messages of a consumer group that were delivered
// but never acknowledged, and drops those redelivered too often.
type ReclaimManager struct {
	transport Transport
	listener  Listener
	batch     BatchListener
	config    ReclaimConfig
	logger    *zap.Logger
}

// NewReclaimManager creates a reclaim manager. listener is usually the same
// Processor the consumer loop uses; when config.Batch is set it must also
// implement BatchListener.
func NewReclaimManager(transport Transport, listener Listener, config ReclaimConfig, logger *zap.Logger) (*ReclaimManager, error) {
	config.defaults()
	m := &ReclaimManager{
		transport: transport,
		listener:  listener,
		config:    config,
		logger: logger.With(
			zap.String("stream", config.Stream),
			zap.String("group", config.Group),
			zap.String("consumer", config.Consumer)),
	}
	if config.Batch {
		bl, ok := listener.(BatchListener)
		if !ok {
			return nil, errors.New("batch reclaim requires a BatchListener")
		}
		m.batch = bl
	}
	return m, nil
}

// Run reclaims on every tick until ctx is cancelled.
func (m *ReclaimManager) Run(ctx context.Context) error {
	m.logger.Info("Starting pending reclaim",
		zap.Duration("interval", m.config.Interval),
		zap.Duration("min_idle", m.config.MinIdle),
		zap.Int64("max_deliveries", m.config.MaxDeliveries))

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Pending reclaim stopped")
			return nil
		case <-ticker.C:
			report, err := m.ReclaimOnce(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				m.logger.Error("Pending reclaim pass failed", zap.Error(err))
				continue
			}
			if report.Pending > 0 {
				m.logger.Info("Pending reclaim pass finished",
					zap.Int("pending", report.Pending),
					zap.Int("claimed", report.Claimed),
					zap.Int("missing", report.Missing),
					zap.Int("dead_lettered", report.DeadLettered),
					zap.Int("reprocessed", report.Reprocessed),
					zap.Int("failed", report.Failed))
			}
		}
	}
}

// ReclaimOnce lists the pending entries, claims the idle ones and either
// force-acknowledges them (delivery ceiling exceeded) or reprocesses and
// acknowledges them after a successful handling.
func (m *ReclaimManager) ReclaimOnce(ctx context.Context) (ReclaimReport, error) {
	var report ReclaimReport
	cfg := m.config

	pending, err := m.transport.Pending(ctx, cfg.Stream, cfg.Group, "-", "+", cfg.MaxFetch)
	if err != nil {
		return report, fmt.Errorf("list pending: %w", err)
	}
	report.Pending = len(pending)

	var batch []StreamMessage
	for _, p := range pending {
		if p.Idle < cfg.MinIdle {
			continue
		}

		claimed, err := m.transport.Claim(ctx, cfg.Stream, cfg.Group, cfg.Consumer, cfg.MinIdle, p.MessageID)
		if err != nil {
			return report, fmt.Errorf("claim %s: %w", p.MessageID, err)
		}
		if claimed == nil {
			// another consumer claimed or acked it first
			continue
		}
		report.Claimed++
		m.count("claimed")

		msg, err := m.transport.RangeByID(ctx, cfg.Stream, p.MessageID)
		if errors.Is(err, ErrMessageNotFound) {
			report.Missing++
			m.count("missing")
			m.logger.Warn("Pending message no longer exists, skipping",
				zap.String("message_id", p.MessageID))
			continue
		}
		if err != nil {
			return report, fmt.Errorf("fetch %s: %w", p.MessageID, err)
		}
		msg.DeliveryCount = claimedDeliveryCount(p, claimed)

		if p.DeliveryCount > cfg.MaxDeliveries {
			if err := m.transport.Ack(ctx, cfg.Stream, cfg.Group, p.MessageID); err != nil {
				return report, fmt.Errorf("force ack %s: %w", p.MessageID, err)
			}
			report.DeadLettered++
			m.count("dead_lettered")
			m.logger.Warn("Delivery limit exceeded, message dropped",
				zap.String("message_id", p.MessageID),
				zap.Int64("delivery_count", p.DeliveryCount),
				zap.String("previous_owner", p.Consumer))
			continue
		}

		if m.batch != nil {
			batch = append(batch, *msg)
			continue
		}
		m.reprocess(ctx, *msg, &report)
	}

	if len(batch) > 0 {
		m.reprocessBatch(ctx, batch, &report)
	}
	return report, nil
}

// claimedDeliveryCount is the delivery count after the claim. Transports that
// do not report it (XCLAIM replies carry no counter) have still incremented it.
func claimedDeliveryCount(p PendingClaim, claimed *StreamMessage) int64 {
	if claimed.DeliveryCount > 0 {
		return claimed.DeliveryCount
	}
	return p.DeliveryCount + 1
}

func (m *ReclaimManager) reprocess(ctx context.Context, msg StreamMessage, report *ReclaimReport) {
	if err := m.listener.OnMessage(ctx, msg); err != nil {
		report.Failed++
		m.count("failed")
		m.logger.Error("Reclaimed message failed again",
			zap.String("message_id", msg.ID),
			zap.Int64("delivery_count", msg.DeliveryCount),
			zap.Error(err))
		return
	}
	if err := m.transport.Ack(ctx, m.config.Stream, m.config.Group, msg.ID); err != nil {
		report.Failed++
		m.count("failed")
		m.logger.Error("Failed to ack reclaimed message", zap.String("message_id", msg.ID), zap.Error(err))
		return
	}
	report.Reprocessed++
	m.count("reprocessed")
}

func (m *ReclaimManager) reprocessBatch(ctx context.Context, msgs []StreamMessage, report *ReclaimReport) {
	if err := m.batch.OnBatch(ctx, msgs); err != nil {
		report.Failed += len(msgs)
		metrics.ReclaimOutcomes.WithLabelValues(m.config.Stream, "failed").Add(float64(len(msgs)))
		m.logger.Error("Reclaimed batch failed again", zap.Int("messages", len(msgs)), zap.Error(err))
		return
	}
	if err := m.transport.Ack(ctx, m.config.Stream, m.config.Group, messageIDs(msgs)...); err != nil {
		report.Failed += len(msgs)
		metrics.ReclaimOutcomes.WithLabelValues(m.config.Stream, "failed").Add(float64(len(msgs)))
		m.logger.Error("Failed to ack reclaimed batch", zap.Int("messages", len(msgs)), zap.Error(err))
		return
	}
	report.Reprocessed += len(msgs)
	metrics.ReclaimOutcomes.WithLabelValues(m.config.Stream, "reprocessed").Add(float64(len(msgs)))
}

func (m *ReclaimManager) count(outcome string) {
	metrics.ReclaimOutcomes.WithLabelValues(m.config.Stream, outcome).Inc()
}
