// Package kafka publishes alert lifecycle events for downstream warehouse
// services.
package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Faraz1608/IMOS-sub000/internal/config"
	"github.com/Faraz1608/IMOS-sub000/internal/database"
	"github.com/Faraz1608/IMOS-sub000/internal/hub"
	"github.com/Faraz1608/IMOS-sub000/internal/rules"
)

// Producer publishes alerting events to Kafka. Publishing is best effort;
// a broker outage is logged and never fails the triggering request.
type Producer struct {
	cfg    config.KafkaConfig
	logger *slog.Logger
	writer *kafka.Writer
}

// NewProducer creates a Kafka producer for the configured brokers
func NewProducer(cfg config.KafkaConfig, logger *slog.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: 100 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &Producer{cfg: cfg, logger: logger, writer: writer}
}

// alertEvent is the wire format of alert lifecycle messages
type alertEvent struct {
	Action    string          `json:"action"`
	Alert     *database.Alert `json:"alert"`
	Timestamp time.Time       `json:"timestamp"`
}

// PublishAlertEvent emits a lifecycle event keyed by alert id. Created
// alerts go to the created topic, every transition to the updated topic.
func (p *Producer) PublishAlertEvent(ctx context.Context, action string, alert *database.Alert) {
	topic := p.cfg.Topics.AlertUpdated
	if action == hub.ActionCreated {
		topic = p.cfg.Topics.AlertCreated
	}

	payload, err := json.Marshal(alertEvent{
		Action:    action,
		Alert:     alert,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		p.logger.Error("Failed to marshal alert event", "alertId", alert.ID, "error", err)
		return
	}

	p.write(ctx, topic, []byte(alert.ID), payload)
}

// PublishSweepResult emits a rule sweep summary
func (p *Producer) PublishSweepResult(ctx context.Context, result *rules.SweepResult) {
	payload, err := json.Marshal(result)
	if err != nil {
		p.logger.Error("Failed to marshal sweep result", "error", err)
		return
	}

	p.write(ctx, p.cfg.Topics.SweepCompleted, []byte(result.StartedAt.Format(time.RFC3339)), payload)
}

func (p *Producer) write(ctx context.Context, topic string, key, value []byte) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
	})
	if err != nil {
		p.logger.Error("Failed to publish Kafka message", "topic", topic, "error", err)
		return
	}

	p.logger.Debug("Published Kafka message", "topic", topic)
}

// Close flushes and closes the underlying writer
func (p *Producer) Close() error {
	return p.writer.Close()
}
