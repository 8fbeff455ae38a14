package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/balsam/pkg/tracing"
)

// SchemaVersion is stamped on every message header
const SchemaVersion = "1.0"

// messageWriter is the part of kafka.Writer the producer uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer handles Kafka event emission
type Producer struct {
	writer  messageWriter
	logger  ectologger.Logger
	topic   string
	brokers []string
}

// ProducerConfig holds Kafka producer configuration
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks int
	Compression  string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg ProducerConfig, logger ectologger.Logger) *Producer {
	compression := kafka.Snappy
	switch cfg.Compression {
	case "gzip":
		compression = kafka.Gzip
	case "lz4":
		compression = kafka.Lz4
	case "zstd":
		compression = kafka.Zstd
	case "none":
		compression = 0
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:            compression,
		AllowAutoTopicCreation: true,
	}

	p := newProducer(writer, cfg.Topic, logger)
	p.brokers = cfg.Brokers
	return p
}

func newProducer(writer messageWriter, topic string, logger ectologger.Logger) *Producer {
	return &Producer{
		writer: writer,
		logger: logger,
		topic:  topic,
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// PingContext dials the first reachable broker.
func (p *Producer) PingContext(ctx context.Context) error {
	if len(p.brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}
	var lastErr error
	for _, broker := range p.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		return conn.Close()
	}
	return errors.Wrap(lastErr, "no kafka broker reachable")
}

// JobEvent is a lifecycle or progress event for a reconciliation job
type JobEvent struct {
	EventType string          `json:"event_type"` // job.progress, job.completed, job.failed, job.cancelled, key.status_changed
	JobID     string          `json:"job_id,omitempty"`
	Key       string          `json:"key,omitempty"`
	Sequence  int64           `json:"sequence"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// partitionKey keeps every event of one job, or one reconciliation key, on one partition
func (e *JobEvent) partitionKey() []byte {
	if e.JobID != "" {
		return []byte(e.JobID)
	}
	return []byte(e.Key)
}

// PublishJobEvent publishes a single event to Kafka
func (p *Producer) PublishJobEvent(ctx context.Context, event *JobEvent) error {
	return p.PublishJobEvents(ctx, []*JobEvent{event})
}

// PublishJobEvents publishes multiple events in a batch
func (p *Producer) PublishJobEvents(ctx context.Context, events []*JobEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishJobEvents")
	defer span.End()

	if len(events) == 0 {
		return nil
	}

	messages := make([]kafka.Message, len(events))
	for i, event := range events {
		if event.Timestamp.IsZero() {
			event.Timestamp = time.Now().UTC()
		}

		data, err := json.Marshal(event)
		if err != nil {
			return err
		}

		messages[i] = kafka.Message{
			Topic: p.topic,
			Key:   event.partitionKey(),
			Value: data,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(event.EventType)},
				{Key: "schema_version", Value: []byte(SchemaVersion)},
			},
		}
	}

	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"batch_size": len(events),
		}).Error("Failed to publish job events")
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"batch_size": len(events),
		"event_type": events[0].EventType,
	}).Debug("Published job events")

	return nil
}
