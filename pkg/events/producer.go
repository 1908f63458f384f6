// Package events publishes pipeline events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// MessageWriter is the part of kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
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

// Producer publishes resolution and affiliation events. It satisfies both
// matching.Publisher and affiliation.Listener.
type Producer struct {
	writer MessageWriter
	logger ectologger.Logger
	topic  string
	now    func() time.Time
}

// NewProducer creates a producer backed by a kafka.Writer.
func NewProducer(cfg ProducerConfig, logger ectologger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:            compressionCodec(cfg.Compression),
		AllowAutoTopicCreation: true,
	}
	return NewProducerWithWriter(writer, cfg.Topic, logger)
}

// NewProducerWithWriter creates a producer over any message writer.
func NewProducerWithWriter(writer MessageWriter, topic string, logger ectologger.Logger) *Producer {
	return &Producer{
		writer: writer,
		logger: logger,
		topic:  topic,
		now:    time.Now,
	}
}

func compressionCodec(name string) kafka.Compression {
	switch name {
	case "gzip":
		return kafka.Gzip
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	case "none":
		return 0
	default:
		return kafka.Snappy
	}
}

// Close flushes pending messages and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

// PublishResolution emits candidate.resolved keyed by candidate id.
func (p *Producer) PublishResolution(ctx context.Context, family models.Family, candidate models.ExtractionCandidate, res models.Resolution) error {
	ctx, span := tracing.StartSpan(ctx, "events.Producer.PublishResolution")
	defer span.End()

	event := NewCandidateResolved(family, candidate, res, p.now())
	return p.publish(ctx, event.BaseEvent, candidate.ID, event)
}

// AffiliationOpened emits affiliation.opened keyed by entity id.
func (p *Producer) AffiliationOpened(ctx context.Context, family models.Family, rec models.AffiliationRecord) error {
	ctx, span := tracing.StartSpan(ctx, "events.Producer.AffiliationOpened")
	defer span.End()

	event := NewAffiliationEvent(EventTypeAffiliationOpened, family, rec, p.now())
	return p.publish(ctx, event.BaseEvent, rec.EntityID, event)
}

// AffiliationClosed emits affiliation.closed keyed by entity id.
func (p *Producer) AffiliationClosed(ctx context.Context, family models.Family, rec models.AffiliationRecord) error {
	ctx, span := tracing.StartSpan(ctx, "events.Producer.AffiliationClosed")
	defer span.End()

	event := NewAffiliationEvent(EventTypeAffiliationClosed, family, rec, p.now())
	return p.publish(ctx, event.BaseEvent, rec.EntityID, event)
}

func (p *Producer) publish(ctx context.Context, base BaseEvent, key string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", base.EventType, err)
	}

	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(key),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(base.EventType)},
			{Key: "family", Value: []byte(base.Family)},
			{Key: "schema_version", Value: []byte(SchemaVersion)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithField("event_type", base.EventType).Error("Failed to publish event")
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"event_type": base.EventType,
		"family":     base.Family,
		"scope_id":   base.ScopeID,
		"key":        key,
	}).Debug("Published event")
	return nil
}

// Noop drops every event. It stands in when Kafka is disabled.
type Noop struct{}

func (Noop) PublishResolution(context.Context, models.Family, models.ExtractionCandidate, models.Resolution) error {
	return nil
}

func (Noop) AffiliationOpened(context.Context, models.Family, models.AffiliationRecord) error {
	return nil
}

func (Noop) AffiliationClosed(context.Context, models.Family, models.AffiliationRecord) error {
	return nil
}
