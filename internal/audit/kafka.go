package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig configures the Kafka audit sink.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	WriteTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes each audit record as one message keyed by dataset ID,
// so the events of a dataset land on one partition in order.
type KafkaSink struct {
	w     messageWriter
	topic string
}

// NewKafkaSink builds a sink over a kafka-go Writer.
func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("audit: at least one kafka broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("audit: kafka topic is required")
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           cfg.BatchTimeout,
		WriteTimeout:           cfg.WriteTimeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return &KafkaSink{w: w, topic: cfg.Topic}, nil
}

func (s *KafkaSink) Write(ctx context.Context, rec Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("audit: marshal %s: %w", rec.Step, err)
	}
	msg := kafka.Message{
		Key:   []byte(rec.DatasetID),
		Value: b,
		Time:  rec.Time,
		Headers: []kafka.Header{
			{Key: "step", Value: []byte(rec.Step)},
			{Key: "run_id", Value: []byte(rec.RunID)},
		},
	}
	if err := s.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("audit: publish to %s: %w", s.topic, err)
	}
	return nil
}

func (s *KafkaSink) Close() error { return s.w.Close() }
