package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafka.Writer used by KafkaSink.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaOptions configures a KafkaSink.
type KafkaOptions struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// KafkaSink publishes alerts as JSON to a topic, keyed by symbol so one
// symbol's alerts stay ordered within a partition.
type KafkaSink struct {
	writer messageWriter
}

var _ Sink = (*KafkaSink)(nil)

// NewKafkaSink creates a sink writing to opts.Topic.
func NewKafkaSink(opts KafkaOptions) (*KafkaSink, error) {
	if len(opts.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}
	if opts.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	return &KafkaSink{writer: &kafka.Writer{
		Addr:         kafka.TCP(opts.Brokers...),
		Topic:        opts.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: opts.WriteTimeout,
		MaxAttempts:  3,
	}}, nil
}

func (k *KafkaSink) Send(ctx context.Context, a Alert) error {
	v, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(a.Symbol),
		Value: v,
		Time:  time.UnixMilli(a.AtMs),
	})
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
