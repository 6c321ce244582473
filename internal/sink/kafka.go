package sink

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
)

// DefaultKafkaTopic is the topic EMF documents are produced to.
const DefaultKafkaTopic = "emf-metrics"

// KafkaSink produces each EMF document as one message, keyed by namespace.
type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaSink creates a producer for the given brokers and topic. Call Close
// when shutting down so buffered messages are written.
func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka sink: at least one broker required")
	}
	if topic == "" {
		topic = DefaultKafkaTopic
	}
	return &KafkaSink{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		BatchTimeout:           50 * time.Millisecond,
		MaxAttempts:            1,
		AllowAutoTopicCreation: true,
	}}, nil
}

// Topic returns the destination topic.
func (s *KafkaSink) Topic() string {
	return s.writer.Topic
}

func (s *KafkaSink) NewLogger() MetricsLogger {
	return newRecorder(s.deliver)
}

func (s *KafkaSink) deliver(ctx context.Context, rec *Record) error {
	doc, err := EncodeEMF(rec)
	if err != nil {
		return err
	}
	// bounded only by ctx; the emitter applies FlushTimeout
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(rec.Namespace),
		Value: doc,
		Time:  rec.Timestamp,
	})
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
