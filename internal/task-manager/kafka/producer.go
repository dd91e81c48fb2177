package kafka

import (
	"context"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/segmentio/kafka-go"
)

const (
	DefaultEventsTopic = "scheduled_task_events"
)

// ProducerInterface is the subset of *kafka.Writer the task manager uses, so
// tests can substitute a mock.
type ProducerInterface interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaProducer builds a writer for the comma-separated broker list. It
// returns nil when brokers is empty, which disables publishing.
func NewKafkaProducer(brokers, topic string) *kafka.Writer {
	if strings.TrimSpace(brokers) == "" {
		hlog.Infof("Kafka: no brokers configured, event publishing disabled")
		return nil
	}
	if topic == "" {
		topic = DefaultEventsTopic
	}
	producer := &kafka.Writer{
		Addr:         kafka.TCP(strings.Split(brokers, ",")...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: 10 * time.Second,
		Async:        false,
	}
	hlog.Infof("Kafka: task manager producer configured for topic %s", topic)
	return producer
}
