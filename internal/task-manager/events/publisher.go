// Package events publishes ScheduledTask status changes to Kafka.
package events

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/segmentio/kafka-go"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	taskDB "automation-engine-service/internal/task-manager/db"
	taskKafka "automation-engine-service/internal/task-manager/kafka"
)

// StatusChange describes one transition of a ScheduledTask.
type StatusChange struct {
	ScheduledTaskID uint
	RecordID        uint
	ScriptID        string
	From            taskDB.Status
	To              taskDB.Status
	RunType         taskDB.RunType
	Reason          string
	At              time.Time
}

// Publisher emits status changes. Implementations must not block callers for
// long and must never fail the transition that produced the event.
type Publisher interface {
	Publish(ctx context.Context, change StatusChange)
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, StatusChange) {}

// KafkaPublisher writes each change as a protobuf-encoded Struct keyed by the
// ScheduledTask id, so all events of one entry land on one partition.
type KafkaPublisher struct {
	Producer     taskKafka.ProducerInterface
	WriteTimeout time.Duration
}

func NewKafkaPublisher(producer taskKafka.ProducerInterface) *KafkaPublisher {
	return &KafkaPublisher{Producer: producer, WriteTimeout: 5 * time.Second}
}

// Encode builds the wire payload for a change.
func Encode(change StatusChange) ([]byte, error) {
	payload, err := structpb.NewStruct(map[string]interface{}{
		"scheduled_task_id": uint64(change.ScheduledTaskID),
		"record_id":         uint64(change.RecordID),
		"script_id":         change.ScriptID,
		"from":              string(change.From),
		"to":                string(change.To),
		"run_type":          string(change.RunType),
		"reason":            change.Reason,
		"at":                change.At.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build event payload: %w", err)
	}
	return proto.Marshal(payload)
}

func (p *KafkaPublisher) Publish(ctx context.Context, change StatusChange) {
	payloadBytes, err := Encode(change)
	if err != nil {
		hlog.Errorf("Events: error marshalling status change for scheduled task %d: %v", change.ScheduledTaskID, err)
		return
	}
	msg := kafka.Message{
		Key:   []byte(strconv.FormatUint(uint64(change.ScheduledTaskID), 10)),
		Value: payloadBytes,
	}

	writeCtx, cancel := context.WithTimeout(ctx, p.WriteTimeout)
	defer cancel()
	if err := p.Producer.WriteMessages(writeCtx, msg); err != nil {
		hlog.Warnf("Events: failed to publish %s->%s for scheduled task %d: %v", change.From, change.To, change.ScheduledTaskID, err)
		return
	}
	hlog.Debugf("Events: published %s->%s for scheduled task %d", change.From, change.To, change.ScheduledTaskID)
}
