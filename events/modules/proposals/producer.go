package proposals

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/futarchia/futarch-backend/model"
)

// Producer publishes proposal lifecycle events to Kafka.
type Producer struct {
	Writer *kafka.Writer
}

// NewProducer initializes a Kafka writer for the lifecycle topic.
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		Writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

// ProposalLifecycle sends one lifecycle event keyed by proposal ref, so all
// events for a proposal land on the same partition in order.
func (p *Producer) ProposalLifecycle(ctx context.Context, kind string, proposal *model.Proposal) error {
	event := ProposalLifecycleEvent{
		EventType:     "proposal." + kind,
		EventID:       uuid.New().String(),
		EventTime:     time.Now().UTC(),
		SchemaVersion: "v1",
		Proposal:      *proposal,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return p.Writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(proposal.Ref),
		Value: payload,
	})
}

// Close cleans up the Kafka writer.
func (p *Producer) Close() error {
	return p.Writer.Close()
}
