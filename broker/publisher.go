package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/c360studio/semstreams/message"
	"github.com/nats-io/nats.go/jetstream"
)

// PublisherConfig names the subject prefixes the two lifecycle events
// are published under. The graph's stored routing value is appended to
// form the final subject, the NATS analogue of an AMQP routing key.
type PublisherConfig struct {
	BlockedSubjectPrefix  string
	FinishedSubjectPrefix string
	Source                string
}

// Publisher implements the event publisher: it serializes outbound
// lifecycle events and sends them on a subject derived from the owning
// graph's routing field. A publish failure is returned to the caller,
// never swallowed, so it can propagate as a handler failure per the
// broker's redelivery contract.
type Publisher struct {
	js  jetstream.JetStream
	cfg PublisherConfig
}

func NewPublisher(js jetstream.JetStream, cfg PublisherConfig) *Publisher {
	if cfg.Source == "" {
		cfg.Source = "task-scheduler"
	}
	return &Publisher{js: js, cfg: cfg}
}

// PublishBlocked emits taskGraphBlocked for graphID, blocked by
// blockingTaskID, on a subject derived from routing.
func (p *Publisher) PublishBlocked(ctx context.Context, graphID, state, blockingTaskID, routing string) error {
	payload := &BlockedPayload{
		Status: GraphStatus{TaskGraphID: graphID, State: state},
		TaskID: blockingTaskID,
	}
	subject := fmt.Sprintf("%s.%s", p.cfg.BlockedSubjectPrefix, routing)
	return p.publish(ctx, subject, payload)
}

// PublishFinished emits taskGraphFinished for graphID on a subject
// derived from routing.
func (p *Publisher) PublishFinished(ctx context.Context, graphID, state, routing string) error {
	payload := &FinishedPayload{
		Status: GraphStatus{TaskGraphID: graphID, State: state},
	}
	subject := fmt.Sprintf("%s.%s", p.cfg.FinishedSubjectPrefix, routing)
	return p.publish(ctx, subject, payload)
}

func (p *Publisher) publish(ctx context.Context, subject string, payload message.Payload) error {
	baseMsg := message.NewBaseMessage(payload.Schema(), payload, p.cfg.Source)
	data, err := json.Marshal(baseMsg)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", subject, err)
	}
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}
