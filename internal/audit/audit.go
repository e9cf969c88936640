// Package audit implements the Audit stage plugin of the Plugin
// Orchestrator (C8): every completed interaction is published as one
// Kafka message, fire-and-forget, so an external audit sink can consume
// it without the request path ever blocking on it (§4.7 step 9).
//
// Grounded on core/backend.Builder's kafkaWriterByTopic field (one
// *kafka.Writer per topic, held for the lifetime of the server) and
// generalized into a single audit-topic writer wired as an Async
// pipeline.Plugin rather than left as an unused field.
package audit

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	kafka "github.com/segmentio/kafka-go"

	"github.com/fhircore/server/internal/logger"
	"github.com/fhircore/server/internal/pipeline"
)

// Event is one audit record published per completed interaction.
type Event struct {
	TenantID     string    `json:"tenant_id"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id,omitempty"`
	Interaction  string    `json:"interaction"`
	At           time.Time `json:"at"`
}

// Publisher writes Events to a Kafka topic.
type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher constructs a Publisher over brokers, one topic.
func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{writer: &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}}
}

// Close releases the underlying Kafka connections.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Plugin builds the StageAudit pipeline.Plugin that publishes one Event
// per interaction. It runs in Async mode, so a publish failure never
// fails the request it is auditing (§4.7's "Audit plugins always run").
func (p *Publisher) Plugin() pipeline.Plugin {
	return pipeline.Plugin{
		Name:  "kafka-audit",
		Stage: pipeline.StageAudit,
		Mode:  pipeline.Async,
		Run: func(ctx context.Context, req *pipeline.Request) error {
			event := Event{
				TenantID:     req.TenantID,
				ResourceType: req.ResourceType,
				ResourceID:   req.ResourceID,
				Interaction:  string(req.Interaction),
				At:           time.Now().UTC(),
			}
			payload, err := json.Marshal(event)
			if err != nil {
				return err
			}
			rlog := logger.ForOperation(logger.FromContext(ctx), req.TenantID, req.ResourceType, string(req.Interaction))
			if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(req.CacheKey()), Value: payload}); err != nil {
				rlog.Warnf("audit publish failed: %v", err)
				return err
			}
			return nil
		},
	}
}
