// Package eventbridge publishes topic payloads as EventBridge events. The
// topic becomes the event's detail type, so rules can route per topic.
package eventbridge

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"go.uber.org/zap"

	"github.com/Cix-16/opencti/application/ports"
)

// Source of every published event
const Source = "opencti.notifications"

// EventBridge limits PutEvents to 10 entries
const batchSize = 10

// PutEventsAPI is the subset of the EventBridge client used here
type PutEventsAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// Message is one payload on one topic
type Message struct {
	Topic   string
	Payload []byte
}

// Publisher implements ports.TopicPublisher
type Publisher struct {
	client       PutEventsAPI
	eventBusName string
	logger       *zap.Logger
	now          func() time.Time
}

var _ ports.TopicPublisher = (*Publisher)(nil)

// NewPublisher creates an EventBridge publisher
func NewPublisher(client PutEventsAPI, eventBusName string, logger *zap.Logger) *Publisher {
	return &Publisher{
		client:       client,
		eventBusName: eventBusName,
		logger:       logger,
		now:          time.Now,
	}
}

// Publish sends a single payload
func (p *Publisher) Publish(ctx context.Context, topic string, payload []byte) error {
	return p.PublishBatch(ctx, []Message{{Topic: topic, Payload: payload}})
}

// PublishBatch sends messages in PutEvents calls of at most 10 entries, in
// order. It stops at the first failed call.
func (p *Publisher) PublishBatch(ctx context.Context, messages []Message) error {
	for i := 0; i < len(messages); i += batchSize {
		end := i + batchSize
		if end > len(messages) {
			end = len(messages)
		}
		if err := p.publishBatch(ctx, messages[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) publishBatch(ctx context.Context, messages []Message) error {
	entries := make([]types.PutEventsRequestEntry, 0, len(messages))
	for _, msg := range messages {
		entries = append(entries, types.PutEventsRequestEntry{
			EventBusName: aws.String(p.eventBusName),
			Source:       aws.String(Source),
			DetailType:   aws.String(msg.Topic),
			Detail:       aws.String(string(msg.Payload)),
			Time:         aws.Time(p.now()),
		})
	}

	result, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{Entries: entries})
	if err != nil {
		return fmt.Errorf("failed to publish events to EventBridge: %w", err)
	}

	if result.FailedEntryCount > 0 {
		for i, entry := range result.Entries {
			if entry.ErrorCode != nil && i < len(messages) {
				p.logger.Error("failed to publish event",
					zap.String("topic", messages[i].Topic),
					zap.String("error_code", aws.ToString(entry.ErrorCode)),
					zap.String("error_message", aws.ToString(entry.ErrorMessage)))
			}
		}
		return fmt.Errorf("%d events failed to publish", result.FailedEntryCount)
	}

	p.logger.Debug("events published to EventBridge",
		zap.Int("count", len(entries)),
		zap.String("event_bus", p.eventBusName))
	return nil
}
