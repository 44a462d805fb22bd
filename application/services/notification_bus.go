package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/Cix-16/opencti/application/ports"
	"github.com/Cix-16/opencti/domain/config"
	"github.com/Cix-16/opencti/domain/core/entities"
	"github.com/Cix-16/opencti/domain/events"
	"github.com/Cix-16/opencti/pkg/errors"
	"github.com/Cix-16/opencti/pkg/utils"
)

// TopicRegistry maps an entity type to its notification topics.
type TopicRegistry map[string]config.Topics

type topicRef struct {
	entityType string
	kind       string
}

// NotificationBus publishes change notifications through a TopicPublisher.
// Topics are resolved through the registry it is built with.
type NotificationBus struct {
	topics    TopicRegistry
	byTopic   map[string]topicRef
	publisher ports.TopicPublisher
	metrics   ports.Metrics
	clock     utils.Clock
	logger    *zap.Logger
}

// NewNotificationBus creates a bus over an explicit topic registry
func NewNotificationBus(topics TopicRegistry, publisher ports.TopicPublisher, clock utils.Clock, logger *zap.Logger) *NotificationBus {
	if clock == nil {
		clock = utils.SystemClock{}
	}
	byTopic := make(map[string]topicRef, 2*len(topics))
	for entityType, t := range topics {
		byTopic[t.Added] = topicRef{entityType: entityType, kind: events.KindAdded}
		byTopic[t.Edit] = topicRef{entityType: entityType, kind: events.KindEdited}
	}
	return &NotificationBus{
		topics:    topics,
		byTopic:   byTopic,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
	}
}

// WithMetrics counts published notifications per topic
func (b *NotificationBus) WithMetrics(metrics ports.Metrics) *NotificationBus {
	b.metrics = metrics
	return b
}

// Topics returns the topics of an entity type
func (b *NotificationBus) Topics(entityType string) (config.Topics, error) {
	t, ok := b.topics[entityType]
	if !ok {
		return config.Topics{}, errors.NewValidationErrorf("no topics registered for %q", entityType)
	}
	return t, nil
}

// Notify publishes instance on topic, addressed to user. Publish failures
// are returned as side-effect errors.
func (b *NotificationBus) Notify(ctx context.Context, topic string, instance interface{}, user *entities.User) error {
	ref := b.byTopic[topic]
	return b.publish(ctx, topic, ref.entityType, ref.kind, instance, user)
}

// NotifyAdded publishes on the ADDED topic of entityType
func (b *NotificationBus) NotifyAdded(ctx context.Context, entityType string, instance interface{}, user *entities.User) error {
	t, err := b.Topics(entityType)
	if err != nil {
		return err
	}
	return b.publish(ctx, t.Added, entityType, events.KindAdded, instance, user)
}

// NotifyEdited publishes on the EDIT topic of entityType. kind tells
// subscribers what changed: edited, deleted or context.
func (b *NotificationBus) NotifyEdited(ctx context.Context, entityType, kind string, instance interface{}, user *entities.User) error {
	t, err := b.Topics(entityType)
	if err != nil {
		return err
	}
	return b.publish(ctx, t.Edit, entityType, kind, instance, user)
}

func (b *NotificationBus) publish(ctx context.Context, topic, entityType, kind string, instance interface{}, user *entities.User) error {
	var actor *events.NotificationUser
	if user != nil {
		actor = &events.NotificationUser{ID: user.ID, Name: user.Name, Email: user.Email}
	}

	n, err := events.NewNotification(topic, entityType, kind, instance, actor, b.clock.Now())
	if err != nil {
		return errors.NewSideEffectError("notify", err)
	}
	payload, err := n.Marshal()
	if err != nil {
		return errors.NewSideEffectError("notify", err)
	}

	if err := b.publisher.Publish(ctx, topic, payload); err != nil {
		return errors.NewSideEffectError("notify", err).WithDetail("topic", topic)
	}

	if b.metrics != nil {
		b.metrics.RecordCount(ctx, "NotificationsPublished", 1, map[string]string{"Topic": topic})
	}
	b.logger.Debug("notification published",
		zap.String("topic", topic),
		zap.String("kind", kind))
	return nil
}
