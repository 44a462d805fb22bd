package events

import (
	"encoding/json"
	"time"
)

// Event kinds carried by a notification.
const (
	KindAdded   = "added"
	KindEdited  = "edited"
	KindDeleted = "deleted"
	KindContext = "context"
)

// NotificationUser is the actor a notification is addressed to.
type NotificationUser struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Notification is published on an entity-type topic after a committed
// mutation or an edit-context change. Delivery is at most once.
type Notification struct {
	Topic      string            `json:"topic"`
	EntityType string            `json:"entity_type"`
	Kind       string            `json:"kind"`
	Instance   json.RawMessage   `json:"instance"`
	User       *NotificationUser `json:"user,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// NewNotification marshals the instance into a notification.
func NewNotification(topic, entityType, kind string, instance interface{}, user *NotificationUser, at time.Time) (*Notification, error) {
	raw, err := json.Marshal(instance)
	if err != nil {
		return nil, err
	}
	return &Notification{
		Topic:      topic,
		EntityType: entityType,
		Kind:       kind,
		Instance:   raw,
		User:       user,
		Timestamp:  at.UTC(),
	}, nil
}

// GetTopic returns the channel the notification is published on
func (n *Notification) GetTopic() string { return n.Topic }

// GetTimestamp returns when the notification was built
func (n *Notification) GetTimestamp() time.Time { return n.Timestamp }

// Marshal encodes the notification for a transport.
func (n *Notification) Marshal() ([]byte, error) {
	return json.Marshal(n)
}

// UnmarshalNotification decodes a transport payload.
func UnmarshalNotification(payload []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, err
	}
	return &n, nil
}
