// Package messaging combines topic publishers.
package messaging

import (
	"context"
	"errors"

	"github.com/Cix-16/opencti/application/ports"
)

// Tee publishes every payload on each publisher in order. All publishers
// are tried; their errors are joined.
type Tee struct {
	publishers []ports.TopicPublisher
}

// NewTee creates a publisher writing to every given publisher
func NewTee(publishers ...ports.TopicPublisher) *Tee {
	return &Tee{publishers: publishers}
}

// Publish implements ports.TopicPublisher
func (t *Tee) Publish(ctx context.Context, topic string, payload []byte) error {
	var errs []error
	for _, p := range t.publishers {
		if err := p.Publish(ctx, topic, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
