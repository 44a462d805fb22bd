// Package memory provides an in-process topic bus.
package memory

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/Cix-16/opencti/application/ports"
)

// ErrClosed is returned after Close
var ErrClosed = errors.New("pubsub closed")

// DefaultQueueSize is the per-subscriber buffer
const DefaultQueueSize = 256

// PubSub fans payloads out to subscribers. Publish enqueues under one mutex
// and every subscriber drains its own FIFO queue on one goroutine, so each
// subscriber sees the payloads of a topic in publish order. A subscriber
// whose queue is full misses the payload.
type PubSub struct {
	mu        sync.Mutex
	topics    map[string]map[*subscriber]struct{}
	queueSize int
	closed    bool
	logger    *zap.Logger
}

type subscriber struct {
	topic   string
	queue   chan []byte
	handler func([]byte)
	done    chan struct{}
	once    sync.Once
}

var (
	_ ports.TopicPublisher  = (*PubSub)(nil)
	_ ports.TopicSubscriber = (*PubSub)(nil)
)

// NewPubSub creates a bus. queueSize <= 0 uses DefaultQueueSize.
func NewPubSub(queueSize int, logger *zap.Logger) *PubSub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PubSub{
		topics:    make(map[string]map[*subscriber]struct{}),
		queueSize: queueSize,
		logger:    logger,
	}
}

// Publish enqueues payload for every current subscriber of topic
func (p *PubSub) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := append([]byte(nil), payload...)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}

	for sub := range p.topics[topic] {
		select {
		case sub.queue <- msg:
		default:
			p.logger.Warn("subscriber queue full, dropping message", zap.String("topic", topic))
		}
	}
	return nil
}

// Subscribe delivers payloads of topic to handler until cancel is called
// or ctx is done.
func (p *PubSub) Subscribe(ctx context.Context, topic string, handler func([]byte)) (func(), error) {
	sub := &subscriber{
		topic:   topic,
		queue:   make(chan []byte, p.queueSize),
		handler: handler,
		done:    make(chan struct{}),
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	if p.topics[topic] == nil {
		p.topics[topic] = make(map[*subscriber]struct{})
	}
	p.topics[topic][sub] = struct{}{}
	p.mu.Unlock()

	go sub.run()

	cancel := func() { p.remove(sub) }
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-sub.done:
		}
	}()
	return cancel, nil
}

// Subscribers returns the number of subscribers of topic
func (p *PubSub) Subscribers(topic string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.topics[topic])
}

// Close removes every subscriber
func (p *PubSub) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for topic, subs := range p.topics {
		for sub := range subs {
			sub.stop()
		}
		delete(p.topics, topic)
	}
	return nil
}

func (p *PubSub) remove(sub *subscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if subs, ok := p.topics[sub.topic]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(p.topics, sub.topic)
		}
	}
	sub.stop()
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscriber) run() {
	for {
		select {
		case msg := <-s.queue:
			s.handler(msg)
		case <-s.done:
			return
		}
	}
}
