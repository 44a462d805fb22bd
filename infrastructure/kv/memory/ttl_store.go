// Package memory provides an in-process TTL store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Cix-16/opencti/application/ports"
	"github.com/Cix-16/opencti/pkg/utils"
)

// TTLStore keeps entries in a map guarded by a RWMutex. Expired entries are
// invisible to readers immediately and removed by a janitor goroutine.
type TTLStore struct {
	mu         sync.RWMutex
	partitions map[string]map[string]ttlItem
	clock      utils.Clock

	stop     chan struct{}
	stopOnce sync.Once
}

type ttlItem struct {
	value     []byte
	expiresAt time.Time
}

var _ ports.TTLStore = (*TTLStore)(nil)

// NewTTLStore creates a store. A positive janitorInterval starts the
// background cleanup; call Close to stop it.
func NewTTLStore(clock utils.Clock, janitorInterval time.Duration) *TTLStore {
	if clock == nil {
		clock = utils.SystemClock{}
	}
	s := &TTLStore{
		partitions: make(map[string]map[string]ttlItem),
		clock:      clock,
		stop:       make(chan struct{}),
	}
	if janitorInterval > 0 {
		go s.janitor(janitorInterval)
	}
	return s
}

// Set stores value under partition/key until ttl elapses
func (s *TTLStore) Set(ctx context.Context, partition, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.partitions[partition]
	if !ok {
		p = make(map[string]ttlItem)
		s.partitions[partition] = p
	}
	p[key] = ttlItem{
		value:     append([]byte(nil), value...),
		expiresAt: s.clock.Now().Add(ttl),
	}
	return nil
}

// Get returns an unexpired value
func (s *TTLStore) Get(ctx context.Context, partition, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.partitions[partition][key]
	if !ok || !s.clock.Now().Before(item.expiresAt) {
		return nil, false, nil
	}
	return append([]byte(nil), item.value...), true, nil
}

// Delete removes an entry. Deleting a missing entry is not an error.
func (s *TTLStore) Delete(ctx context.Context, partition, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.partitions[partition]; ok {
		delete(p, key)
		if len(p) == 0 {
			delete(s.partitions, partition)
		}
	}
	return nil
}

// List returns the unexpired values of a partition ordered by key
func (s *TTLStore) List(ctx context.Context, partition string) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := s.partitions[partition]
	keys := make([]string, 0, len(p))
	now := s.clock.Now()
	for k, item := range p {
		if now.Before(item.expiresAt) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	values := make([][]byte, 0, len(keys))
	for _, k := range keys {
		values = append(values, append([]byte(nil), p[k].value...))
	}
	return values, nil
}

// Len returns the number of stored entries, expired ones included
func (s *TTLStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, p := range s.partitions {
		n += len(p)
	}
	return n
}

// Sweep removes expired entries
func (s *TTLStore) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	for name, p := range s.partitions {
		for k, item := range p {
			if !now.Before(item.expiresAt) {
				delete(p, k)
			}
		}
		if len(p) == 0 {
			delete(s.partitions, name)
		}
	}
}

// Close stops the janitor
func (s *TTLStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

func (s *TTLStore) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.stop:
			return
		}
	}
}
