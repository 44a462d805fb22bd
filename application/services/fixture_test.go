package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Cix-16/opencti/domain/config"
	"github.com/Cix-16/opencti/domain/core/entities"
	"github.com/Cix-16/opencti/domain/events"
	"github.com/Cix-16/opencti/infrastructure/persistence/graph"
	memgraph "github.com/Cix-16/opencti/infrastructure/persistence/memory"
	memkv "github.com/Cix-16/opencti/infrastructure/kv/memory"
	"github.com/Cix-16/opencti/pkg/graphdb"
	"github.com/Cix-16/opencti/pkg/utils"
)

type mockPublisher struct {
	mock.Mock
	mu       sync.Mutex
	payloads []*events.Notification
}

func (m *mockPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	args := m.Called(ctx, topic, payload)
	if err := args.Error(0); err != nil {
		return err
	}
	n, err := events.UnmarshalNotification(payload)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.payloads = append(m.payloads, n)
	m.mu.Unlock()
	return nil
}

func (m *mockPublisher) published() []*events.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*events.Notification(nil), m.payloads...)
}

type fixture struct {
	store     *memgraph.GraphStore
	repo      *graph.Repository
	kv        *memkv.TTLStore
	clock     *utils.ManualClock
	publisher *mockPublisher
	bus       *NotificationBus
	contexts  *EditContextCoordinator
	services  *ServiceRegistry
	writes    *int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	writes := 0
	store := memgraph.NewGraphStore(memgraph.WithStatementHook(func(stmt graphdb.Statement) error {
		switch stmt.Op.(type) {
		case graphdb.CreateNodeOp, graphdb.CreateRelationOp, graphdb.DeleteNodeOp, graphdb.DeleteRelationOp, graphdb.SetPropertyOp:
			writes++
		}
		return nil
	}))
	clock := utils.NewManualClock(time.Date(2019, 1, 15, 9, 0, 0, 0, time.UTC))
	registry := config.DefaultSchemaRegistry()
	domainCfg := config.DefaultDomainConfig()
	logger := zap.NewNop()

	repo := graph.NewRepository(store, registry, domainCfg, clock, time.Second, logger)
	kv := memkv.NewTTLStore(clock, 0)
	publisher := &mockPublisher{}
	bus := NewNotificationBus(TopicRegistry(registry.TopicRegistry()), publisher, clock, logger)
	contexts := NewEditContextCoordinator(kv, domainCfg, clock, logger)

	return &fixture{
		store:     store,
		repo:      repo,
		kv:        kv,
		clock:     clock,
		publisher: publisher,
		bus:       bus,
		contexts:  contexts,
		services:  NewServiceRegistry(registry, repo, contexts, bus, domainCfg, nil, logger),
		writes:    &writes,
	}
}

func (f *fixture) service(t *testing.T, entityType string) *DomainService {
	t.Helper()
	s, err := f.services.Get(entityType)
	require.NoError(t, err)
	return s
}

func (f *fixture) workspaces(t *testing.T) *WorkspaceService {
	t.Helper()
	ws, err := NewWorkspaceService(f.service(t, config.TypeWorkspace))
	require.NoError(t, err)
	return ws
}

func (f *fixture) seed(t *testing.T, entityType string, attrs map[string]interface{}) *entities.Entity {
	t.Helper()
	e, err := f.repo.CreateEntity(context.Background(), entityType, attrs)
	require.NoError(t, err)
	return e
}

func (f *fixture) seedUser(t *testing.T, name string) *entities.User {
	t.Helper()
	e := f.seed(t, config.TypeUser, map[string]interface{}{"name": name})
	return &entities.User{ID: e.ID, Name: name}
}

func (f *fixture) seedMarking(t *testing.T, definition string) *entities.Entity {
	t.Helper()
	return f.seed(t, config.TypeMarkingDefinition, map[string]interface{}{
		"name":            definition,
		"definition_type": "TLP",
		"definition":      definition,
	})
}

func (f *fixture) expectPublish(topic string) *mock.Call {
	return f.publisher.On("Publish", mock.Anything, topic, mock.Anything).Return(nil)
}
