package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Cix-16/opencti/application/commands"
	"github.com/Cix-16/opencti/application/commands/bus"
	"github.com/Cix-16/opencti/application/services"
	"github.com/Cix-16/opencti/domain/config"
	"github.com/Cix-16/opencti/domain/core/entities"
	memkv "github.com/Cix-16/opencti/infrastructure/kv/memory"
	membus "github.com/Cix-16/opencti/infrastructure/messaging/memory"
	"github.com/Cix-16/opencti/infrastructure/persistence/graph"
	memgraph "github.com/Cix-16/opencti/infrastructure/persistence/memory"
	"github.com/Cix-16/opencti/pkg/errors"
	"github.com/Cix-16/opencti/pkg/utils"
)

type harness struct {
	bus  *bus.CommandBus
	repo *graph.Repository
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zap.NewNop()
	clock := utils.NewManualClock(time.Date(2019, 2, 1, 12, 0, 0, 0, time.UTC))
	registry := config.DefaultSchemaRegistry()
	domainCfg := config.DefaultDomainConfig()

	repo := graph.NewRepository(memgraph.NewGraphStore(), registry, domainCfg, clock, time.Second, logger)
	pubsub := membus.NewPubSub(16, logger)
	t.Cleanup(func() { _ = pubsub.Close() })
	notifications := services.NewNotificationBus(services.TopicRegistry(registry.TopicRegistry()), pubsub, clock, logger)
	contexts := services.NewEditContextCoordinator(memkv.NewTTLStore(clock, 0), domainCfg, clock, logger)
	registryServices := services.NewServiceRegistry(registry, repo, contexts, notifications, domainCfg, nil, logger)

	b := bus.NewCommandBus(bus.LoggingMiddleware(logger))
	require.NoError(t, NewEntityCommandHandler(registryServices, logger).Register(b))
	return &harness{bus: b, repo: repo}
}

func (h *harness) user(t *testing.T) *entities.User {
	t.Helper()
	e, err := h.repo.CreateEntity(context.Background(), config.TypeUser, map[string]interface{}{"name": "analyst"})
	require.NoError(t, err)
	return &entities.User{ID: e.ID, Name: "analyst"}
}

func TestEntityCommands_WorkspaceLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.user(t)

	result, err := h.bus.Send(ctx, commands.AddEntityCommand{
		EntityType: config.TypeWorkspace,
		User:       u,
		Input:      services.AddEntityInput{Name: "Threat Report Q1"},
	})
	require.NoError(t, err)
	ws := result.(*entities.Entity)
	assert.Equal(t, config.TypeWorkspace, ws.EntityType)

	result, err = h.bus.Send(ctx, commands.EditFieldCommand{
		EntityType: config.TypeWorkspace,
		User:       u,
		ID:         ws.ID,
		Input:      entities.AttributeEdit{Key: "description", Value: "quarterly"},
	})
	require.NoError(t, err)
	assert.Equal(t, "quarterly", result.(*entities.Entity).Description)

	_, err = h.bus.Send(ctx, commands.EditContextCommand{
		EntityType: config.TypeWorkspace,
		User:       u,
		ID:         ws.ID,
		Input:      entities.EditInput{FocusOn: "name"},
	})
	require.NoError(t, err)

	_, err = h.bus.Send(ctx, commands.CleanContextCommand{EntityType: config.TypeWorkspace, User: u, ID: ws.ID})
	require.NoError(t, err)

	result, err = h.bus.Send(ctx, commands.DeleteEntityCommand{EntityType: config.TypeWorkspace, User: u, ID: ws.ID})
	require.NoError(t, err)
	assert.Equal(t, ws.ID, result)

	_, err = h.repo.GetByID(ctx, ws.ID)
	assert.True(t, errors.IsNotFound(err))
}

func TestEntityCommands_Relations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.user(t)

	created, err := h.bus.Send(ctx, commands.AddEntityCommand{EntityType: config.TypeWorkspace, User: u, Input: services.AddEntityInput{Name: "w"}})
	require.NoError(t, err)
	ws := created.(*entities.Entity)

	var malwareIDs []string
	for _, name := range []string{"Emotet", "TrickBot"} {
		m, err := h.repo.CreateEntity(ctx, config.TypeMalware, map[string]interface{}{"name": name})
		require.NoError(t, err)
		malwareIDs = append(malwareIDs, m.ID)
	}

	_, err = h.bus.Send(ctx, commands.AddRelationsCommand{
		EntityType: config.TypeWorkspace,
		User:       u,
		ID:         ws.ID,
		Input:      services.RelationsAddInput{ToIDs: malwareIDs, Through: "object_refs"},
	})
	require.NoError(t, err)

	third, err := h.repo.CreateEntity(ctx, config.TypeMalware, map[string]interface{}{"name": "Ryuk"})
	require.NoError(t, err)
	result, err := h.bus.Send(ctx, commands.AddRelationCommand{
		EntityType: config.TypeWorkspace,
		User:       u,
		ID:         ws.ID,
		Input:      services.RelationAddInput{ToID: third.ID, Through: "object_refs"},
	})
	require.NoError(t, err)
	rel := result.(*entities.RelationWithNode)

	_, err = h.bus.Send(ctx, commands.DeleteRelationCommand{
		EntityType: config.TypeWorkspace,
		User:       u,
		ID:         ws.ID,
		RelationID: rel.Relation.ID,
	})
	require.NoError(t, err)
}

func TestEntityCommands_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := &entities.User{ID: "u-1"}

	tests := []struct {
		name  string
		cmd   bus.Command
		check func(error) bool
	}{
		{"no user", commands.AddEntityCommand{EntityType: config.TypeWorkspace}, errors.IsUnauthorized},
		{"no type", commands.AddEntityCommand{User: u}, errors.IsValidation},
		{"no id", commands.DeleteEntityCommand{EntityType: config.TypeWorkspace, User: u}, errors.IsValidation},
		{"no relation id", commands.DeleteRelationCommand{EntityType: config.TypeWorkspace, User: u, ID: "w"}, errors.IsValidation},
		{"no through", commands.AddRelationCommand{EntityType: config.TypeWorkspace, User: u, ID: "w", Input: services.RelationAddInput{ToID: "x"}}, errors.IsValidation},
		{"no targets", commands.AddRelationsCommand{EntityType: config.TypeWorkspace, User: u, ID: "w", Input: services.RelationsAddInput{Through: "object_refs"}}, errors.IsValidation},
		{"no key", commands.EditFieldCommand{EntityType: config.TypeWorkspace, User: u, ID: "w"}, errors.IsValidation},
		{"unknown type", commands.DeleteEntityCommand{EntityType: "Spaceship", User: u, ID: "w"}, errors.IsNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.bus.Send(ctx, tt.cmd)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error: %v", err)
		})
	}
}
