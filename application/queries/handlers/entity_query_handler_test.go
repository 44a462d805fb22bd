package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Cix-16/opencti/application/queries"
	"github.com/Cix-16/opencti/application/queries/bus"
	"github.com/Cix-16/opencti/application/services"
	"github.com/Cix-16/opencti/domain/config"
	"github.com/Cix-16/opencti/domain/core/entities"
	memkv "github.com/Cix-16/opencti/infrastructure/kv/memory"
	membus "github.com/Cix-16/opencti/infrastructure/messaging/memory"
	"github.com/Cix-16/opencti/infrastructure/persistence/graph"
	memgraph "github.com/Cix-16/opencti/infrastructure/persistence/memory"
	"github.com/Cix-16/opencti/pkg/common"
	"github.com/Cix-16/opencti/pkg/errors"
	"github.com/Cix-16/opencti/pkg/utils"
)

func TestEntityQueries(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()
	clock := utils.NewManualClock(time.Date(2019, 2, 1, 12, 0, 0, 0, time.UTC))
	registry := config.DefaultSchemaRegistry()
	domainCfg := config.DefaultDomainConfig()

	repo := graph.NewRepository(memgraph.NewGraphStore(), registry, domainCfg, clock, time.Second, logger)
	pubsub := membus.NewPubSub(16, logger)
	defer pubsub.Close()
	notifications := services.NewNotificationBus(services.TopicRegistry(registry.TopicRegistry()), pubsub, clock, logger)
	contexts := services.NewEditContextCoordinator(memkv.NewTTLStore(clock, 0), domainCfg, clock, logger)
	svcs := services.NewServiceRegistry(registry, repo, contexts, notifications, domainCfg, nil, logger)
	wsDomain, err := svcs.Get(config.TypeWorkspace)
	require.NoError(t, err)
	workspaces, err := services.NewWorkspaceService(wsDomain)
	require.NoError(t, err)

	b := bus.NewQueryBus()
	require.NoError(t, NewEntityQueryHandler(svcs, workspaces).Register(b))

	owner, err := repo.CreateEntity(ctx, config.TypeUser, map[string]interface{}{"name": "analyst"})
	require.NoError(t, err)
	user := &entities.User{ID: owner.ID, Name: "analyst"}
	marking, err := repo.CreateEntity(ctx, config.TypeMarkingDefinition, map[string]interface{}{
		"name": "TLP:RED", "definition_type": "TLP", "definition": "TLP:RED",
	})
	require.NoError(t, err)
	ws, err := wsDomain.Add(ctx, user, services.AddEntityInput{Name: "Q1", MarkingIDs: []string{marking.ID}})
	require.NoError(t, err)
	_, err = wsDomain.EditContext(ctx, user, ws.ID, entities.EditInput{FocusOn: "name"})
	require.NoError(t, err)

	t.Run("find all", func(t *testing.T) {
		result, err := b.Ask(ctx, queries.FindAllQuery{EntityType: config.TypeWorkspace})
		require.NoError(t, err)
		conn := result.(*entities.Connection)
		require.Len(t, conn.Edges, 1)
		assert.Equal(t, ws.ID, conn.Edges[0].Node.ID)
	})

	t.Run("find by id", func(t *testing.T) {
		result, err := b.Ask(ctx, queries.FindByIDQuery{EntityType: config.TypeWorkspace, ID: ws.ID})
		require.NoError(t, err)
		assert.Equal(t, "Q1", result.(*entities.Entity).Name)

		_, err = b.Ask(ctx, queries.FindByIDQuery{EntityType: config.TypeMalware, ID: ws.ID})
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("owned by", func(t *testing.T) {
		result, err := b.Ask(ctx, queries.OwnedByQuery{WorkspaceID: ws.ID})
		require.NoError(t, err)
		assert.Equal(t, owner.ID, result.(*entities.Entity).ID)
	})

	t.Run("marking definitions", func(t *testing.T) {
		result, err := b.Ask(ctx, queries.MarkingDefinitionsQuery{WorkspaceID: ws.ID, Args: common.PaginationArgs{}})
		require.NoError(t, err)
		conn := result.(*entities.Connection)
		require.Len(t, conn.Edges, 1)
		assert.Equal(t, marking.ID, conn.Edges[0].Node.ID)
	})

	t.Run("object refs empty", func(t *testing.T) {
		result, err := b.Ask(ctx, queries.ObjectRefsQuery{WorkspaceID: ws.ID})
		require.NoError(t, err)
		assert.Empty(t, result.(*entities.Connection).Edges)
	})

	t.Run("edit contexts", func(t *testing.T) {
		result, err := b.Ask(ctx, queries.EditContextsQuery{EntityType: config.TypeWorkspace, ID: ws.ID})
		require.NoError(t, err)
		contexts := result.([]entities.EditContext)
		require.Len(t, contexts, 1)
		assert.Equal(t, "name", contexts[0].FocusOn)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := b.Ask(ctx, queries.OwnedByQuery{})
		assert.True(t, errors.IsValidation(err))
	})
}
