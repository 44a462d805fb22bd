package handlers

import (
	"context"
	"fmt"

	"github.com/Cix-16/opencti/application/queries"
	"github.com/Cix-16/opencti/application/queries/bus"
	"github.com/Cix-16/opencti/application/services"
	"github.com/Cix-16/opencti/pkg/errors"
)

// EntityQueryHandler answers entity and workspace reads.
type EntityQueryHandler struct {
	services   *services.ServiceRegistry
	workspaces *services.WorkspaceService
}

// NewEntityQueryHandler creates a new entity query handler
func NewEntityQueryHandler(registry *services.ServiceRegistry, workspaces *services.WorkspaceService) *EntityQueryHandler {
	return &EntityQueryHandler{services: registry, workspaces: workspaces}
}

// Register binds every entity query to this handler.
func (h *EntityQueryHandler) Register(b *bus.QueryBus) error {
	for _, q := range []bus.Query{
		queries.FindAllQuery{},
		queries.FindByIDQuery{},
		queries.OwnedByQuery{},
		queries.MarkingDefinitionsQuery{},
		queries.ObjectRefsQuery{},
		queries.EditContextsQuery{},
	} {
		if err := b.Register(q, h); err != nil {
			return err
		}
	}
	return nil
}

// Handle implements bus.QueryHandler
func (h *EntityQueryHandler) Handle(ctx context.Context, query bus.Query) (interface{}, error) {
	switch q := query.(type) {
	case queries.FindAllQuery:
		svc, err := h.services.Get(q.EntityType)
		if err != nil {
			return nil, err
		}
		return svc.FindAll(ctx, q.Args)

	case queries.FindByIDQuery:
		svc, err := h.services.Get(q.EntityType)
		if err != nil {
			return nil, err
		}
		return svc.FindByID(ctx, q.ID)

	case queries.EditContextsQuery:
		svc, err := h.services.Get(q.EntityType)
		if err != nil {
			return nil, err
		}
		return svc.EditContexts(ctx, q.ID)

	case queries.OwnedByQuery:
		return h.workspaces.OwnedBy(ctx, q.WorkspaceID)

	case queries.MarkingDefinitionsQuery:
		return h.workspaces.MarkingDefinitions(ctx, q.WorkspaceID, q.Args)

	case queries.ObjectRefsQuery:
		return h.workspaces.ObjectRefs(ctx, q.WorkspaceID, q.Args)
	}

	return nil, errors.NewInternalError(fmt.Sprintf("unsupported query %T", query))
}
