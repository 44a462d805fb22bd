package handlers

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Cix-16/opencti/application/commands"
	"github.com/Cix-16/opencti/application/commands/bus"
	"github.com/Cix-16/opencti/application/services"
	"github.com/Cix-16/opencti/pkg/errors"
)

// EntityCommandHandler routes entity commands to the service of their type.
type EntityCommandHandler struct {
	services *services.ServiceRegistry
	logger   *zap.Logger
}

// NewEntityCommandHandler creates a new entity command handler
func NewEntityCommandHandler(registry *services.ServiceRegistry, logger *zap.Logger) *EntityCommandHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EntityCommandHandler{services: registry, logger: logger}
}

// Register binds every entity command to this handler.
func (h *EntityCommandHandler) Register(b *bus.CommandBus) error {
	for _, cmd := range []bus.Command{
		commands.AddEntityCommand{},
		commands.DeleteEntityCommand{},
		commands.AddRelationCommand{},
		commands.AddRelationsCommand{},
		commands.DeleteRelationCommand{},
		commands.EditFieldCommand{},
		commands.EditContextCommand{},
		commands.CleanContextCommand{},
	} {
		if err := b.Register(cmd, h); err != nil {
			return err
		}
	}
	return nil
}

// Handle implements bus.CommandHandler
func (h *EntityCommandHandler) Handle(ctx context.Context, cmd bus.Command) (interface{}, error) {
	switch c := cmd.(type) {
	case commands.AddEntityCommand:
		svc, err := h.services.Get(c.EntityType)
		if err != nil {
			return nil, err
		}
		return svc.Add(ctx, c.User, c.Input)

	case commands.DeleteEntityCommand:
		svc, err := h.services.Get(c.EntityType)
		if err != nil {
			return nil, err
		}
		return svc.Delete(ctx, c.User, c.ID)

	case commands.AddRelationCommand:
		svc, err := h.services.Get(c.EntityType)
		if err != nil {
			return nil, err
		}
		return svc.AddRelation(ctx, c.User, c.ID, c.Input)

	case commands.AddRelationsCommand:
		svc, err := h.services.Get(c.EntityType)
		if err != nil {
			return nil, err
		}
		return svc.AddRelations(ctx, c.User, c.ID, c.Input)

	case commands.DeleteRelationCommand:
		svc, err := h.services.Get(c.EntityType)
		if err != nil {
			return nil, err
		}
		return svc.DeleteRelation(ctx, c.User, c.ID, c.RelationID)

	case commands.EditFieldCommand:
		svc, err := h.services.Get(c.EntityType)
		if err != nil {
			return nil, err
		}
		return svc.EditField(ctx, c.User, c.ID, c.Input)

	case commands.EditContextCommand:
		svc, err := h.services.Get(c.EntityType)
		if err != nil {
			return nil, err
		}
		return svc.EditContext(ctx, c.User, c.ID, c.Input)

	case commands.CleanContextCommand:
		svc, err := h.services.Get(c.EntityType)
		if err != nil {
			return nil, err
		}
		return svc.CleanContext(ctx, c.User, c.ID)
	}

	return nil, errors.NewInternalError(fmt.Sprintf("unsupported command %T", cmd))
}
