package services

import (
	"context"
	"fmt"

	"github.com/Cix-16/opencti/domain/config"
	"github.com/Cix-16/opencti/domain/core/entities"
	"github.com/Cix-16/opencti/pkg/common"
)

// WorkspaceService adds the workspace relation helpers to the generic
// façade.
type WorkspaceService struct {
	*DomainService
}

// NewWorkspaceService wraps the façade of the Workspace type
func NewWorkspaceService(domain *DomainService) (*WorkspaceService, error) {
	if domain.EntityType() != config.TypeWorkspace {
		return nil, fmt.Errorf("workspace service needs the %s façade, got %s", config.TypeWorkspace, domain.EntityType())
	}
	return &WorkspaceService{DomainService: domain}, nil
}

// OwnedBy returns the owner of the workspace, or nil
func (s *WorkspaceService) OwnedBy(ctx context.Context, workspaceID string) (*entities.Entity, error) {
	return s.RelatedObject(ctx, workspaceID, config.RelationOwnedBy)
}

// MarkingDefinitions lists the markings of the workspace
func (s *WorkspaceService) MarkingDefinitions(ctx context.Context, workspaceID string, args common.PaginationArgs) (*entities.Connection, error) {
	return s.Related(ctx, workspaceID, config.RelationObjectMarkingRefs, args)
}

// ObjectRefs lists the knowledge entities gathered in the workspace
func (s *WorkspaceService) ObjectRefs(ctx context.Context, workspaceID string, args common.PaginationArgs) (*entities.Connection, error) {
	return s.Related(ctx, workspaceID, config.RelationObjectRefs, args)
}
