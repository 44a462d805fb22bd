package queries

import (
	"github.com/Cix-16/opencti/pkg/common"
	"github.com/Cix-16/opencti/pkg/errors"
)

// FindAllQuery pages through every entity of a type.
type FindAllQuery struct {
	EntityType string
	Args       common.PaginationArgs
}

// Validate validates the FindAllQuery
func (q FindAllQuery) Validate() error {
	if q.EntityType == "" {
		return errors.NewValidationError("entity type is required")
	}
	return nil
}

// FindByIDQuery loads one entity of a type.
type FindByIDQuery struct {
	EntityType string
	ID         string
}

// Validate validates the FindByIDQuery
func (q FindByIDQuery) Validate() error {
	if q.EntityType == "" {
		return errors.NewValidationError("entity type is required")
	}
	if q.ID == "" {
		return errors.NewValidationError("entity id is required")
	}
	return nil
}

// OwnedByQuery resolves the owner of a workspace.
type OwnedByQuery struct {
	WorkspaceID string
}

// Validate validates the OwnedByQuery
func (q OwnedByQuery) Validate() error {
	return requireWorkspace(q.WorkspaceID)
}

// MarkingDefinitionsQuery pages through the markings of a workspace.
type MarkingDefinitionsQuery struct {
	WorkspaceID string
	Args        common.PaginationArgs
}

// Validate validates the MarkingDefinitionsQuery
func (q MarkingDefinitionsQuery) Validate() error {
	return requireWorkspace(q.WorkspaceID)
}

// ObjectRefsQuery pages through the objects aggregated by a workspace.
type ObjectRefsQuery struct {
	WorkspaceID string
	Args        common.PaginationArgs
}

// Validate validates the ObjectRefsQuery
func (q ObjectRefsQuery) Validate() error {
	return requireWorkspace(q.WorkspaceID)
}

// EditContextsQuery lists who is currently editing an entity.
type EditContextsQuery struct {
	EntityType string
	ID         string
}

// Validate validates the EditContextsQuery
func (q EditContextsQuery) Validate() error {
	if q.EntityType == "" {
		return errors.NewValidationError("entity type is required")
	}
	if q.ID == "" {
		return errors.NewValidationError("entity id is required")
	}
	return nil
}

func requireWorkspace(id string) error {
	if id == "" {
		return errors.NewValidationError("workspace id is required")
	}
	return nil
}
