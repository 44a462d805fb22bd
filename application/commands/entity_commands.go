package commands

import (
	"github.com/Cix-16/opencti/application/services"
	"github.com/Cix-16/opencti/domain/core/entities"
	"github.com/Cix-16/opencti/pkg/errors"
)

// target identifies the entity a command acts on and who issues it.
type target struct {
	EntityType string
	User       *entities.User
	ID         string
}

func (t target) validate(needID bool) error {
	if t.User == nil || t.User.ID == "" {
		return errors.NewUnauthorizedError("an authenticated user is required")
	}
	if t.EntityType == "" {
		return errors.NewValidationError("entity type is required")
	}
	if needID && t.ID == "" {
		return errors.NewValidationError("entity id is required")
	}
	return nil
}

// AddEntityCommand creates an entity together with its creation relations.
type AddEntityCommand struct {
	EntityType string
	User       *entities.User
	Input      services.AddEntityInput
}

// Validate validates the AddEntityCommand
func (c AddEntityCommand) Validate() error {
	return target{EntityType: c.EntityType, User: c.User}.validate(false)
}

// DeleteEntityCommand removes an entity and its relations.
type DeleteEntityCommand struct {
	EntityType string
	User       *entities.User
	ID         string
}

// Validate validates the DeleteEntityCommand
func (c DeleteEntityCommand) Validate() error {
	return target{c.EntityType, c.User, c.ID}.validate(true)
}

// AddRelationCommand attaches one relation to an entity.
type AddRelationCommand struct {
	EntityType string
	User       *entities.User
	ID         string
	Input      services.RelationAddInput
}

// Validate validates the AddRelationCommand
func (c AddRelationCommand) Validate() error {
	if err := (target{c.EntityType, c.User, c.ID}).validate(true); err != nil {
		return err
	}
	if c.Input.ToID == "" || c.Input.Through == "" {
		return errors.NewValidationError("toId and through are required")
	}
	return nil
}

// AddRelationsCommand attaches several relations of one type in one transaction.
type AddRelationsCommand struct {
	EntityType string
	User       *entities.User
	ID         string
	Input      services.RelationsAddInput
}

// Validate validates the AddRelationsCommand
func (c AddRelationsCommand) Validate() error {
	if err := (target{c.EntityType, c.User, c.ID}).validate(true); err != nil {
		return err
	}
	if len(c.Input.ToIDs) == 0 || c.Input.Through == "" {
		return errors.NewValidationError("toIds and through are required")
	}
	return nil
}

// DeleteRelationCommand removes a relation owned by an entity.
type DeleteRelationCommand struct {
	EntityType string
	User       *entities.User
	ID         string
	RelationID string
}

// Validate validates the DeleteRelationCommand
func (c DeleteRelationCommand) Validate() error {
	if err := (target{c.EntityType, c.User, c.ID}).validate(true); err != nil {
		return err
	}
	if c.RelationID == "" {
		return errors.NewValidationError("relation id is required")
	}
	return nil
}

// EditFieldCommand replaces one attribute of an entity.
type EditFieldCommand struct {
	EntityType string
	User       *entities.User
	ID         string
	Input      entities.AttributeEdit
}

// Validate validates the EditFieldCommand
func (c EditFieldCommand) Validate() error {
	if err := (target{c.EntityType, c.User, c.ID}).validate(true); err != nil {
		return err
	}
	if c.Input.Key == "" {
		return errors.NewValidationError("attribute key is required")
	}
	return nil
}

// EditContextCommand records that the user is editing a field.
type EditContextCommand struct {
	EntityType string
	User       *entities.User
	ID         string
	Input      entities.EditInput
}

// Validate validates the EditContextCommand
func (c EditContextCommand) Validate() error {
	return target{c.EntityType, c.User, c.ID}.validate(true)
}

// CleanContextCommand clears the user's edit context on an entity.
type CleanContextCommand struct {
	EntityType string
	User       *entities.User
	ID         string
}

// Validate validates the CleanContextCommand
func (c CleanContextCommand) Validate() error {
	return target{c.EntityType, c.User, c.ID}.validate(true)
}
