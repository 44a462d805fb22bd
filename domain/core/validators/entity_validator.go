package validators

import (
	"fmt"
	"strings"

	"github.com/Cix-16/opencti/domain/config"
	"github.com/Cix-16/opencti/domain/core/entities"
	"github.com/Cix-16/opencti/domain/core/valueobjects"
	"github.com/Cix-16/opencti/pkg/errors"
)

// EntityValidator checks mutation inputs against an entity-type schema.
// Every check here runs before a transaction is opened.
type EntityValidator struct {
	schema config.EntitySchema
	cfg    *config.DomainConfig
}

// NewEntityValidator creates a validator for one entity type
func NewEntityValidator(schema config.EntitySchema, cfg *config.DomainConfig) *EntityValidator {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	return &EntityValidator{schema: schema, cfg: cfg}
}

// ValidateCreate validates the attributes of a new entity and returns the
// normalized copy.
func (v *EntityValidator) ValidateCreate(attrs map[string]interface{}) (map[string]interface{}, error) {
	normalized, err := valueobjects.NormalizeAttributes(attrs, v.cfg)
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, field := range v.schema.RequiredFields {
		value, ok := normalized[field]
		if !ok || value == nil {
			missing = append(missing, field)
			continue
		}
		if s, isString := value.(string); isString && strings.TrimSpace(s) == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return nil, errors.NewValidationError(fmt.Sprintf("%s requires %s", v.schema.Type, strings.Join(missing, ", "))).
			WithDetail("missing_fields", missing)
	}
	return normalized, nil
}

// ValidateEdit validates a single attribute replacement.
func (v *EntityValidator) ValidateEdit(id string, edit entities.AttributeEdit) error {
	if err := validateID("id", id); err != nil {
		return err
	}
	if valueobjects.IsSystemAttribute(edit.Key) {
		return errors.NewValidationErrorf("attribute %q cannot be edited", edit.Key)
	}
	if err := valueobjects.ValidateAttributeKey(edit.Key); err != nil {
		return err
	}
	if err := valueobjects.ValidateAttributeValue(edit.Key, edit.Value, v.cfg); err != nil {
		return err
	}
	for _, field := range v.schema.RequiredFields {
		if field != edit.Key {
			continue
		}
		if s, ok := edit.Value.(string); edit.Value == nil || (ok && strings.TrimSpace(s) == "") {
			return errors.NewValidationErrorf("%s is required on %s", edit.Key, v.schema.Type)
		}
	}
	return nil
}

// ValidateRelation resolves a relation request into a spec with the
// declared roles and target types.
func (v *EntityValidator) ValidateRelation(fromID, toID, relationType, fromRole, toRole string) (entities.RelationSpec, error) {
	if err := validateID("id", fromID); err != nil {
		return entities.RelationSpec{}, err
	}
	if err := validateID("toId", toID); err != nil {
		return entities.RelationSpec{}, err
	}
	if fromID == toID && !v.cfg.AllowSelfRelations {
		return entities.RelationSpec{}, errors.NewValidationError("an entity cannot be related to itself")
	}
	rule, err := v.schema.Allows(relationType, fromRole, toRole)
	if err != nil {
		return entities.RelationSpec{}, errors.NewValidationError(err.Error())
	}
	return entities.RelationSpec{
		ToID:         toID,
		RelationType: rule.Type,
		FromRole:     rule.FromRole,
		ToRole:       rule.ToRole,
		ToTypes:      rule.TargetTypes,
	}, nil
}

// ValidateRelations resolves a batch of relations sharing type and roles.
func (v *EntityValidator) ValidateRelations(fromID string, toIDs []string, relationType, fromRole, toRole string) ([]entities.RelationSpec, error) {
	if len(toIDs) == 0 {
		return nil, errors.NewValidationError("toIds cannot be empty")
	}
	if len(toIDs) > v.cfg.MaxRelationsPerBatch {
		return nil, errors.NewValidationErrorf("too many relations: maximum %d per batch", v.cfg.MaxRelationsPerBatch)
	}

	seen := make(map[string]struct{}, len(toIDs))
	specs := make([]entities.RelationSpec, 0, len(toIDs))
	for _, toID := range toIDs {
		if _, dup := seen[toID]; dup {
			return nil, errors.NewValidationErrorf("duplicate target id %q", toID)
		}
		seen[toID] = struct{}{}

		spec, err := v.ValidateRelation(fromID, toID, relationType, fromRole, toRole)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// ValidateID checks an id argument.
func ValidateID(field, id string) error {
	return validateID(field, id)
}

func validateID(field, id string) error {
	if err := valueobjects.ValidateID(id); err != nil {
		return errors.NewValidationErrorf("%s: %s", field, err.Error())
	}
	return nil
}
