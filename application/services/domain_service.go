package services

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/Cix-16/opencti/application/ports"
	"github.com/Cix-16/opencti/domain/config"
	"github.com/Cix-16/opencti/domain/core/entities"
	"github.com/Cix-16/opencti/domain/core/validators"
	"github.com/Cix-16/opencti/domain/events"
	"github.com/Cix-16/opencti/pkg/common"
	"github.com/Cix-16/opencti/pkg/errors"
	"github.com/Cix-16/opencti/pkg/graphdb"
	"github.com/Cix-16/opencti/pkg/observability"
	"github.com/Cix-16/opencti/pkg/utils"
)

// AddEntityInput creates an entity. The owner relation is attached to the
// calling user when the type declares one.
type AddEntityInput struct {
	Name        string                 `json:"name" validate:"max=500"`
	Description string                 `json:"description"`
	Attributes  map[string]interface{} `json:"attributes,omitempty"`
	MarkingIDs  []string               `json:"markingDefinitions,omitempty" validate:"omitempty,max=100,dive,required"`
}

// RelationAddInput relates an entity to one target
type RelationAddInput struct {
	ToID     string `json:"toId" validate:"required"`
	FromRole string `json:"fromRole,omitempty"`
	ToRole   string `json:"toRole,omitempty"`
	Through  string `json:"through" validate:"required"`
}

// RelationsAddInput relates an entity to several targets at once
type RelationsAddInput struct {
	ToIDs    []string `json:"toIds" validate:"required,min=1,dive,required"`
	FromRole string   `json:"fromRole,omitempty"`
	ToRole   string   `json:"toRole,omitempty"`
	Through  string   `json:"through" validate:"required"`
}

// DomainService exposes the operations of one entity type. Every mutation
// validates before opening a transaction, commits, re-reads the entity and
// then notifies; notification failures are logged, never returned.
type DomainService struct {
	schema    config.EntitySchema
	repo      ports.EntityRepository
	validator *validators.EntityValidator
	contexts  *EditContextCoordinator
	bus       *NotificationBus
	tracer    *observability.Tracer
	logger    *zap.Logger
}

// NewDomainService creates the façade of one entity type. tracer may be nil.
func NewDomainService(
	schema config.EntitySchema,
	repo ports.EntityRepository,
	contexts *EditContextCoordinator,
	bus *NotificationBus,
	domainCfg *config.DomainConfig,
	tracer *observability.Tracer,
	logger *zap.Logger,
) *DomainService {
	return &DomainService{
		schema:    schema,
		repo:      repo,
		validator: validators.NewEntityValidator(schema, domainCfg),
		contexts:  contexts,
		bus:       bus,
		tracer:    tracer,
		logger:    logger.With(zap.String("entity_type", schema.Type)),
	}
}

// EntityType returns the type served
func (s *DomainService) EntityType() string {
	return s.schema.Type
}

// FindAll lists entities of the type
func (s *DomainService) FindAll(ctx context.Context, args common.PaginationArgs) (*entities.Connection, error) {
	return s.repo.Paginate(ctx, graphdb.Traversal{Label: s.schema.Type}, args, false)
}

// FindByID returns one entity. An entity of another type is not found.
func (s *DomainService) FindByID(ctx context.Context, id string) (*entities.Entity, error) {
	if err := validators.ValidateID("id", id); err != nil {
		return nil, err
	}
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.EntityType != s.schema.Type {
		return nil, errors.NewNotFoundError(fmt.Sprintf("%s %s", s.schema.Type, id))
	}
	return e, nil
}

// Add creates the entity, its owner relation and its markings in one
// transaction, then notifies the ADDED topic.
func (s *DomainService) Add(ctx context.Context, user *entities.User, input AddEntityInput) (*entities.Entity, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}

	attrs := make(map[string]interface{}, len(input.Attributes)+2)
	for k, v := range input.Attributes {
		attrs[k] = v
	}
	if input.Name != "" {
		attrs["name"] = input.Name
	}
	if input.Description != "" {
		attrs["description"] = input.Description
	}
	attrs, err := s.validator.ValidateCreate(attrs)
	if err != nil {
		return nil, err
	}
	specs, err := s.creationRelations(user, input.MarkingIDs)
	if err != nil {
		return nil, err
	}

	var created *entities.Entity
	err = s.tracer.Trace(ctx, s.op("add"), func(ctx context.Context) error {
		var id string
		err := s.repo.ExecuteInTransaction(ctx, func(tx ports.TxScope) error {
			var err error
			if id, err = tx.CreateEntity(ctx, s.schema.Type, attrs); err != nil {
				return err
			}
			for _, spec := range specs {
				if _, err := tx.CreateRelation(ctx, id, spec); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		created, err = s.repo.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("entity created",
		zap.String("entity_id", created.ID),
		zap.Int("relations", len(specs)))
	s.sideEffect(s.bus.NotifyAdded(ctx, s.schema.Type, created, user), "notify_added", created.ID)
	return created, nil
}

// Delete removes the entity and its relations and returns its id
func (s *DomainService) Delete(ctx context.Context, user *entities.User, id string) (string, error) {
	if err := validators.ValidateID("id", id); err != nil {
		return "", err
	}
	err := s.tracer.Trace(ctx, s.op("delete"), func(ctx context.Context) error {
		if _, err := s.FindByID(ctx, id); err != nil {
			return err
		}
		return s.repo.DeleteEntity(ctx, id)
	})
	if err != nil {
		return "", err
	}

	s.logger.Info("entity deleted", zap.String("entity_id", id))
	s.sideEffect(s.bus.NotifyEdited(ctx, s.schema.Type, events.KindDeleted, map[string]string{"id": id}, user), "notify_deleted", id)
	return id, nil
}

// AddRelation relates the entity to one target and returns the relation
// with the refreshed entity.
func (s *DomainService) AddRelation(ctx context.Context, user *entities.User, id string, input RelationAddInput) (*entities.RelationWithNode, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	spec, err := s.validator.ValidateRelation(id, input.ToID, input.Through, input.FromRole, input.ToRole)
	if err != nil {
		return nil, err
	}

	var result *entities.RelationWithNode
	err = s.tracer.Trace(ctx, s.op("add_relation"), func(ctx context.Context) error {
		if _, err := s.FindByID(ctx, id); err != nil {
			return err
		}
		rel, err := s.repo.CreateRelation(ctx, id, spec)
		if err != nil {
			return err
		}
		node, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		result = &entities.RelationWithNode{Relation: rel, Node: node}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("relation created",
		zap.String("entity_id", id),
		zap.String("relation_id", result.Relation.ID),
		zap.String("relation_type", spec.RelationType))
	s.notifyEdited(ctx, result.Node, user)
	return result, nil
}

// AddRelations relates the entity to every target in one transaction:
// either all relations exist afterwards or none does.
func (s *DomainService) AddRelations(ctx context.Context, user *entities.User, id string, input RelationsAddInput) (*entities.Entity, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	specs, err := s.validator.ValidateRelations(id, input.ToIDs, input.Through, input.FromRole, input.ToRole)
	if err != nil {
		return nil, err
	}

	var node *entities.Entity
	err = s.tracer.Trace(ctx, s.op("add_relations"), func(ctx context.Context) error {
		if _, err := s.FindByID(ctx, id); err != nil {
			return err
		}
		if _, err := s.repo.CreateRelations(ctx, id, specs); err != nil {
			return err
		}
		var err error
		node, err = s.repo.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("relations created",
		zap.String("entity_id", id),
		zap.Int("count", len(specs)))
	s.notifyEdited(ctx, node, user)
	return node, nil
}

// DeleteRelation removes a relation the entity takes part in
func (s *DomainService) DeleteRelation(ctx context.Context, user *entities.User, id, relationID string) (*entities.RelationWithNode, error) {
	if err := validators.ValidateID("id", id); err != nil {
		return nil, err
	}
	if err := validators.ValidateID("relationId", relationID); err != nil {
		return nil, err
	}

	var result *entities.RelationWithNode
	err := s.tracer.Trace(ctx, s.op("delete_relation"), func(ctx context.Context) error {
		if _, err := s.FindByID(ctx, id); err != nil {
			return err
		}
		var rel *entities.Relation
		err := s.repo.ExecuteInTransaction(ctx, func(tx ports.TxScope) error {
			var err error
			if rel, err = tx.DeleteRelation(ctx, relationID); err != nil {
				return err
			}
			if rel.FromID != id && rel.ToID != id {
				return errors.NewNotFoundError(fmt.Sprintf("relation %s of %s", relationID, id))
			}
			return nil
		})
		if err != nil {
			return err
		}
		node, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		result = &entities.RelationWithNode{Relation: rel, Node: node}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("relation deleted",
		zap.String("entity_id", id),
		zap.String("relation_id", relationID))
	s.notifyEdited(ctx, result.Node, user)
	return result, nil
}

// EditField replaces one attribute
func (s *DomainService) EditField(ctx context.Context, user *entities.User, id string, input entities.AttributeEdit) (*entities.Entity, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if err := s.validator.ValidateEdit(id, input); err != nil {
		return nil, err
	}

	var updated *entities.Entity
	err := s.tracer.Trace(ctx, s.op("edit_field"), func(ctx context.Context) error {
		if _, err := s.FindByID(ctx, id); err != nil {
			return err
		}
		var err error
		updated, err = s.repo.UpdateAttribute(ctx, id, input)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("entity edited",
		zap.String("entity_id", id),
		zap.String("key", input.Key))
	s.notifyEdited(ctx, updated, user)
	return updated, nil
}

// EditContext records that user is editing the entity, then notifies
func (s *DomainService) EditContext(ctx context.Context, user *entities.User, id string, input entities.EditInput) (*entities.Entity, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	node, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errors.NewUnauthorizedError("")
	}

	s.sideEffect(s.contexts.SetEditContext(ctx, user, id, input), "set_edit_context", id)
	s.sideEffect(s.bus.NotifyEdited(ctx, s.schema.Type, events.KindContext, node, user), "notify_context", id)
	return node, nil
}

// CleanContext removes the edit context of user, then notifies
func (s *DomainService) CleanContext(ctx context.Context, user *entities.User, id string) (*entities.Entity, error) {
	node, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errors.NewUnauthorizedError("")
	}

	s.sideEffect(s.contexts.DelEditContext(ctx, user, id), "del_edit_context", id)
	s.sideEffect(s.bus.NotifyEdited(ctx, s.schema.Type, events.KindContext, node, user), "notify_context", id)
	return node, nil
}

// EditContexts returns who is currently editing the entity
func (s *DomainService) EditContexts(ctx context.Context, id string) ([]entities.EditContext, error) {
	return s.contexts.FetchEditContext(ctx, id)
}

// Related lists the entities reached from id through a declared relation,
// with the relation on every edge.
func (s *DomainService) Related(ctx context.Context, id, relationType string, args common.PaginationArgs) (*entities.Connection, error) {
	query, err := s.relatedQuery(id, relationType)
	if err != nil {
		return nil, err
	}
	return s.repo.Paginate(ctx, query, args, true)
}

// RelatedObject returns the first entity reached through a declared
// relation, or nil.
func (s *DomainService) RelatedObject(ctx context.Context, id, relationType string) (*entities.Entity, error) {
	query, err := s.relatedQuery(id, relationType)
	if err != nil {
		return nil, err
	}
	return s.repo.GetObject(ctx, query)
}

func (s *DomainService) relatedQuery(id, relationType string) (graphdb.Traversal, error) {
	if err := validators.ValidateID("id", id); err != nil {
		return graphdb.Traversal{}, err
	}
	rule, ok := s.schema.Relation(relationType)
	if !ok {
		return graphdb.Traversal{}, errors.NewValidationErrorf("relation %q is not declared on %s", relationType, s.schema.Type)
	}

	query := graphdb.Traversal{
		Anchor: &graphdb.Anchor{
			ID:           id,
			RelationType: rule.Type,
			AnchorRole:   rule.FromRole,
			TargetRole:   rule.ToRole,
		},
	}
	if len(rule.TargetTypes) == 1 {
		query.Label = rule.TargetTypes[0]
	}
	return query, nil
}

// creationRelations builds the owner and marking relations of a new entity.
func (s *DomainService) creationRelations(user *entities.User, markingIDs []string) ([]entities.RelationSpec, error) {
	var specs []entities.RelationSpec

	if rule, ok := s.schema.Relation(config.RelationOwnedBy); ok {
		if user == nil || user.ID == "" {
			return nil, errors.NewUnauthorizedError(s.schema.Type + " needs an owner")
		}
		if err := validators.ValidateID("user", user.ID); err != nil {
			return nil, err
		}
		specs = append(specs, specFromRule(rule, user.ID))
	}

	if len(markingIDs) == 0 {
		return specs, nil
	}
	rule, ok := s.schema.Relation(config.RelationObjectMarkingRefs)
	if !ok {
		return nil, errors.NewValidationErrorf("%s does not accept marking definitions", s.schema.Type)
	}
	ids := append([]string(nil), markingIDs...)
	sort.Strings(ids)
	for i, id := range ids {
		if i > 0 && ids[i-1] == id {
			return nil, errors.NewValidationErrorf("duplicate marking definition %q", id)
		}
		if err := validators.ValidateID("markingDefinitions", id); err != nil {
			return nil, err
		}
	}
	for _, id := range markingIDs {
		specs = append(specs, specFromRule(rule, id))
	}
	return specs, nil
}

func (s *DomainService) notifyEdited(ctx context.Context, node *entities.Entity, user *entities.User) {
	s.sideEffect(s.bus.NotifyEdited(ctx, s.schema.Type, events.KindEdited, node, user), "notify_edited", node.ID)
}

func (s *DomainService) sideEffect(err error, operation, entityID string) {
	if err == nil {
		return
	}
	s.logger.Warn("side effect failed after commit",
		zap.String("operation", operation),
		zap.String("entity_id", entityID),
		zap.Error(err))
}

func (s *DomainService) op(name string) string {
	return s.schema.Type + "." + name
}

func specFromRule(rule config.RelationRule, toID string) entities.RelationSpec {
	return entities.RelationSpec{
		ToID:         toID,
		RelationType: rule.Type,
		FromRole:     rule.FromRole,
		ToRole:       rule.ToRole,
		ToTypes:      rule.TargetTypes,
	}
}

// ServiceRegistry holds one DomainService per registered entity type
type ServiceRegistry struct {
	services map[string]*DomainService
}

// NewServiceRegistry builds a façade for every schema of the registry
func NewServiceRegistry(
	registry *config.SchemaRegistry,
	repo ports.EntityRepository,
	contexts *EditContextCoordinator,
	bus *NotificationBus,
	domainCfg *config.DomainConfig,
	tracer *observability.Tracer,
	logger *zap.Logger,
) *ServiceRegistry {
	services := make(map[string]*DomainService)
	for _, t := range registry.Types() {
		schema, _ := registry.Get(t)
		services[t] = NewDomainService(schema, repo, contexts, bus, domainCfg, tracer, logger)
	}
	return &ServiceRegistry{services: services}
}

// Get returns the façade of an entity type
func (r *ServiceRegistry) Get(entityType string) (*DomainService, error) {
	s, ok := r.services[entityType]
	if !ok {
		return nil, errors.NewNotFoundError("entity type " + entityType)
	}
	return s, nil
}
