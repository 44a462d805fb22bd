// Package graph implements the entity and relation repository on top of a
// graphdb.Driver.
package graph

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Cix-16/opencti/application/ports"
	"github.com/Cix-16/opencti/domain/config"
	"github.com/Cix-16/opencti/domain/core/entities"
	"github.com/Cix-16/opencti/domain/core/valueobjects"
	"github.com/Cix-16/opencti/pkg/errors"
	"github.com/Cix-16/opencti/pkg/graphdb"
	"github.com/Cix-16/opencti/pkg/utils"
)

// Repository implements ports.EntityRepository
type Repository struct {
	driver    graphdb.Driver
	registry  *config.SchemaRegistry
	domain    *config.DomainConfig
	clock     utils.Clock
	txTimeout time.Duration
	logger    *zap.Logger
}

var _ ports.EntityRepository = (*Repository)(nil)

// NewRepository creates a repository. txTimeout bounds every transaction
// from open to commit; zero disables the bound.
func NewRepository(
	driver graphdb.Driver,
	registry *config.SchemaRegistry,
	domain *config.DomainConfig,
	clock utils.Clock,
	txTimeout time.Duration,
	logger *zap.Logger,
) *Repository {
	if domain == nil {
		domain = config.DefaultDomainConfig()
	}
	if clock == nil {
		clock = utils.SystemClock{}
	}
	return &Repository{
		driver:    driver,
		registry:  registry,
		domain:    domain,
		clock:     clock,
		txTimeout: txTimeout,
		logger:    logger,
	}
}

// ExecuteInTransaction runs fn in one write transaction
func (r *Repository) ExecuteInTransaction(ctx context.Context, fn func(ports.TxScope) error) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tx, err := r.driver.BeginWrite(ctx)
	if err != nil {
		return r.storeError(ctx, "begin", err)
	}

	finished := false
	defer func() {
		if !finished {
			if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
				r.logger.Warn("rollback failed", zap.Error(rbErr))
			}
		}
	}()

	if err := fn(&txScope{repo: r, tx: tx}); err != nil {
		return errors.AsTransaction("execute", err)
	}

	finished = true
	if err := tx.Commit(ctx); err != nil {
		return r.storeError(ctx, "commit", err)
	}
	return nil
}

// CreateEntity inserts a node and returns it as read after commit
func (r *Repository) CreateEntity(ctx context.Context, entityType string, attrs map[string]interface{}) (*entities.Entity, error) {
	var id string
	err := r.ExecuteInTransaction(ctx, func(tx ports.TxScope) error {
		var err error
		id, err = tx.CreateEntity(ctx, entityType, attrs)
		return err
	})
	if err != nil {
		return nil, err
	}

	r.logger.Debug("entity created", zap.String("entity_id", id), zap.String("entity_type", entityType))
	return r.GetByID(ctx, id)
}

// CreateRelation inserts one edge in its own transaction
func (r *Repository) CreateRelation(ctx context.Context, fromID string, spec entities.RelationSpec) (*entities.Relation, error) {
	var rel *entities.Relation
	err := r.ExecuteInTransaction(ctx, func(tx ports.TxScope) error {
		var err error
		rel, err = tx.CreateRelation(ctx, fromID, spec)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rel, nil
}

// CreateRelations inserts every edge in one transaction. Statements run one
// after the other on the same transaction handle.
func (r *Repository) CreateRelations(ctx context.Context, fromID string, specs []entities.RelationSpec) ([]*entities.Relation, error) {
	relations := make([]*entities.Relation, 0, len(specs))
	err := r.ExecuteInTransaction(ctx, func(tx ports.TxScope) error {
		for _, spec := range specs {
			rel, err := tx.CreateRelation(ctx, fromID, spec)
			if err != nil {
				return err
			}
			relations = append(relations, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return relations, nil
}

// DeleteEntity removes a node and its edges
func (r *Repository) DeleteEntity(ctx context.Context, id string) error {
	return r.ExecuteInTransaction(ctx, func(tx ports.TxScope) error {
		res, err := tx.(*txScope).run(ctx, graphdb.DeleteNode(id))
		if err != nil {
			return err
		}
		rec, _ := res.Single()
		if rec.Int64(graphdb.KeyDeleted) == 0 {
			return errors.NewNotFoundError("entity " + id)
		}
		return nil
	})
}

// DeleteRelation removes one edge and returns it
func (r *Repository) DeleteRelation(ctx context.Context, id string) (*entities.Relation, error) {
	var rel *entities.Relation
	err := r.ExecuteInTransaction(ctx, func(tx ports.TxScope) error {
		var err error
		rel, err = tx.DeleteRelation(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rel, nil
}

// UpdateAttribute replaces one attribute and returns the refreshed entity
func (r *Repository) UpdateAttribute(ctx context.Context, id string, edit entities.AttributeEdit) (*entities.Entity, error) {
	if valueobjects.IsSystemAttribute(edit.Key) {
		return nil, errors.NewValidationErrorf("attribute %q cannot be edited", edit.Key)
	}
	stmt, err := graphdb.SetProperty(id, edit.Key, edit.Value, valueobjects.FormatTimestamp(r.clock.Now()))
	if err != nil {
		return nil, errors.NewValidationError(err.Error())
	}

	err = r.ExecuteInTransaction(ctx, func(tx ports.TxScope) error {
		res, err := tx.(*txScope).run(ctx, stmt)
		if err != nil {
			return err
		}
		if res.Len() == 0 {
			return errors.NewNotFoundError("entity " + id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// GetByID reads one entity
func (r *Repository) GetByID(ctx context.Context, id string) (*entities.Entity, error) {
	var props map[string]interface{}
	err := r.read(ctx, func(run graphdb.Runner) error {
		res, err := run.Run(ctx, graphdb.MatchNode(id))
		if err != nil {
			return err
		}
		if rec, ok := res.Single(); ok {
			props = rec.Map(graphdb.KeyNode)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if props == nil {
		return nil, errors.NewNotFoundError("entity " + id)
	}
	return r.toEntity(props)
}

// GetRelation reads one relation
func (r *Repository) GetRelation(ctx context.Context, id string) (*entities.Relation, error) {
	var rec graphdb.Record
	err := r.read(ctx, func(run graphdb.Runner) error {
		res, err := run.Run(ctx, graphdb.MatchRelation(id))
		if err != nil {
			return err
		}
		rec, _ = res.Single()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errors.NewNotFoundError("relation " + id)
	}
	return toRelation(rec)
}

// GetObject returns the first entity of a traversal, or nil
func (r *Repository) GetObject(ctx context.Context, query graphdb.Traversal) (*entities.Entity, error) {
	query.Skip = 0
	query.Limit = 1
	query.WithRelation = false
	stmt, err := graphdb.Traverse(query)
	if err != nil {
		return nil, errors.NewValidationError(err.Error())
	}

	var props map[string]interface{}
	err = r.read(ctx, func(run graphdb.Runner) error {
		res, err := run.Run(ctx, stmt)
		if err != nil {
			return err
		}
		if rec, ok := res.Single(); ok {
			props = rec.Map(graphdb.KeyNode)
		}
		return nil
	})
	if err != nil || props == nil {
		return nil, err
	}
	return r.toEntity(props)
}

func (r *Repository) read(ctx context.Context, fn func(graphdb.Runner) error) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if err := r.driver.ExecuteRead(ctx, fn); err != nil {
		if errors.GetAppError(err) != nil {
			return err
		}
		return r.storeError(ctx, "read", err)
	}
	return nil
}

func (r *Repository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.txTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.txTimeout)
}

// storeError classifies a driver failure as a transaction error.
func (r *Repository) storeError(ctx context.Context, operation string, err error) error {
	txErr := errors.NewTransactionError(operation, err)
	switch {
	case stderrors.Is(err, graphdb.ErrConflict):
		txErr.WithCode(errors.CodeCommitConflict)
	case stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(ctx.Err(), context.DeadlineExceeded):
		txErr.WithCode(errors.CodeTimeout)
	}
	r.logger.Warn("graph store operation failed",
		zap.String("operation", operation),
		zap.String("code", txErr.Code),
		zap.Error(err))
	return txErr
}

func (r *Repository) toEntity(props map[string]interface{}) (*entities.Entity, error) {
	e, err := entities.EntityFromProperties(props)
	if err != nil {
		return nil, errors.NewInternalError("corrupt entity").WithCause(err)
	}
	return e, nil
}

func toRelation(rec graphdb.Record) (*entities.Relation, error) {
	rel, err := entities.RelationFromProperties(
		rec.Map(graphdb.KeyRelation),
		rec.String(graphdb.KeyRelationType),
		rec.String(graphdb.KeyFromID),
		rec.String(graphdb.KeyToID),
	)
	if err != nil {
		return nil, errors.NewInternalError("corrupt relation").WithCause(err)
	}
	return rel, nil
}

// txScope runs statements on an open transaction.
type txScope struct {
	repo *Repository
	tx   graphdb.Tx
}

func (s *txScope) run(ctx context.Context, stmt graphdb.Statement) (*graphdb.Result, error) {
	res, err := s.tx.Run(ctx, stmt)
	if err != nil {
		return nil, s.repo.storeError(ctx, graphdb.OpName(stmt), err)
	}
	return res, nil
}

func (s *txScope) CreateEntity(ctx context.Context, entityType string, attrs map[string]interface{}) (string, error) {
	schema, ok := s.repo.registry.Get(entityType)
	if !ok {
		return "", errors.NewValidationErrorf("unknown entity type %q", entityType)
	}

	props := entities.NewEntityProperties(entityType, attrs, s.repo.clock.Now())
	stmt, err := graphdb.CreateNode(schema.Labels(), props)
	if err != nil {
		return "", errors.NewValidationError(err.Error())
	}

	res, err := s.run(ctx, stmt)
	if err != nil {
		return "", err
	}
	rec, ok := res.Single()
	if !ok {
		return "", errors.NewTransactionError("create_node", fmt.Errorf("no node returned"))
	}
	id, _ := rec.Map(graphdb.KeyNode)["id"].(string)
	if id == "" {
		return "", errors.NewTransactionError("create_node", fmt.Errorf("store assigned no id"))
	}
	return id, nil
}

func (s *txScope) CreateRelation(ctx context.Context, fromID string, spec entities.RelationSpec) (*entities.Relation, error) {
	props := map[string]interface{}{
		"from_role":  spec.FromRole,
		"to_role":    spec.ToRole,
		"created_at": valueobjects.FormatTimestamp(s.repo.clock.Now()),
	}
	stmt, err := graphdb.CreateRelation(fromID, spec.ToID, spec.RelationType, spec.ToTypes, props)
	if err != nil {
		return nil, errors.NewValidationError(err.Error())
	}

	res, err := s.run(ctx, stmt)
	if err != nil {
		return nil, err
	}
	rec, ok := res.Single()
	if !ok {
		return nil, errors.NewNotFoundError(fmt.Sprintf("relation endpoint %s or %s", fromID, spec.ToID)).
			WithDetail("from_id", fromID).
			WithDetail("to_id", spec.ToID)
	}
	return toRelation(rec)
}

func (s *txScope) DeleteRelation(ctx context.Context, id string) (*entities.Relation, error) {
	res, err := s.run(ctx, graphdb.DeleteRelation(id))
	if err != nil {
		return nil, err
	}
	rec, ok := res.Single()
	if !ok {
		return nil, errors.NewNotFoundError("relation " + id)
	}
	return toRelation(rec)
}
