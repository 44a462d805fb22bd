package ports

import (
	"context"
	"time"

	"github.com/Cix-16/opencti/domain/core/entities"
	"github.com/Cix-16/opencti/pkg/common"
	"github.com/Cix-16/opencti/pkg/graphdb"
)

// EntityRepository owns statement composition and transaction boundaries
// for entities and relations. Writes are committed before they return and
// every returned entity is read back after the commit.
type EntityRepository interface {
	CreateEntity(ctx context.Context, entityType string, attrs map[string]interface{}) (*entities.Entity, error)
	CreateRelation(ctx context.Context, fromID string, spec entities.RelationSpec) (*entities.Relation, error)
	// CreateRelations inserts every relation in one transaction: all or none.
	CreateRelations(ctx context.Context, fromID string, specs []entities.RelationSpec) ([]*entities.Relation, error)
	DeleteEntity(ctx context.Context, id string) error
	DeleteRelation(ctx context.Context, id string) (*entities.Relation, error)
	UpdateAttribute(ctx context.Context, id string, edit entities.AttributeEdit) (*entities.Entity, error)

	GetByID(ctx context.Context, id string) (*entities.Entity, error)
	GetRelation(ctx context.Context, id string) (*entities.Relation, error)
	// GetObject returns the first row of a traversal, or nil.
	GetObject(ctx context.Context, query graphdb.Traversal) (*entities.Entity, error)
	Paginate(ctx context.Context, query graphdb.Traversal, args common.PaginationArgs, isRelationQuery bool) (*entities.Connection, error)

	// ExecuteInTransaction runs fn in one write transaction, committing if fn
	// returns nil and rolling back otherwise.
	ExecuteInTransaction(ctx context.Context, fn func(TxScope) error) error
}

// TxScope is the write surface available inside ExecuteInTransaction.
type TxScope interface {
	CreateEntity(ctx context.Context, entityType string, attrs map[string]interface{}) (string, error)
	CreateRelation(ctx context.Context, fromID string, spec entities.RelationSpec) (*entities.Relation, error)
	DeleteRelation(ctx context.Context, id string) (*entities.Relation, error)
}

// TTLStore is an ephemeral map whose entries expire. Entries are grouped
// by partition so all entries of one partition can be listed.
type TTLStore interface {
	Set(ctx context.Context, partition, key string, value []byte, ttl time.Duration) error
	// Get returns ok=false for missing and expired entries.
	Get(ctx context.Context, partition, key string) (value []byte, ok bool, err error)
	Delete(ctx context.Context, partition, key string) error
	// List returns the unexpired values of a partition.
	List(ctx context.Context, partition string) ([][]byte, error)
}

// TopicPublisher publishes payloads on named topics. Implementations must
// deliver payloads of one topic from one publisher in publish order.
type TopicPublisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// TopicSubscriber delivers payloads published on a topic to handler until
// the returned cancel function is called.
type TopicSubscriber interface {
	Subscribe(ctx context.Context, topic string, handler func([]byte)) (cancel func(), err error)
}

// Metrics records operational metrics
type Metrics interface {
	RecordLatency(ctx context.Context, operation string, duration time.Duration)
	RecordCount(ctx context.Context, metric string, count float64, dimensions map[string]string)
	RecordError(ctx context.Context, operation string, errorType string)
}
