package graphdb

import (
	"fmt"
	"strings"
)

// Keys of the records returned by the built statements.
const (
	KeyNode         = "node"
	KeyRelation     = "rel"
	KeyRelationType = "rel_type"
	KeyFromID       = "from_id"
	KeyToID         = "to_id"
	KeyTotal        = "total"
	KeyDeleted      = "deleted"
)

// BaseLabel is carried by every node so lookups by id hit one index.
const BaseLabel = "Entity"

// Statement is a parametrized query. Cypher holds only fixed text and
// quoted identifiers; every value travels in Params. Op describes the same
// statement structurally for stores that do not speak Cypher.
type Statement struct {
	Op     Op
	Cypher string
	Params map[string]interface{}
}

// Op is the structural form of a statement.
type Op interface {
	opName() string
}

// CreateNodeOp inserts one node.
type CreateNodeOp struct {
	Labels []string
	Props  map[string]interface{}
}

// CreateRelationOp inserts one edge between existing nodes. When ToLabels is
// set the target must carry at least one of them.
type CreateRelationOp struct {
	FromID   string
	ToID     string
	Type     string
	ToLabels []string
	Props    map[string]interface{}
}

// DeleteNodeOp removes a node with its edges.
type DeleteNodeOp struct{ ID string }

// DeleteRelationOp removes one edge.
type DeleteRelationOp struct{ ID string }

// SetPropertyOp replaces one property and bumps updated_at.
type SetPropertyOp struct {
	ID        string
	Key       string
	Value     interface{}
	UpdatedAt string
}

// MatchNodeOp reads one node by id.
type MatchNodeOp struct{ ID string }

// MatchRelationOp reads one edge by id.
type MatchRelationOp struct{ ID string }

// TraverseOp reads a page of a traversal.
type TraverseOp struct{ Traversal Traversal }

// CountOp counts the rows of a traversal.
type CountOp struct{ Traversal Traversal }

// SchemaOp creates an index or constraint.
type SchemaOp struct{ Name string }

func (CreateNodeOp) opName() string     { return "create_node" }
func (CreateRelationOp) opName() string { return "create_relation" }
func (DeleteNodeOp) opName() string     { return "delete_node" }
func (DeleteRelationOp) opName() string { return "delete_relation" }
func (SetPropertyOp) opName() string    { return "set_property" }
func (MatchNodeOp) opName() string      { return "match_node" }
func (MatchRelationOp) opName() string  { return "match_relation" }
func (TraverseOp) opName() string       { return "traverse" }
func (CountOp) opName() string          { return "count" }
func (SchemaOp) opName() string         { return "schema" }

// OpName names the operation of a statement, for logs and metrics.
func OpName(stmt Statement) string {
	if stmt.Op == nil {
		return "unknown"
	}
	return stmt.Op.opName()
}

const relationProjection = "properties(r) AS rel, type(r) AS rel_type, startNode(r).id AS from_id, endNode(r).id AS to_id"

var baseLabel = "`" + BaseLabel + "`"

// CreateNode builds the insert of a node. The store assigns the id.
func CreateNode(labels []string, props map[string]interface{}) (Statement, error) {
	all := withBaseLabel(labels)
	quoted, err := quoteLabels(all)
	if err != nil {
		return Statement{}, err
	}
	if err := validateKeys(props); err != nil {
		return Statement{}, err
	}
	if _, ok := props["id"]; ok {
		return Statement{}, fmt.Errorf("node id is assigned by the store")
	}

	return Statement{
		Op:     CreateNodeOp{Labels: all, Props: props},
		Cypher: "CREATE (n" + quoted + ") SET n = $props, n.id = randomUUID() RETURN properties(n) AS node",
		Params: map[string]interface{}{"props": props},
	}, nil
}

// CreateRelation builds the insert of an edge. No row is returned when an
// endpoint does not exist or the target has none of toLabels.
func CreateRelation(fromID, toID, relationType string, toLabels []string, props map[string]interface{}) (Statement, error) {
	relType, err := QuoteIdentifier("relationship type", relationType)
	if err != nil {
		return Statement{}, err
	}
	if err := validateKeys(props); err != nil {
		return Statement{}, err
	}
	for _, l := range toLabels {
		if _, err := QuoteIdentifier("label", l); err != nil {
			return Statement{}, err
		}
	}

	params := map[string]interface{}{
		"from_id": fromID,
		"to_id":   toID,
		"props":   props,
	}

	var sb strings.Builder
	sb.WriteString("MATCH (a:" + baseLabel + " {id: $from_id}), (b:" + baseLabel + " {id: $to_id})")
	if len(toLabels) > 0 {
		sb.WriteString(" WHERE any(l IN labels(b) WHERE l IN $to_labels)")
		params["to_labels"] = toLabels
	}
	sb.WriteString(" CREATE (a)-[r:" + relType + "]->(b)")
	sb.WriteString(" SET r = $props, r.id = randomUUID()")
	sb.WriteString(" RETURN properties(r) AS rel, type(r) AS rel_type, a.id AS from_id, b.id AS to_id")

	return Statement{
		Op:     CreateRelationOp{FromID: fromID, ToID: toID, Type: relationType, ToLabels: toLabels, Props: props},
		Cypher: sb.String(),
		Params: params,
	}, nil
}

// DeleteNode builds the removal of a node and its edges. The single
// returned row counts the deleted nodes.
func DeleteNode(id string) Statement {
	return Statement{
		Op:     DeleteNodeOp{ID: id},
		Cypher: "MATCH (n:" + baseLabel + " {id: $id}) DETACH DELETE n RETURN count(*) AS deleted",
		Params: map[string]interface{}{"id": id},
	}
}

// DeleteRelation builds the removal of one edge, returning it.
func DeleteRelation(id string) Statement {
	return Statement{
		Op: DeleteRelationOp{ID: id},
		Cypher: "MATCH (a:" + baseLabel + ")-[r {id: $id}]->(b:" + baseLabel + ")" +
			" WITH a, b, r, properties(r) AS rel, type(r) AS rel_type" +
			" DELETE r" +
			" RETURN rel, rel_type, a.id AS from_id, b.id AS to_id",
		Params: map[string]interface{}{"id": id},
	}
}

// SetProperty builds a single property replacement.
func SetProperty(id, key string, value interface{}, updatedAt string) (Statement, error) {
	quoted, err := QuoteIdentifier("property", key)
	if err != nil {
		return Statement{}, err
	}
	if key == "id" {
		return Statement{}, fmt.Errorf("node id is immutable")
	}
	return Statement{
		Op:     SetPropertyOp{ID: id, Key: key, Value: value, UpdatedAt: updatedAt},
		Cypher: "MATCH (n:" + baseLabel + " {id: $id}) SET n." + quoted + " = $value, n.updated_at = $updated_at RETURN properties(n) AS node",
		Params: map[string]interface{}{"id": id, "value": value, "updated_at": updatedAt},
	}, nil
}

// MatchNode builds a read of one node.
func MatchNode(id string) Statement {
	return Statement{
		Op:     MatchNodeOp{ID: id},
		Cypher: "MATCH (n:" + baseLabel + " {id: $id}) RETURN properties(n) AS node",
		Params: map[string]interface{}{"id": id},
	}
}

// MatchRelation builds a read of one edge.
func MatchRelation(id string) Statement {
	return Statement{
		Op: MatchRelationOp{ID: id},
		Cypher: "MATCH (a:" + baseLabel + ")-[r {id: $id}]->(b:" + baseLabel + ")" +
			" RETURN properties(r) AS rel, type(r) AS rel_type, a.id AS from_id, b.id AS to_id",
		Params: map[string]interface{}{"id": id},
	}
}

// UniqueConstraint builds an idempotent uniqueness constraint on a label.
func UniqueConstraint(name, label, key string) (Statement, error) {
	n, err := QuoteIdentifier("constraint name", name)
	if err != nil {
		return Statement{}, err
	}
	l, err := QuoteIdentifier("label", label)
	if err != nil {
		return Statement{}, err
	}
	k, err := QuoteIdentifier("property", key)
	if err != nil {
		return Statement{}, err
	}
	return Statement{
		Op:     SchemaOp{Name: name},
		Cypher: "CREATE CONSTRAINT " + n + " IF NOT EXISTS FOR (n:" + l + ") REQUIRE n." + k + " IS UNIQUE",
	}, nil
}

// RelationIndex builds an idempotent index on an edge property.
func RelationIndex(name, relationType, key string) (Statement, error) {
	n, err := QuoteIdentifier("index name", name)
	if err != nil {
		return Statement{}, err
	}
	t, err := QuoteIdentifier("relationship type", relationType)
	if err != nil {
		return Statement{}, err
	}
	k, err := QuoteIdentifier("property", key)
	if err != nil {
		return Statement{}, err
	}
	return Statement{
		Op:     SchemaOp{Name: name},
		Cypher: "CREATE INDEX " + n + " IF NOT EXISTS FOR ()-[r:" + t + "]-() ON (r." + k + ")",
	}, nil
}

func withBaseLabel(labels []string) []string {
	all := []string{BaseLabel}
	for _, l := range labels {
		if l != BaseLabel {
			all = append(all, l)
		}
	}
	return all
}

func validateKeys(props map[string]interface{}) error {
	for k := range props {
		if _, err := QuoteIdentifier("property", k); err != nil {
			return err
		}
	}
	return nil
}
