package entities

import (
	"fmt"
	"time"
)

// Relation is a typed, addressable edge. It is stored directed from the
// "from" entity to the "to" entity; the roles name each end.
type Relation struct {
	ID               string    `json:"id"`
	RelationshipType string    `json:"relationship_type"`
	FromID           string    `json:"from_id"`
	ToID             string    `json:"to_id"`
	FromRole         string    `json:"from_role"`
	ToRole           string    `json:"to_role"`
	CreatedAt        time.Time `json:"created_at"`
}

// RelationSpec describes one relation to create from a known source.
type RelationSpec struct {
	ToID         string
	RelationType string
	FromRole     string
	ToRole       string
	// ToTypes restricts the labels the target may carry. Empty means any.
	ToTypes []string
}

// RelationFromProperties rebuilds a relation from edge properties and the
// ids of its endpoints.
func RelationFromProperties(props map[string]interface{}, relationType, fromID, toID string) (*Relation, error) {
	if props == nil {
		return nil, fmt.Errorf("edge has no properties")
	}
	r := &Relation{
		ID:               asString(props["id"]),
		RelationshipType: relationType,
		FromID:           fromID,
		ToID:             toID,
		FromRole:         asString(props["from_role"]),
		ToRole:           asString(props["to_role"]),
	}
	if r.ID == "" {
		return nil, fmt.Errorf("edge has no id")
	}
	created, err := parseTime(props["created_at"])
	if err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}
	r.CreatedAt = created
	return r, nil
}

// RelationWithNode is returned by relation mutations: the relation and the
// refreshed source entity.
type RelationWithNode struct {
	Relation *Relation `json:"relation"`
	Node     *Entity   `json:"node"`
}
