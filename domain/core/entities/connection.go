package entities

// Connection is one page of a traversal. It is built per query and never
// stored.
type Connection struct {
	Edges    []Edge   `json:"edges"`
	PageInfo PageInfo `json:"pageInfo"`
}

// Edge is one result row. Relation is only set for relation listings.
type Edge struct {
	Node     *Entity   `json:"node"`
	Relation *Relation `json:"relation,omitempty"`
	Cursor   string    `json:"cursor"`
}

// PageInfo describes the position of the page in the full result set.
type PageInfo struct {
	StartCursor     string `json:"startCursor"`
	EndCursor       string `json:"endCursor"`
	HasNextPage     bool   `json:"hasNextPage"`
	HasPreviousPage bool   `json:"hasPreviousPage"`
	GlobalCount     *int   `json:"globalCount,omitempty"`
}

// Nodes returns the entities of the page in order.
func (c *Connection) Nodes() []*Entity {
	nodes := make([]*Entity, 0, len(c.Edges))
	for _, e := range c.Edges {
		nodes = append(nodes, e.Node)
	}
	return nodes
}
