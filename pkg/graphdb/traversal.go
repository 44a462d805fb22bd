package graphdb

import (
	"fmt"
	"strconv"
	"strings"
)

// FilterOperator compares a node property with filter values.
type FilterOperator string

const (
	FilterEq    FilterOperator = "eq"
	FilterMatch FilterOperator = "match"
	FilterGt    FilterOperator = "gt"
	FilterLt    FilterOperator = "lt"
)

// Filter restricts a traversal on one node property. Eq matches any of
// Values; the other operators use the first value.
type Filter struct {
	Key      string         `json:"key" validate:"required"`
	Values   []interface{}  `json:"values" validate:"required,min=1"`
	Operator FilterOperator `json:"operator,omitempty" validate:"omitempty,oneof=eq match gt lt"`
}

// Anchor restricts a traversal to nodes related to one entity.
type Anchor struct {
	ID           string
	RelationType string
	// AnchorRole is the role of the anchor on the relation, TargetRole the
	// role of the listed node. Empty means any.
	AnchorRole string
	TargetRole string
}

// Traversal is the base query of a listing.
type Traversal struct {
	// Label of the listed nodes. Empty lists every entity.
	Label        string
	Anchor       *Anchor
	Filters      []Filter
	OrderBy      string
	Descending   bool
	Skip         int
	Limit        int
	WithRelation bool
}

// Traverse builds the paged read of a traversal. Rows are ordered by OrderBy
// then id, so the order is total.
func Traverse(t Traversal) (Statement, error) {
	params := map[string]interface{}{}
	match, err := t.matchClause(params)
	if err != nil {
		return Statement{}, err
	}
	if t.WithRelation && t.Anchor == nil {
		return Statement{}, fmt.Errorf("relation projection requires an anchor")
	}

	orderKey := "id"
	if t.OrderBy != "" {
		orderKey = t.OrderBy
	}
	order, err := QuoteIdentifier("order key", orderKey)
	if err != nil {
		return Statement{}, err
	}
	dir := "ASC"
	if t.Descending {
		dir = "DESC"
	}

	var sb strings.Builder
	sb.WriteString(match)
	if t.Anchor != nil {
		sb.WriteString(" WITH n, r")
	} else {
		sb.WriteString(" WITH n")
	}
	sb.WriteString(" ORDER BY n." + order + " " + dir)
	if orderKey != "id" {
		sb.WriteString(", n.id ASC")
	}
	if t.Skip > 0 {
		sb.WriteString(" SKIP $skip")
		params["skip"] = int64(t.Skip)
	}
	if t.Limit > 0 {
		sb.WriteString(" LIMIT $limit")
		params["limit"] = int64(t.Limit)
	}
	sb.WriteString(" RETURN properties(n) AS node")
	if t.WithRelation {
		sb.WriteString(", " + relationProjection)
	}

	return Statement{Op: TraverseOp{Traversal: t}, Cypher: sb.String(), Params: params}, nil
}

// Count builds the aggregate count of a traversal. Ordering and paging
// are ignored.
func Count(t Traversal) (Statement, error) {
	params := map[string]interface{}{}
	match, err := t.matchClause(params)
	if err != nil {
		return Statement{}, err
	}
	return Statement{
		Op:     CountOp{Traversal: t},
		Cypher: match + " RETURN count(n) AS total",
		Params: params,
	}, nil
}

func (t Traversal) matchClause(params map[string]interface{}) (string, error) {
	label := BaseLabel
	if t.Label != "" {
		label = t.Label
	}
	target, err := QuoteIdentifier("label", label)
	if err != nil {
		return "", err
	}

	var conditions []string
	var sb strings.Builder
	if t.Anchor == nil {
		sb.WriteString("MATCH (n:" + target + ")")
	} else {
		relType, err := QuoteIdentifier("relationship type", t.Anchor.RelationType)
		if err != nil {
			return "", err
		}
		sb.WriteString("MATCH (a:" + baseLabel + " {id: $anchor_id})-[r:" + relType + "]-(n:" + target + ")")
		params["anchor_id"] = t.Anchor.ID
		if cond := roleCondition(t.Anchor, params); cond != "" {
			conditions = append(conditions, cond)
		}
	}

	for i, f := range t.Filters {
		cond, err := filterCondition(f, "f"+strconv.Itoa(i), params)
		if err != nil {
			return "", err
		}
		conditions = append(conditions, cond)
	}

	if len(conditions) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conditions, " AND "))
	}
	return sb.String(), nil
}

func roleCondition(a *Anchor, params map[string]interface{}) string {
	if a.AnchorRole == "" && a.TargetRole == "" {
		return ""
	}
	out := []string{"startNode(r) = a"}
	in := []string{"endNode(r) = a"}
	if a.AnchorRole != "" {
		out = append(out, "r.from_role = $anchor_role")
		in = append(in, "r.to_role = $anchor_role")
		params["anchor_role"] = a.AnchorRole
	}
	if a.TargetRole != "" {
		out = append(out, "r.to_role = $target_role")
		in = append(in, "r.from_role = $target_role")
		params["target_role"] = a.TargetRole
	}
	return "((" + strings.Join(out, " AND ") + ") OR (" + strings.Join(in, " AND ") + "))"
}

func filterCondition(f Filter, param string, params map[string]interface{}) (string, error) {
	key, err := QuoteIdentifier("filter key", f.Key)
	if err != nil {
		return "", err
	}
	if len(f.Values) == 0 {
		return "", fmt.Errorf("filter on %q has no values", f.Key)
	}

	switch f.Operator {
	case FilterEq, "":
		params[param] = f.Values
		return "n." + key + " IN $" + param, nil
	case FilterMatch:
		s, ok := f.Values[0].(string)
		if !ok {
			return "", fmt.Errorf("match filter on %q needs a string", f.Key)
		}
		params[param] = s
		return "toLower(toString(n." + key + ")) CONTAINS toLower($" + param + ")", nil
	case FilterGt:
		params[param] = f.Values[0]
		return "n." + key + " > $" + param, nil
	case FilterLt:
		params[param] = f.Values[0]
		return "n." + key + " < $" + param, nil
	default:
		return "", fmt.Errorf("unknown filter operator %q", f.Operator)
	}
}
