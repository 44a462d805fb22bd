// Package memory provides an in-process graph store for development and
// tests. It evaluates the structural form of graphdb statements.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Cix-16/opencti/domain/core/valueobjects"
	"github.com/Cix-16/opencti/pkg/graphdb"
)

var (
	// ErrStoreClosed is returned after Close.
	ErrStoreClosed = errors.New("graph store is closed")
	// ErrTxDone is returned when a finished transaction is used again.
	ErrTxDone = errors.New("transaction already finished")
	// ErrReadOnly is returned for a write statement in a read.
	ErrReadOnly = errors.New("write statement in read transaction")
)

type nodeRecord struct {
	labels []string
	props  map[string]interface{}
}

type edgeRecord struct {
	id    string
	typ   string
	from  string
	to    string
	props map[string]interface{}
}

type graphState struct {
	nodes map[string]*nodeRecord
	edges map[string]*edgeRecord
}

func newGraphState() *graphState {
	return &graphState{
		nodes: make(map[string]*nodeRecord),
		edges: make(map[string]*edgeRecord),
	}
}

func (s *graphState) clone() *graphState {
	c := &graphState{
		nodes: make(map[string]*nodeRecord, len(s.nodes)),
		edges: make(map[string]*edgeRecord, len(s.edges)),
	}
	for id, n := range s.nodes {
		c.nodes[id] = &nodeRecord{labels: n.labels, props: copyProps(n.props)}
	}
	for id, e := range s.edges {
		cp := *e
		cp.props = copyProps(e.props)
		c.edges[id] = &cp
	}
	return c
}

// GraphStore is an in-memory graph. Write transactions work on a private
// snapshot; Commit applies the touched nodes and edges atomically and fails
// with graphdb.ErrConflict when another transaction committed a change to
// any of them since the snapshot was taken.
type GraphStore struct {
	mu      sync.RWMutex
	state   *graphState
	version uint64
	written map[string]uint64
	closed  bool

	newID func() string
	hook  func(graphdb.Statement) error
}

// Option configures a GraphStore
type Option func(*GraphStore)

// WithIDGenerator replaces the UUID generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *GraphStore) { s.newID = fn }
}

// WithStatementHook runs fn before every statement; a returned error fails
// the statement. Used to inject store failures.
func WithStatementHook(fn func(graphdb.Statement) error) Option {
	return func(s *GraphStore) { s.hook = fn }
}

// NewGraphStore creates an empty store
func NewGraphStore(opts ...Option) *GraphStore {
	s := &GraphStore{
		state:   newGraphState(),
		written: make(map[string]uint64),
		newID:   func() string { return valueobjects.NewEntityID().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BeginWrite opens a write transaction on a snapshot of the store.
func (s *GraphStore) BeginWrite(ctx context.Context) (graphdb.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	return &writeTx{
		store: s,
		state: s.state.clone(),
		base:  s.version,
		dirty: make(map[string]struct{}),
	}, nil
}

// ExecuteRead runs fn while holding the read lock, so every statement sees
// the same committed state.
func (s *GraphStore) ExecuteRead(ctx context.Context, fn func(graphdb.Runner) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return fn(&readRunner{store: s, state: s.state})
}

// VerifyConnectivity always succeeds while the store is open
func (s *GraphStore) VerifyConnectivity(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close releases the store
func (s *GraphStore) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// NodeCount returns the number of committed nodes
func (s *GraphStore) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.nodes)
}

// RelationCount returns the number of committed edges
func (s *GraphStore) RelationCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.edges)
}

type readRunner struct {
	store *GraphStore
	state *graphState
}

func (r *readRunner) Run(ctx context.Context, stmt graphdb.Statement) (*graphdb.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch stmt.Op.(type) {
	case graphdb.MatchNodeOp, graphdb.MatchRelationOp, graphdb.TraverseOp, graphdb.CountOp:
	default:
		return nil, ErrReadOnly
	}
	if r.store.hook != nil {
		if err := r.store.hook(stmt); err != nil {
			return nil, err
		}
	}
	return execute(r.state, stmt, nil, r.store.newID)
}

type writeTx struct {
	store *GraphStore
	state *graphState
	base  uint64
	dirty map[string]struct{}
	done  bool
}

func (tx *writeTx) Run(ctx context.Context, stmt graphdb.Statement) (*graphdb.Result, error) {
	if tx.done {
		return nil, ErrTxDone
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if tx.store.hook != nil {
		if err := tx.store.hook(stmt); err != nil {
			return nil, err
		}
	}
	return execute(tx.state, stmt, tx.dirty, tx.store.newID)
}

func (tx *writeTx) Commit(ctx context.Context) error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true
	if err := ctx.Err(); err != nil {
		return err
	}

	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	for id := range tx.dirty {
		if s.written[id] > tx.base {
			return fmt.Errorf("%w: %s changed concurrently", graphdb.ErrConflict, id)
		}
		if e, ok := tx.state.edges[id]; ok {
			if s.written[e.from] > tx.base || s.written[e.to] > tx.base {
				return fmt.Errorf("%w: endpoint of %s changed concurrently", graphdb.ErrConflict, id)
			}
		}
	}

	s.version++
	for id := range tx.dirty {
		if n, ok := tx.state.nodes[id]; ok {
			s.state.nodes[id] = n
		} else if _, existed := s.state.nodes[id]; existed {
			delete(s.state.nodes, id)
			s.detach(id)
		}
		if e, ok := tx.state.edges[id]; ok {
			s.state.edges[id] = e
		} else {
			delete(s.state.edges, id)
		}
		s.written[id] = s.version
	}
	return nil
}

// detach removes committed edges of a deleted node that the deleting
// transaction never saw.
func (s *GraphStore) detach(nodeID string) {
	for id, e := range s.state.edges {
		if e.from == nodeID || e.to == nodeID {
			delete(s.state.edges, id)
			s.written[id] = s.version
		}
	}
}

func (tx *writeTx) Rollback(ctx context.Context) error {
	tx.done = true
	tx.state = nil
	return nil
}

func execute(state *graphState, stmt graphdb.Statement, dirty map[string]struct{}, newID func() string) (*graphdb.Result, error) {
	touch := func(id string) {
		if dirty != nil {
			dirty[id] = struct{}{}
		}
	}

	switch op := stmt.Op.(type) {
	case graphdb.CreateNodeOp:
		id := newID()
		props := copyProps(op.Props)
		props["id"] = id
		state.nodes[id] = &nodeRecord{labels: append([]string(nil), op.Labels...), props: props}
		touch(id)
		return single(graphdb.Record{graphdb.KeyNode: copyProps(props)}), nil

	case graphdb.CreateRelationOp:
		_, okFrom := state.nodes[op.FromID]
		to, okTo := state.nodes[op.ToID]
		if !okFrom || !okTo || (len(op.ToLabels) > 0 && !hasAnyLabel(to, op.ToLabels)) {
			return graphdb.NewResult(nil), nil
		}
		id := newID()
		props := copyProps(op.Props)
		props["id"] = id
		e := &edgeRecord{id: id, typ: op.Type, from: op.FromID, to: op.ToID, props: props}
		state.edges[id] = e
		touch(id)
		return single(relationRecord(e)), nil

	case graphdb.DeleteNodeOp:
		if _, ok := state.nodes[op.ID]; !ok {
			return single(graphdb.Record{graphdb.KeyDeleted: int64(0)}), nil
		}
		for id, e := range state.edges {
			if e.from == op.ID || e.to == op.ID {
				delete(state.edges, id)
				touch(id)
			}
		}
		delete(state.nodes, op.ID)
		touch(op.ID)
		return single(graphdb.Record{graphdb.KeyDeleted: int64(1)}), nil

	case graphdb.DeleteRelationOp:
		e, ok := state.edges[op.ID]
		if !ok {
			return graphdb.NewResult(nil), nil
		}
		rec := relationRecord(e)
		delete(state.edges, op.ID)
		touch(op.ID)
		return single(rec), nil

	case graphdb.SetPropertyOp:
		n, ok := state.nodes[op.ID]
		if !ok {
			return graphdb.NewResult(nil), nil
		}
		if op.Value == nil {
			delete(n.props, op.Key)
		} else {
			n.props[op.Key] = op.Value
		}
		n.props["updated_at"] = op.UpdatedAt
		touch(op.ID)
		return single(graphdb.Record{graphdb.KeyNode: copyProps(n.props)}), nil

	case graphdb.MatchNodeOp:
		n, ok := state.nodes[op.ID]
		if !ok {
			return graphdb.NewResult(nil), nil
		}
		return single(graphdb.Record{graphdb.KeyNode: copyProps(n.props)}), nil

	case graphdb.MatchRelationOp:
		e, ok := state.edges[op.ID]
		if !ok {
			return graphdb.NewResult(nil), nil
		}
		return single(relationRecord(e)), nil

	case graphdb.TraverseOp:
		rows, err := traverse(state, op.Traversal)
		if err != nil {
			return nil, err
		}
		sortRows(rows, op.Traversal)
		rows = page(rows, op.Traversal.Skip, op.Traversal.Limit)

		records := make([]graphdb.Record, 0, len(rows))
		for _, row := range rows {
			rec := graphdb.Record{graphdb.KeyNode: copyProps(row.node.props)}
			if op.Traversal.WithRelation && row.edge != nil {
				for k, v := range relationRecord(row.edge) {
					rec[k] = v
				}
			}
			records = append(records, rec)
		}
		return graphdb.NewResult(records), nil

	case graphdb.CountOp:
		rows, err := traverse(state, op.Traversal)
		if err != nil {
			return nil, err
		}
		return single(graphdb.Record{graphdb.KeyTotal: int64(len(rows))}), nil

	case graphdb.SchemaOp:
		return graphdb.NewResult(nil), nil

	default:
		return nil, fmt.Errorf("unsupported statement %s", graphdb.OpName(stmt))
	}
}

type row struct {
	node *nodeRecord
	edge *edgeRecord
}

func traverse(state *graphState, t graphdb.Traversal) ([]row, error) {
	label := t.Label
	if label == "" {
		label = graphdb.BaseLabel
	}

	var rows []row
	keep := func(n *nodeRecord, e *edgeRecord) error {
		if !hasAnyLabel(n, []string{label}) {
			return nil
		}
		ok, err := matchesFilters(n.props, t.Filters)
		if err != nil || !ok {
			return err
		}
		rows = append(rows, row{node: n, edge: e})
		return nil
	}

	if t.Anchor == nil {
		for _, n := range state.nodes {
			if err := keep(n, nil); err != nil {
				return nil, err
			}
		}
		return rows, nil
	}

	a := t.Anchor
	if _, ok := state.nodes[a.ID]; !ok {
		return nil, nil
	}
	for _, e := range state.edges {
		if e.typ != a.RelationType {
			continue
		}
		var other string
		switch {
		case e.from == a.ID && roleIs(e.props["from_role"], a.AnchorRole) && roleIs(e.props["to_role"], a.TargetRole):
			other = e.to
		case e.to == a.ID && roleIs(e.props["to_role"], a.AnchorRole) && roleIs(e.props["from_role"], a.TargetRole):
			other = e.from
		default:
			continue
		}
		if n, ok := state.nodes[other]; ok {
			if err := keep(n, e); err != nil {
				return nil, err
			}
		}
	}
	return rows, nil
}

func roleIs(actual interface{}, want string) bool {
	if want == "" {
		return true
	}
	s, ok := actual.(string)
	return ok && s == want
}

func sortRows(rows []row, t graphdb.Traversal) {
	key := t.OrderBy
	if key == "" {
		key = "id"
	}
	sort.SliceStable(rows, func(i, j int) bool {
		c := compareValues(rows[i].node.props[key], rows[j].node.props[key])
		if t.Descending {
			c = -c
		}
		if c != 0 {
			return c < 0
		}
		c = strings.Compare(fmt.Sprint(rows[i].node.props["id"]), fmt.Sprint(rows[j].node.props["id"]))
		if c != 0 {
			return c < 0
		}
		if rows[i].edge != nil && rows[j].edge != nil {
			return rows[i].edge.id < rows[j].edge.id
		}
		return false
	})
}

func page(rows []row, skip, limit int) []row {
	if skip > 0 {
		if skip >= len(rows) {
			return nil
		}
		rows = rows[skip:]
	}
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

func matchesFilters(props map[string]interface{}, filters []graphdb.Filter) (bool, error) {
	for _, f := range filters {
		if len(f.Values) == 0 {
			return false, fmt.Errorf("filter on %q has no values", f.Key)
		}
		value := props[f.Key]
		switch f.Operator {
		case graphdb.FilterEq, "":
			found := false
			for _, want := range f.Values {
				if value != nil && compareValues(value, want) == 0 {
					found = true
					break
				}
			}
			if !found {
				return false, nil
			}
		case graphdb.FilterMatch:
			needle, ok := f.Values[0].(string)
			if !ok {
				return false, fmt.Errorf("match filter on %q needs a string", f.Key)
			}
			if value == nil || !strings.Contains(strings.ToLower(fmt.Sprint(value)), strings.ToLower(needle)) {
				return false, nil
			}
		case graphdb.FilterGt:
			if value == nil || compareValues(value, f.Values[0]) <= 0 {
				return false, nil
			}
		case graphdb.FilterLt:
			if value == nil || compareValues(value, f.Values[0]) >= 0 {
				return false, nil
			}
		default:
			return false, fmt.Errorf("unknown filter operator %q", f.Operator)
		}
	}
	return true, nil
}

// compareValues orders values the way the graph store does: nil sorts after
// everything in ascending order.
func compareValues(a, b interface{}) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}

	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			default:
				return 0
			}
		}
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ba == bb:
				return 0
			case !ba:
				return -1
			default:
				return 1
			}
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func hasAnyLabel(n *nodeRecord, labels []string) bool {
	for _, want := range labels {
		for _, l := range n.labels {
			if l == want {
				return true
			}
		}
	}
	return false
}

func relationRecord(e *edgeRecord) graphdb.Record {
	return graphdb.Record{
		graphdb.KeyRelation:     copyProps(e.props),
		graphdb.KeyRelationType: e.typ,
		graphdb.KeyFromID:       e.from,
		graphdb.KeyToID:         e.to,
	}
}

func single(rec graphdb.Record) *graphdb.Result {
	return graphdb.NewResult([]graphdb.Record{rec})
}

func copyProps(props map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}
