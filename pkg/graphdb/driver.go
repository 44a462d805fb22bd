// Package graphdb is the contract between the repository and a graph store.
// Statements are built here and never assembled by callers.
package graphdb

import (
	"context"
	"errors"
)

// ErrConflict is wrapped by drivers when the store rejects a transaction
// because of a concurrent write.
var ErrConflict = errors.New("graphdb: write conflict")

// Record is one row of a result, keyed by the names in the RETURN clause.
// Nodes and edges are returned as property maps.
type Record map[string]interface{}

// Result is the materialized output of a statement.
type Result struct {
	records []Record
	pos     int
}

// NewResult wraps records
func NewResult(records []Record) *Result {
	return &Result{records: records, pos: -1}
}

// Next advances to the next record
func (r *Result) Next() bool {
	if r.pos+1 >= len(r.records) {
		r.pos = len(r.records)
		return false
	}
	r.pos++
	return true
}

// Record returns the current record
func (r *Result) Record() Record {
	if r.pos < 0 || r.pos >= len(r.records) {
		return nil
	}
	return r.records[r.pos]
}

// Records returns every record
func (r *Result) Records() []Record {
	return r.records
}

// Len returns the number of records
func (r *Result) Len() int {
	return len(r.records)
}

// Single returns the first record, if any
func (r *Result) Single() (Record, bool) {
	if len(r.records) == 0 {
		return nil, false
	}
	return r.records[0], true
}

// Runner executes statements.
type Runner interface {
	Run(ctx context.Context, stmt Statement) (*Result, error)
}

// Tx is an explicit write transaction. Nothing is visible to other readers
// until Commit succeeds. Rollback after Commit is a no-op.
type Tx interface {
	Runner
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Driver opens transactions against a graph store.
type Driver interface {
	BeginWrite(ctx context.Context) (Tx, error)
	// ExecuteRead runs fn against a consistent read snapshot.
	ExecuteRead(ctx context.Context, fn func(Runner) error) error
	VerifyConnectivity(ctx context.Context) error
	Close(ctx context.Context) error
}
