// Package neo4j adapts the Neo4j Go driver to the graphdb contract.
package neo4j

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	neo4jconfig "github.com/neo4j/neo4j-go-driver/v5/neo4j/config"
	"go.uber.org/zap"

	"github.com/Cix-16/opencti/pkg/graphdb"
)

// Config holds the connection settings
type Config struct {
	URI            string
	Username       string
	Password       string
	Database       string
	MaxPoolSize    int
	AcquireTimeout time.Duration
}

// Driver runs graphdb statements on Neo4j with explicit transactions.
type Driver struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *zap.Logger
}

// NewDriver connects to Neo4j. The connection is verified lazily; call
// VerifyConnectivity at start-up to fail fast.
func NewDriver(cfg Config, logger *zap.Logger) (*Driver, error) {
	d, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
		func(c *neo4jconfig.Config) {
			if cfg.MaxPoolSize > 0 {
				c.MaxConnectionPoolSize = cfg.MaxPoolSize
			}
			if cfg.AcquireTimeout > 0 {
				c.ConnectionAcquisitionTimeout = cfg.AcquireTimeout
			}
		})
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{driver: d, database: cfg.Database, logger: logger}, nil
}

// BeginWrite opens a session and an explicit transaction on it.
func (d *Driver) BeginWrite(ctx context.Context) (graphdb.Tx, error) {
	session := d.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: d.database,
	})
	tx, err := session.BeginTransaction(ctx)
	if err != nil {
		_ = session.Close(ctx)
		return nil, classify(err)
	}
	return &writeTx{session: session, tx: tx, logger: d.logger}, nil
}

// ExecuteRead runs fn in a managed read transaction.
func (d *Driver) ExecuteRead(ctx context.Context, fn func(graphdb.Runner) error) error {
	session := d.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: d.database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(&managedRunner{tx: tx, logger: d.logger})
	})
	return classify(err)
}

// VerifyConnectivity checks that the server is reachable
func (d *Driver) VerifyConnectivity(ctx context.Context) error {
	return d.driver.VerifyConnectivity(ctx)
}

// Close closes the connection pool
func (d *Driver) Close(ctx context.Context) error {
	return d.driver.Close(ctx)
}

type writeTx struct {
	session neo4j.SessionWithContext
	tx      neo4j.ExplicitTransaction
	logger  *zap.Logger
	done    bool
}

func (t *writeTx) Run(ctx context.Context, stmt graphdb.Statement) (*graphdb.Result, error) {
	if t.done {
		return nil, errors.New("transaction already finished")
	}
	t.logger.Debug("running statement", zap.String("op", graphdb.OpName(stmt)))
	res, err := t.tx.Run(ctx, stmt.Cypher, stmt.Params)
	if err != nil {
		return nil, classify(err)
	}
	return collect(ctx, res)
}

func (t *writeTx) Commit(ctx context.Context) error {
	if t.done {
		return errors.New("transaction already finished")
	}
	t.done = true
	defer t.session.Close(ctx)
	return classify(t.tx.Commit(ctx))
}

func (t *writeTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.session.Close(ctx)
	return t.tx.Rollback(ctx)
}

type managedRunner struct {
	tx     neo4j.ManagedTransaction
	logger *zap.Logger
}

func (r *managedRunner) Run(ctx context.Context, stmt graphdb.Statement) (*graphdb.Result, error) {
	r.logger.Debug("running read statement", zap.String("op", graphdb.OpName(stmt)))
	res, err := r.tx.Run(ctx, stmt.Cypher, stmt.Params)
	if err != nil {
		return nil, err
	}
	return collect(ctx, res)
}

func collect(ctx context.Context, res neo4j.ResultWithContext) (*graphdb.Result, error) {
	rows, err := res.Collect(ctx)
	if err != nil {
		return nil, classify(err)
	}
	records := make([]graphdb.Record, 0, len(rows))
	for _, row := range rows {
		rec := make(graphdb.Record, len(row.Keys))
		for i, key := range row.Keys {
			rec[key] = row.Values[i]
		}
		records = append(records, rec)
	}
	return graphdb.NewResult(records), nil
}

// classify marks transient transaction failures (deadlocks, lock timeouts,
// outdated reads) as write conflicts.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var neoErr *neo4j.Neo4jError
	if errors.As(err, &neoErr) && strings.HasPrefix(neoErr.Code, "Neo.TransientError.Transaction") {
		return fmt.Errorf("%w: %v", graphdb.ErrConflict, err)
	}
	return err
}
