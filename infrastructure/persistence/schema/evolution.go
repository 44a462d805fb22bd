// Package schema applies the graph store indexes and constraints the
// repository relies on.
package schema

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Cix-16/opencti/domain/config"
	"github.com/Cix-16/opencti/pkg/graphdb"
)

// SchemaVersion records an applied migration
type SchemaVersion struct {
	Version     int       `json:"version"`
	Description string    `json:"description"`
	AppliedAt   time.Time `json:"applied_at"`
}

// Migration moves the schema one version forward. Statements must be
// idempotent: migrations are replayed on every start.
type Migration struct {
	FromVersion int
	ToVersion   int
	Description string
	Statements  func() ([]graphdb.Statement, error)
}

// SchemaEvolution applies migrations in version order
type SchemaEvolution struct {
	driver         graphdb.Driver
	logger         *zap.Logger
	currentVersion int
	migrations     []Migration
	history        []SchemaVersion
}

// NewSchemaEvolution creates a new schema evolution manager
func NewSchemaEvolution(driver graphdb.Driver, logger *zap.Logger) *SchemaEvolution {
	return &SchemaEvolution{driver: driver, logger: logger}
}

// RegisterMigration registers a new migration
func (s *SchemaEvolution) RegisterMigration(migration Migration) error {
	if migration.FromVersion >= migration.ToVersion {
		return fmt.Errorf("invalid migration: from_version must be less than to_version")
	}
	for _, existing := range s.migrations {
		if existing.FromVersion == migration.FromVersion && existing.ToVersion == migration.ToVersion {
			return fmt.Errorf("migration from %d to %d already exists",
				migration.FromVersion, migration.ToVersion)
		}
	}
	s.migrations = append(s.migrations, migration)
	return nil
}

// Migrate applies migrations until targetVersion is reached
func (s *SchemaEvolution) Migrate(ctx context.Context, targetVersion int) error {
	for s.currentVersion < targetVersion {
		migration := s.findMigration(s.currentVersion, s.currentVersion+1)
		if migration == nil {
			return fmt.Errorf("no migration found from version %d to %d",
				s.currentVersion, s.currentVersion+1)
		}

		stmts, err := migration.Statements()
		if err != nil {
			return fmt.Errorf("migration %d->%d: %w", migration.FromVersion, migration.ToVersion, err)
		}
		if err := s.apply(ctx, stmts); err != nil {
			return fmt.Errorf("migration %d->%d failed: %w", migration.FromVersion, migration.ToVersion, err)
		}

		s.history = append(s.history, SchemaVersion{
			Version:     migration.ToVersion,
			Description: migration.Description,
			AppliedAt:   time.Now(),
		})
		s.currentVersion = migration.ToVersion
		s.logger.Info("schema migration applied",
			zap.Int("version", migration.ToVersion),
			zap.String("description", migration.Description))
	}
	return nil
}

// Schema statements cannot share a transaction with data statements, so
// each one gets its own.
func (s *SchemaEvolution) apply(ctx context.Context, stmts []graphdb.Statement) error {
	for _, stmt := range stmts {
		tx, err := s.driver.BeginWrite(ctx)
		if err != nil {
			return err
		}
		if _, err := tx.Run(ctx, stmt); err != nil {
			_ = tx.Rollback(ctx)
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *SchemaEvolution) findMigration(from, to int) *Migration {
	for i := range s.migrations {
		if s.migrations[i].FromVersion == from && s.migrations[i].ToVersion == to {
			return &s.migrations[i]
		}
	}
	return nil
}

// GetCurrentVersion returns the current schema version
func (s *SchemaEvolution) GetCurrentVersion() int {
	return s.currentVersion
}

// GetHistory returns the migration history
func (s *SchemaEvolution) GetHistory() []SchemaVersion {
	return s.history
}

// LatestVersion is the version reached by DefaultMigrations.
const LatestVersion = 2

// DefaultMigrations returns the constraint on entity ids and the indexes on
// relation ids for every relation type of the registry.
func DefaultMigrations(registry *config.SchemaRegistry) []Migration {
	return []Migration{
		{
			FromVersion: 0,
			ToVersion:   1,
			Description: "unique entity ids",
			Statements: func() ([]graphdb.Statement, error) {
				stmt, err := graphdb.UniqueConstraint("entity_id_unique", graphdb.BaseLabel, "id")
				if err != nil {
					return nil, err
				}
				return []graphdb.Statement{stmt}, nil
			},
		},
		{
			FromVersion: 1,
			ToVersion:   2,
			Description: "relation id indexes",
			Statements: func() ([]graphdb.Statement, error) {
				var stmts []graphdb.Statement
				for _, relType := range registry.RelationTypes() {
					stmt, err := graphdb.RelationIndex("rel_"+relType+"_id", relType, "id")
					if err != nil {
						return nil, err
					}
					stmts = append(stmts, stmt)
				}
				return stmts, nil
			},
		},
	}
}

// EnsureSchema registers the default migrations and applies them.
func EnsureSchema(ctx context.Context, driver graphdb.Driver, registry *config.SchemaRegistry, logger *zap.Logger) error {
	evolution := NewSchemaEvolution(driver, logger)
	for _, m := range DefaultMigrations(registry) {
		if err := evolution.RegisterMigration(m); err != nil {
			return err
		}
	}
	return evolution.Migrate(ctx, LatestVersion)
}
