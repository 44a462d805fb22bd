// Package badger provides a TTL store on an embedded BadgerDB. Expiry uses
// badger's native entry TTL, which has a resolution of one second.
package badger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/Cix-16/opencti/application/ports"
)

const keySeparator = "\x00"

// Config holds the BadgerDB settings
type Config struct {
	// Path is ignored when InMemory is set.
	Path       string
	InMemory   bool
	SyncWrites bool
	GCInterval time.Duration
}

// TTLStore implements ports.TTLStore. Keys are partition + NUL + key so one
// partition is listed with a prefix scan.
type TTLStore struct {
	db     *badger.DB
	logger *zap.Logger
	stop   chan struct{}
}

var _ ports.TTLStore = (*TTLStore)(nil)

// Open opens the database and starts value-log GC when configured.
func Open(cfg Config, logger *zap.Logger) (*TTLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger path is required for a persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&zapLogger{logger: logger.Sugar()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	s := &TTLStore{db: db, logger: logger, stop: make(chan struct{})}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		go s.runGC(cfg.GCInterval)
	}
	return s, nil
}

// Set writes the entry with a native TTL. Badger rounds expiry to seconds.
func (s *TTLStore) Set(ctx context.Context, partition, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(entryKey(partition, key), value).WithTTL(ttl))
	})
}

// Get reads an unexpired entry
func (s *TTLStore) Get(ctx context.Context, partition, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(partition, key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("badger get: %w", err)
	}
	return value, true, nil
}

// Delete removes an entry
func (s *TTLStore) Delete(ctx context.Context, partition, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(entryKey(partition, key))
	})
}

// List scans the partition prefix. Expired entries are skipped by badger.
func (s *TTLStore) List(ctx context.Context, partition string) ([][]byte, error) {
	prefix := []byte(partition + keySeparator)
	var values [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			v, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			values = append(values, v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger list: %w", err)
	}
	return values, nil
}

// Close stops GC and closes the database
func (s *TTLStore) Close() error {
	close(s.stop)
	return s.db.Close()
}

func (s *TTLStore) runGC(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			err := s.db.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("badger value log gc failed", zap.Error(err))
			}
		case <-s.stop:
			return
		}
	}
}

func entryKey(partition, key string) []byte {
	return []byte(partition + keySeparator + key)
}

// zapLogger adapts zap to badger's logger interface. Badger info output is
// demoted to debug.
type zapLogger struct {
	logger *zap.SugaredLogger
}

func (l *zapLogger) Errorf(format string, args ...interface{})   { l.logger.Errorf(format, args...) }
func (l *zapLogger) Warningf(format string, args ...interface{}) { l.logger.Warnf(format, args...) }
func (l *zapLogger) Infof(format string, args ...interface{})    { l.logger.Debugf(format, args...) }
func (l *zapLogger) Debugf(format string, args ...interface{})   { l.logger.Debugf(format, args...) }
