// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage wraps BadgerDB and the Keyspace abstraction the ledger
// and artifact store build their six row collections on: proposals,
// builds, builds-by-proposal, verifications, promotions, and artifact
// metadata for the ledger; blobs for the artifact store. Each collection
// claims its own Keyspace name against a shared *DB, and the ledger and
// artifact store each open their own *DB against separate directories so
// a corrupt value log in one never threatens the other.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Config holds configuration for a BadgerDB instance.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory.
	Path string

	// InMemory enables in-memory mode. Used by tests.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal log lines. Nil disables them.
	Logger *slog.Logger

	// GCInterval is how often to run value log garbage collection.
	// Zero disables the GC runner.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum garbage ratio before GC runs.
	GCDiscardRatio float64
}

// DefaultConfig returns durable, production-shaped defaults.
func DefaultConfig() Config {
	return Config{
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns defaults suited to tests: no disk, no GC.
func InMemoryConfig() Config {
	return Config{InMemory: true, SyncWrites: false}
}

type badgerLogger struct{ logger *slog.Logger }

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open opens a BadgerDB instance for the given configuration.
func Open(cfg Config) (*badger.DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("storage: path is required for a persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("storage: create directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("storage: open badger database: %w", err)
	}
	return db, nil
}

// DB wraps *badger.DB with GC lifecycle management and transaction helpers
// used throughout the ledger and artifact store.
type DB struct {
	*badger.DB
	gcRunner *gcRunner
	path     string
	inMemory bool
}

// OpenDB opens a managed BadgerDB, starting the GC runner if configured.
func OpenDB(cfg Config) (*DB, error) {
	db, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	wrapped := &DB{DB: db, path: cfg.Path, inMemory: cfg.InMemory}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		wrapped.gcRunner = newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		wrapped.gcRunner.start()
	}
	return wrapped, nil
}

// Close stops GC (if running) and closes the database. Safe to call once.
func (d *DB) Close() error {
	if d.gcRunner != nil {
		d.gcRunner.stop()
	}
	return d.DB.Close()
}

// Path returns the on-disk directory, or "" for in-memory databases.
func (d *DB) Path() string { return d.path }

// InMemory reports whether this database holds no on-disk state.
func (d *DB) InMemory() bool { return d.inMemory }

// WithTxn runs fn in a read-write transaction, committing on nil return and
// discarding otherwise.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("storage: context cancelled: %w", err)
	}
	txn := d.DB.NewTransaction(true)
	defer txn.Discard()
	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

// WithReadTxn runs fn in a read-only transaction.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("storage: context cancelled: %w", err)
	}
	txn := d.DB.NewTransaction(false)
	defer txn.Discard()
	return fn(txn)
}

// Keyspace scopes a set of rows under one colon-terminated key prefix. A
// single Badger instance has one flat keyspace; each row collection of the
// ledger and of the artifact store claims its own named Keyspace against
// that store's *DB so a
// proposal's prefix scan never drifts into a build row or a blob, and so
// the "proposal:"/"build:"/"blob:" string literals live in one place
// instead of being re-declared as ad hoc []byte concatenation at every
// call site.
type Keyspace struct {
	prefix []byte
}

// Keyspace returns the Keyspace scoped to name, with keys of the form
// "<name>:<id>".
func (d *DB) Keyspace(name string) *Keyspace {
	return &Keyspace{prefix: []byte(name + ":")}
}

// Key returns the full on-disk key for id within this keyspace.
func (k *Keyspace) Key(id string) []byte {
	full := make([]byte, 0, len(k.prefix)+len(id))
	full = append(full, k.prefix...)
	return append(full, id...)
}

// GetJSON reads the JSON-encoded row at id into v. A missing row reports
// (false, nil) rather than an error.
func (k *Keyspace) GetJSON(txn *badger.Txn, id string, v interface{}) (bool, error) {
	item, err := txn.Get(k.Key(id))
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

// SetJSON writes v JSON-encoded at id.
func (k *Keyspace) SetJSON(txn *badger.Txn, id string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(k.Key(id), b)
}

// Get reads the raw bytes at id, bypassing JSON decoding — used by the
// content-addressed blob store, whose rows are the content itself.
func (k *Keyspace) Get(txn *badger.Txn, id string) ([]byte, error) {
	item, err := txn.Get(k.Key(id))
	if err != nil {
		return nil, err
	}
	var out []byte
	err = item.Value(func(val []byte) error {
		out = append([]byte(nil), val...)
		return nil
	})
	return out, err
}

// Set writes raw bytes at id, bypassing JSON encoding.
func (k *Keyspace) Set(txn *badger.Txn, id string, value []byte) error {
	return txn.Set(k.Key(id), value)
}

// Has reports whether id already has a row in this keyspace.
func (k *Keyspace) Has(txn *badger.Txn, id string) bool {
	_, err := txn.Get(k.Key(id))
	return err == nil
}

// IteratePrefix calls fn with the raw value of every row whose id starts
// with idPrefix (pass "" to visit the whole keyspace), in key order.
// Iteration stops at the first error fn returns.
func (k *Keyspace) IteratePrefix(txn *badger.Txn, idPrefix string, fn func(value []byte) error) error {
	full := k.Key(idPrefix)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = full
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Seek(full); it.ValidForPrefix(full); it.Next() {
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}

// TempDir creates a temporary directory for a test-scoped database.
func TempDir(prefix string) (string, error) {
	dir, err := os.MkdirTemp("", prefix)
	if err != nil {
		return "", fmt.Errorf("storage: create temp dir: %w", err)
	}
	return dir, nil
}

// CleanupDir removes a database directory and its contents. A no-op for "".
func CleanupDir(path string) error {
	if path == "" {
		return nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("storage: resolve path: %w", err)
	}
	return os.RemoveAll(abs)
}

type gcRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newGCRunner(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) *gcRunner {
	return &gcRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (r *gcRunner) start() { go r.run() }

func (r *gcRunner) stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *gcRunner) run() {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.runGC()
		}
	}
}

func (r *gcRunner) runGC() {
	err := r.db.RunValueLogGC(r.ratio)
	if err == nil || errors.Is(err, badger.ErrNoRewrite) {
		return
	}
	if r.logger != nil {
		r.logger.Warn("badger value log GC error", slog.String("error", err.Error()))
	}
}
