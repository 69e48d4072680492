// Package store is the engine's encrypted persistence layer: a SQL database
// (SQLite or PostgreSQL) whose sensitive columns are sealed with the
// process-wide keyring. Relational records are reached through Repos; the
// settings table is exposed as a small key/value API. Snapshot produces a
// consistent, compressed dump for backups.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/tgfleet/internal/clock"
	"github.com/dmitrijs2005/tgfleet/internal/cryptox"
	"github.com/dmitrijs2005/tgfleet/internal/dbx"
	"github.com/dmitrijs2005/tgfleet/internal/engine/models"
	"github.com/dmitrijs2005/tgfleet/internal/engine/repositories/repomanager"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type Store struct {
	db      *sql.DB
	dialect dbx.Dialect
	keyring *cryptox.Keyring
	repos   repomanager.RepositoryManager
	clock   clock.Clock
}

type Option func(*Store)

func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// Open connects to dsn, applies migrations and returns a ready Store.
func Open(ctx context.Context, d dbx.Dialect, dsn string, kr *cryptox.Keyring, opts ...Option) (*Store, error) {
	if d == dbx.SQLite {
		dsn = sqliteDSN(dsn)
	}
	db, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	if d == dbx.SQLite {
		// one writer; avoids SQLITE_BUSY under concurrent tasks
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	s := New(db, d, kr, opts...)
	if err := s.repos.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already migrated database.
func New(db *sql.DB, d dbx.Dialect, kr *cryptox.Keyring, opts ...Option) *Store {
	s := &Store{
		db:      db,
		dialect: d,
		keyring: kr,
		repos:   repomanager.NewSQLRepositoryManager(d, kr),
		clock:   clock.Real(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func sqliteDSN(dsn string) string {
	if dsn == "" || strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") || strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func (s *Store) DB() *sql.DB                          { return s.db }
func (s *Store) Dialect() dbx.Dialect                 { return s.dialect }
func (s *Store) Repos() repomanager.RepositoryManager { return s.repos }
func (s *Store) Keyring() *cryptox.Keyring            { return s.keyring }

func (s *Store) Close() error { return s.db.Close() }

// WithTx runs fn in a transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error {
	return dbx.WithTx(ctx, s.db, nil, fn)
}

// Get returns the plaintext value stored under key. A missing key yields
// common.ErrorNotFound; a value that cannot be decrypted yields
// common.ErrStoreCorruption.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	rec, err := s.repos.KV(s.db).Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return rec.Value, nil
}

// Put writes value under key, sealing it when sensitive is set.
func (s *Store) Put(ctx context.Context, key string, value []byte, sensitive bool) error {
	if key == "" {
		return errors.New("empty key")
	}
	return s.repos.KV(s.db).Put(ctx, models.Record{
		Key:       key,
		Value:     value,
		Sensitive: sensitive,
		UpdatedAt: s.clock.Now(),
	})
}

// Query returns the records whose key starts with prefix.
func (s *Store) Query(ctx context.Context, prefix string) ([]*models.Record, error) {
	return s.repos.KV(s.db).Query(ctx, prefix)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.repos.KV(s.db).Delete(ctx, key)
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}
