// Package repomanager vends repository implementations bound to a database
// handle, so the same code path works against *sql.DB and *sql.Tx.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/tgfleet/internal/cryptox"
	"github.com/dmitrijs2005/tgfleet/internal/dbx"
	"github.com/dmitrijs2005/tgfleet/internal/engine/migrations"
	"github.com/dmitrijs2005/tgfleet/internal/engine/repositories/accounts"
	"github.com/dmitrijs2005/tgfleet/internal/engine/repositories/challenges"
	"github.com/dmitrijs2005/tgfleet/internal/engine/repositories/cursors"
	"github.com/dmitrijs2005/tgfleet/internal/engine/repositories/dedup"
	"github.com/dmitrijs2005/tgfleet/internal/engine/repositories/items"
	"github.com/dmitrijs2005/tgfleet/internal/engine/repositories/joins"
	"github.com/dmitrijs2005/tgfleet/internal/engine/repositories/kv"
	"github.com/dmitrijs2005/tgfleet/internal/engine/repositories/proxies"
	"github.com/dmitrijs2005/tgfleet/internal/engine/repositories/tasks"
)

type RepositoryManager interface {
	RunMigrations(ctx context.Context, db *sql.DB) error
	Dialect() dbx.Dialect
	Accounts(db dbx.DBTX) accounts.Repository
	Proxies(db dbx.DBTX) proxies.Repository
	Tasks(db dbx.DBTX) tasks.Repository
	Dedup(db dbx.DBTX) dedup.Repository
	Joins(db dbx.DBTX) joins.Repository
	Cursors(db dbx.DBTX) cursors.Repository
	Items(db dbx.DBTX) items.Repository
	Challenges(db dbx.DBTX) challenges.Repository
	KV(db dbx.DBTX) kv.Repository
}

// SQLRepositoryManager vends the SQL repositories for one dialect. Sensitive
// columns are sealed with sealer.
type SQLRepositoryManager struct {
	dialect dbx.Dialect
	sealer  cryptox.Sealer
}

func NewSQLRepositoryManager(d dbx.Dialect, s cryptox.Sealer) *SQLRepositoryManager {
	return &SQLRepositoryManager{dialect: d, sealer: s}
}

// migrateUp is a seam for testing migrations.Up.
var migrateUp = migrations.Up

// RunMigrations applies the embedded goose migrations of the dialect.
func (m *SQLRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	return migrateUp(ctx, db, m.dialect)
}

func (m *SQLRepositoryManager) Dialect() dbx.Dialect { return m.dialect }

func (m *SQLRepositoryManager) Accounts(db dbx.DBTX) accounts.Repository {
	return accounts.NewSQLRepository(db, m.dialect, m.sealer)
}

func (m *SQLRepositoryManager) Proxies(db dbx.DBTX) proxies.Repository {
	return proxies.NewSQLRepository(db, m.dialect, m.sealer)
}

func (m *SQLRepositoryManager) Tasks(db dbx.DBTX) tasks.Repository {
	return tasks.NewSQLRepository(db, m.dialect)
}

func (m *SQLRepositoryManager) Dedup(db dbx.DBTX) dedup.Repository {
	return dedup.NewSQLRepository(db, m.dialect)
}

func (m *SQLRepositoryManager) Joins(db dbx.DBTX) joins.Repository {
	return joins.NewSQLRepository(db, m.dialect)
}

func (m *SQLRepositoryManager) Cursors(db dbx.DBTX) cursors.Repository {
	return cursors.NewSQLRepository(db, m.dialect)
}

func (m *SQLRepositoryManager) Items(db dbx.DBTX) items.Repository {
	return items.NewSQLRepository(db, m.dialect)
}

func (m *SQLRepositoryManager) Challenges(db dbx.DBTX) challenges.Repository {
	return challenges.NewSQLRepository(db, m.dialect, m.sealer)
}

func (m *SQLRepositoryManager) KV(db dbx.DBTX) kv.Repository {
	return kv.NewSQLRepository(db, m.dialect, m.sealer)
}
