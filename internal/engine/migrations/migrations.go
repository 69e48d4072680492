// Package migrations embeds the goose schema migrations for every supported
// SQL dialect.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/dmitrijs2005/tgfleet/internal/dbx"
	"github.com/pressly/goose/v3"
)

//go:embed sqlite/*.sql postgres/*.sql
var Migrations embed.FS

// For returns the migration directory of the given dialect.
func For(d dbx.Dialect) (fs.FS, error) {
	if d == dbx.Postgres {
		return fs.Sub(Migrations, "postgres")
	}
	return fs.Sub(Migrations, "sqlite")
}

// Up applies all pending migrations for the dialect.
func Up(ctx context.Context, db *sql.DB, d dbx.Dialect) error {
	fsys, err := For(d)
	if err != nil {
		return err
	}
	p, err := goose.NewProvider(goose.Dialect(d.GooseDialect()), db, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	if _, err := p.Up(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
