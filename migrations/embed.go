// Package migrations embeds the goose SQL migrations so that binaries and
// integration tests can apply them without a checkout on disk.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

// FS holds every *.sql migration, applied in file-name order.
//
//go:embed *.sql
var FS embed.FS

// Up applies all pending migrations to db.
func Up(ctx context.Context, db *sql.DB) error {
	provider, err := goose.NewProvider(goose.DialectPostgres, db, FS)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("migrations: up: %w", err)
	}
	return nil
}
