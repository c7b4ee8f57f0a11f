package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/matheus3301/chatsync/internal/store/migrations"
)

// SchemaResult describes what happened during schema initialization.
type SchemaResult struct {
	Version uint
	Dirty   bool
	Changed bool
}

// InitSchema brings the schema up to the latest version. Migrations are
// additive (CREATE ... IF NOT EXISTS) so repeated and concurrent calls are
// safe; in-process callers are serialized and the stored version is only
// advanced when below target.
func (db *DB) InitSchema(ctx context.Context) (*SchemaResult, error) {
	db.schemaMu.Lock()
	defer db.schemaMu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}

	err = m.Up()
	changed := true
	if errors.Is(err, migrate.ErrNoChange) {
		changed = false
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("migration up: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return nil, fmt.Errorf("migration version: %w", err)
	}
	return &SchemaResult{
		Version: version,
		Dirty:   dirty,
		Changed: changed,
	}, nil
}
