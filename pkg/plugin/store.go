// Package plugin holds the contracts shared between keepalive modules and the
// infrastructure that hosts them.
package plugin

import (
	"context"
	"database/sql"
)

// Migration is a single, versioned schema change owned by one module.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// Store is the persistence surface handed to modules.
type Store interface {
	// DB returns the shared database handle.
	DB() *sql.DB

	// Tx runs fn inside a transaction.
	Tx(ctx context.Context, fn func(tx *sql.Tx) error) error

	// Migrate applies the module's pending migrations in order.
	Migrate(ctx context.Context, module string, migrations []Migration) error
}
