package migration

import (
	"context"
	"time"
)

// Migration is one versioned schema change loaded from an embedded file.
type Migration struct {
	Version     int    // Numeric prefix of the file name
	Description string // Human readable part of the file name
	Name        string // File name inside the source
	SQL         string // Statements to execute
	Checksum    string // blake2b-256 of SQL, hex encoded
}

// Executor runs migrations against one database flavour.
type Executor interface {
	// InitializeVersionTable creates schema_migrations if it does not exist.
	InitializeVersionTable(ctx context.Context) error

	// ExecuteMigration runs all statements of a migration in one transaction
	// and records it in the same transaction.
	ExecuteMigration(ctx context.Context, migration Migration, statements []string) error

	// AppliedMigrations lists recorded migrations ordered by version.
	AppliedMigrations(ctx context.Context) ([]AppliedMigration, error)
}

// AppliedMigration is a row of schema_migrations.
type AppliedMigration struct {
	Version   int
	Checksum  string
	AppliedAt time.Time
}

// Status summarises the schema state.
type Status struct {
	CurrentVersion int
	Applied        []AppliedMigration
	Pending        []Migration
}
