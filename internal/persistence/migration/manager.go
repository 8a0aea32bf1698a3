package migration

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Manager applies embedded migrations through an Executor.
type Manager struct {
	migrations []Migration
	executor   Executor
	logger     *slog.Logger
}

// NewManager returns a manager over an already loaded migration set.
func NewManager(migrations []Migration, executor Executor, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		migrations: migrations,
		executor:   executor,
		logger:     logger.With("component", "migration"),
	}
}

// Run applies every pending migration in version order and returns how many
// were applied. Previously applied migrations must still match their checksum.
func (m *Manager) Run(ctx context.Context) (int, error) {
	started := time.Now()
	pending, err := m.Pending(ctx)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		m.logger.InfoContext(ctx, "schema up to date")
		return 0, nil
	}

	for i, migration := range pending {
		stepStarted := time.Now()
		m.logger.InfoContext(ctx, "applying migration",
			"version", migration.Version,
			"description", migration.Description,
			"step", i+1,
			"total", len(pending),
		)
		if err := m.executor.ExecuteMigration(ctx, migration, Statements(migration.SQL)); err != nil {
			return i, newMigrationError(migration, "execute", fmt.Errorf("%w: %v", ErrMigrationFailed, err))
		}
		m.logger.DebugContext(ctx, "migration applied", "version", migration.Version, "duration", time.Since(stepStarted))
	}

	m.logger.InfoContext(ctx, "migrations completed", "applied", len(pending), "duration", time.Since(started))
	return len(pending), nil
}

// Pending returns the migrations not yet recorded, after validating the
// sequence and the checksums of applied ones.
func (m *Manager) Pending(ctx context.Context) ([]Migration, error) {
	if err := m.executor.InitializeVersionTable(ctx); err != nil {
		return nil, fmt.Errorf("initialize version table: %w", err)
	}
	applied, err := m.executor.AppliedMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	if err := m.validate(applied); err != nil {
		return nil, err
	}

	done := make(map[int]struct{}, len(applied))
	for _, a := range applied {
		done[a.Version] = struct{}{}
	}
	var pending []Migration
	for _, migration := range m.migrations {
		if _, ok := done[migration.Version]; !ok {
			pending = append(pending, migration)
		}
	}
	return pending, nil
}

// Status reports applied and pending migrations.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	pending, err := m.Pending(ctx)
	if err != nil {
		return Status{}, err
	}
	applied, err := m.executor.AppliedMigrations(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("list applied migrations: %w", err)
	}
	status := Status{Applied: applied, Pending: pending}
	for _, a := range applied {
		if a.Version > status.CurrentVersion {
			status.CurrentVersion = a.Version
		}
	}
	return status, nil
}

func (m *Manager) validate(applied []AppliedMigration) error {
	byVersion := make(map[int]Migration, len(m.migrations))
	for i, migration := range m.migrations {
		if i > 0 && migration.Version != m.migrations[i-1].Version+1 {
			return newMigrationError(migration, "validate sequence",
				fmt.Errorf("%w: expected %03d", ErrVersionGap, m.migrations[i-1].Version+1))
		}
		byVersion[migration.Version] = migration
	}

	for _, a := range applied {
		migration, ok := byVersion[a.Version]
		if !ok {
			return &MigrationError{Version: a.Version, Operation: "validate applied", Err: ErrUnknownVersion}
		}
		if a.Checksum != "" && a.Checksum != migration.Checksum {
			return newMigrationError(migration, "verify checksum", ErrChecksumMismatch)
		}
	}
	return nil
}
