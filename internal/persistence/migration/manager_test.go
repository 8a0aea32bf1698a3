package migration

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"
	"time"
)

type fakeExecutor struct {
	applied  []AppliedMigration
	executed []int
	failOn   int
}

func (f *fakeExecutor) InitializeVersionTable(context.Context) error { return nil }

func (f *fakeExecutor) ExecuteMigration(_ context.Context, m Migration, statements []string) error {
	if m.Version == f.failOn {
		return errors.New("boom")
	}
	if len(statements) == 0 {
		return errors.New("no statements")
	}
	f.executed = append(f.executed, m.Version)
	f.applied = append(f.applied, AppliedMigration{Version: m.Version, Checksum: m.Checksum, AppliedAt: time.Now()})
	return nil
}

func (f *fakeExecutor) AppliedMigrations(context.Context) ([]AppliedMigration, error) {
	return append([]AppliedMigration(nil), f.applied...), nil
}

func testSource() fstest.MapFS {
	return fstest.MapFS{
		"migrations/002_add_index.sql":      {Data: []byte("CREATE INDEX idx ON t (a);")},
		"migrations/001_initial_schema.sql": {Data: []byte("-- base\nCREATE TABLE t (a TEXT);\nCREATE TABLE u (b TEXT);")},
		"migrations/README.md":              {Data: []byte("ignored")},
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	migrations, err := Load(testSource(), "migrations")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[1].Version != 2 {
		t.Fatalf("unexpected order: %d, %d", migrations[0].Version, migrations[1].Version)
	}
	if migrations[0].Description != "initial schema" {
		t.Fatalf("unexpected description %q", migrations[0].Description)
	}
	if migrations[0].Checksum != Checksum(migrations[0].SQL) || len(migrations[0].Checksum) != 64 {
		t.Fatalf("unexpected checksum %q", migrations[0].Checksum)
	}
}

func TestLoadRejectsBadNames(t *testing.T) {
	t.Parallel()

	cases := map[string]fstest.MapFS{
		"no version": {"m/initial.sql": {Data: []byte("SELECT 1;")}},
		"duplicate": {
			"m/001_a.sql": {Data: []byte("SELECT 1;")},
			"m/01_b.sql":  {Data: []byte("SELECT 1;")},
		},
	}
	for name, fsys := range cases {
		fsys := fsys
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, err := Load(fsys, "m"); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestStatements(t *testing.T) {
	t.Parallel()

	got := Statements("-- comment\nCREATE TABLE a (x INT);\n\n-- another\nCREATE TABLE b (y INT);\n")
	if len(got) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(got), got)
	}
	if got[0] != "CREATE TABLE a (x INT)" {
		t.Fatalf("unexpected first statement %q", got[0])
	}
}

func TestManagerRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	migrations, err := Load(testSource(), "migrations")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	t.Run("applies pending in order and is idempotent", func(t *testing.T) {
		t.Parallel()

		exec := &fakeExecutor{}
		manager := NewManager(migrations, exec, nil)
		applied, err := manager.Run(ctx)
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
		if applied != 2 || len(exec.executed) != 2 || exec.executed[0] != 1 {
			t.Fatalf("unexpected execution %v", exec.executed)
		}

		applied, err = manager.Run(ctx)
		if err != nil || applied != 0 {
			t.Fatalf("second run applied %d, err %v", applied, err)
		}

		status, err := manager.Status(ctx)
		if err != nil {
			t.Fatalf("Status returned error: %v", err)
		}
		if status.CurrentVersion != 2 || len(status.Pending) != 0 {
			t.Fatalf("unexpected status %+v", status)
		}
	})

	t.Run("detects edited migrations", func(t *testing.T) {
		t.Parallel()

		exec := &fakeExecutor{applied: []AppliedMigration{{Version: 1, Checksum: "stale"}}}
		_, err := NewManager(migrations, exec, nil).Run(ctx)
		if !errors.Is(err, ErrChecksumMismatch) {
			t.Fatalf("expected ErrChecksumMismatch, got %v", err)
		}
	})

	t.Run("detects unknown applied versions", func(t *testing.T) {
		t.Parallel()

		exec := &fakeExecutor{applied: []AppliedMigration{{Version: 9}}}
		_, err := NewManager(migrations, exec, nil).Run(ctx)
		if !errors.Is(err, ErrUnknownVersion) {
			t.Fatalf("expected ErrUnknownVersion, got %v", err)
		}
	})

	t.Run("stops at first failure", func(t *testing.T) {
		t.Parallel()

		exec := &fakeExecutor{failOn: 2}
		applied, err := NewManager(migrations, exec, nil).Run(ctx)
		if !errors.Is(err, ErrMigrationFailed) {
			t.Fatalf("expected ErrMigrationFailed, got %v", err)
		}
		if applied != 1 {
			t.Fatalf("expected 1 applied before failure, got %d", applied)
		}
	})

	t.Run("rejects gaps", func(t *testing.T) {
		t.Parallel()

		gapped := []Migration{migrations[0], {Version: 3, Name: "003_x.sql", SQL: "SELECT 1"}}
		_, err := NewManager(gapped, &fakeExecutor{}, nil).Run(ctx)
		if !errors.Is(err, ErrVersionGap) {
			t.Fatalf("expected ErrVersionGap, got %v", err)
		}
	})
}
