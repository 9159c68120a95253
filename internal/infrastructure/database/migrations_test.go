package database

import (
	"context"
	"embed"
	"testing"
)

//go:embed testdata/*.sql
var testMigrationsFS embed.FS

// useTestMigrations points the package at testdata for one test.
func useTestMigrations(t *testing.T) {
	t.Helper()
	origFS, origDir := MigrationsFS, MigrationsDir
	t.Cleanup(func() {
		MigrationsFS, MigrationsDir = origFS, origDir
	})
	MigrationsFS = testMigrationsFS
	MigrationsDir = "testdata"
}

func TestMigrate(t *testing.T) {
	useTestMigrations(t)
	ctx := context.Background()
	db := openTestDB(t)

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	var name string
	if err := db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='index' AND name='idx_sample_label'",
	).Scan(&name); err != nil {
		t.Fatalf("index not created: %v", err)
	}

	applied, pending, err := db.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(applied) != 2 {
		t.Errorf("applied = %d, want 2", len(applied))
	}
	if len(pending) != 0 {
		t.Errorf("pending = %d, want 0", len(pending))
	}

	// Idempotent.
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrateDown(t *testing.T) {
	useTestMigrations(t)
	ctx := context.Background()
	db := openTestDB(t)

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}

	applied, pending, err := db.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(applied) != 1 || applied[0].Version != "20260101_000000" {
		t.Errorf("applied = %+v, want only 20260101_000000", applied)
	}
	if len(pending) != 1 || pending[0].Name != "sample_index" {
		t.Errorf("pending = %+v, want sample_index", pending)
	}
}

func TestMigrateNoMigrations(t *testing.T) {
	origFS := MigrationsFS
	t.Cleanup(func() { MigrationsFS = origFS })
	MigrationsFS = embed.FS{}

	db := openTestDB(t)
	if err := db.Migrate(context.Background()); err != nil {
		t.Errorf("Migrate() with no migrations error = %v", err)
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantName    string
		wantUp      bool
		wantOK      bool
	}{
		{"20260301_120000_identity_schema.up.sql", "20260301_120000", "identity_schema", true, true},
		{"20260301_120000_identity_schema.down.sql", "20260301_120000", "identity_schema", false, true},
		{"20260301_120000.up.sql", "20260301_120000", "20260301_120000", true, true},
		{"README.md", "", "", false, false},
		{"20260301_120000_x.sql", "", "", false, false},
		{"nounderscore.up.sql", "", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, up, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if version != tt.wantVersion || name != tt.wantName || up != tt.wantUp {
				t.Errorf("got (%q, %q, %v), want (%q, %q, %v)",
					version, name, up, tt.wantVersion, tt.wantName, tt.wantUp)
			}
		})
	}
}
