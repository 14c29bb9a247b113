package database

import (
	"context"
	"embed"
	"testing"
	"testing/fstest"
	"time"
)

const testMigrationsDir = "testdata"

//go:embed testdata/*.sql
var testMigrationsFS embed.FS

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var count int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&count)
	if err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	return count == 1
}

func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.Migrate(ctx, testMigrationsFS, testMigrationsDir); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "test_readings") {
		t.Fatal("table test_readings not created")
	}

	applied, pending, err := db.MigrationStatus(ctx, testMigrationsFS, testMigrationsDir)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 1 || len(pending) != 0 {
		t.Errorf("applied=%d pending=%d, want 1/0", len(applied), len(pending))
	}
	if applied[0].AppliedAt.IsZero() {
		t.Error("AppliedAt not recorded")
	}

	// Idempotent.
	if err := db.Migrate(ctx, testMigrationsFS, testMigrationsDir); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestRollback(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx, testMigrationsFS, testMigrationsDir); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.Rollback(ctx, testMigrationsFS, testMigrationsDir); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}

	if tableExists(t, db, "test_readings") {
		t.Error("table test_readings should have been dropped")
	}
	applied, _, err := db.MigrationStatus(ctx, testMigrationsFS, testMigrationsDir)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("applied = %d after rollback, want 0", len(applied))
	}

	// Nothing left to roll back.
	if err := db.Rollback(ctx, testMigrationsFS, testMigrationsDir); err != nil {
		t.Errorf("Rollback() on empty history error = %v", err)
	}
}

func TestMigrateOrderAndFailure(t *testing.T) {
	fsys := fstest.MapFS{
		"m/20260102_000000_second.up.sql": {Data: []byte("ALTER TABLE a ADD COLUMN note TEXT;")},
		"m/20260101_000000_first.up.sql":  {Data: []byte("CREATE TABLE a (id INTEGER);")},
		"m/20260103_000000_broken.up.sql": {Data: []byte("THIS IS NOT SQL;")},
		"m/readme.txt":                    {Data: []byte("ignored")},
	}

	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx, fsys, "m"); err == nil {
		t.Fatal("Migrate() should fail on the broken migration")
	}

	applied, pending, err := db.MigrationStatus(ctx, fsys, "m")
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 2 {
		t.Errorf("applied = %d, want the two good migrations", len(applied))
	}
	if len(pending) != 1 || pending[0].Name != "broken" {
		t.Errorf("pending = %+v, want only broken", pending)
	}
}

func TestMigrateNoMigrations(t *testing.T) {
	db := openTestDB(t)

	if err := db.Migrate(context.Background(), nil, "."); err != nil {
		t.Fatalf("Migrate(nil fs) error = %v", err)
	}
	if err := db.Migrate(context.Background(), fstest.MapFS{}, "missing"); err != nil {
		t.Fatalf("Migrate(missing dir) error = %v", err)
	}
}

func TestLoadMigrationsDownWithoutUp(t *testing.T) {
	fsys := fstest.MapFS{
		"20260101_000000_orphan.down.sql": {Data: []byte("DROP TABLE x;")},
	}
	if _, err := LoadMigrations(fsys, "."); err == nil {
		t.Error("LoadMigrations() should reject a down file without an up file")
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		wantVersion string
		wantIsUp    bool
		wantOk      bool
	}{
		{"valid up", "20261019_120000_last_values.up.sql", "20261019_120000", true, true},
		{"valid down", "20261019_120000_last_values.down.sql", "20261019_120000", false, true},
		{"not sql", "readme.txt", "", false, false},
		{"missing direction", "20261019_120000_last_values.sql", "", false, false},
		{"invalid format", "invalid.up.sql", "", false, false},
		{"short version", "2026_12_x.up.sql", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, isUp, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOk {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOk)
			}
			if ok && (version != tt.wantVersion || isUp != tt.wantIsUp) {
				t.Errorf("got (%q, %v), want (%q, %v)", version, isUp, tt.wantVersion, tt.wantIsUp)
			}
		})
	}
}

func TestExtractMigrationName(t *testing.T) {
	tests := map[string]string{
		"20261019_120000_last_values.up.sql":         "last_values",
		"20261019_120100_connection_events.down.sql": "connection_events",
		"oddname.up.sql":                             "oddname",
	}
	for filename, want := range tests {
		if got := extractMigrationName(filename); got != want {
			t.Errorf("extractMigrationName(%q) = %q, want %q", filename, got, want)
		}
	}
}
