package migrate_test

import (
	"testing"

	"axees/internal/db"
	"axees/internal/migrate"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("first run: %v", err)
	}
	// a second run on an up-to-date database applies nothing
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("second run: %v", err)
	}

	var version int
	if err := conn.QueryRow(`SELECT version FROM schema_version`).Scan(&version); err != nil {
		t.Fatalf("read version: %v", err)
	}
	if version < 1 {
		t.Fatalf("expected schema version >= 1, got %d", version)
	}
	// the schema is usable: offers exists and is empty
	var count int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM offers`).Scan(&count); err != nil {
		t.Fatalf("query offers: %v", err)
	}
	if count != 0 {
		t.Fatalf("fresh database should have no offers, got %d", count)
	}
}
