// Package db opens the workspace-local SQLite database backing the
// marketplace. All state lives in a single file under the workspace's
// .axees directory.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const (
	dataDir = ".axees"
	dbFile  = "axees.db"
)

type Config struct {
	Workspace string
}

// EnsureWorkspace creates the data directory under the workspace if it does
// not exist yet and returns its path.
func EnsureWorkspace(workspace string) (string, error) {
	dir := filepath.Join(workspace, dataDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	return dir, nil
}

// Open connects to the workspace database, creating the data directory on
// first use. Foreign keys are enabled so deleting an offer cascades to its
// attachments, draft and deal.
func Open(cfg Config) (*sql.DB, error) {
	workspace := cfg.Workspace
	if workspace == "" {
		workspace = "."
	}
	dir, err := EnsureWorkspace(workspace)
	if err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)", filepath.Join(dir, dbFile))
	return sql.Open("sqlite", dsn)
}
