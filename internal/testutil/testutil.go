package testutil

import (
	"path/filepath"
	"testing"

	"github.com/p-arndt/texcompile/internal/config"
	"github.com/p-arndt/texcompile/internal/metastore"
)

// TestConfig returns a Config with sensible test defaults, rooted at a
// fresh temp directory so parallel test binaries never collide on a
// shared working directory or SQLite file.
func TestConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("failed to load default config: %v", err)
	}
	cfg.WorkingDirectory = filepath.Join(dir, "working")
	cfg.MetastoreBackend = "sqlite"
	cfg.SQLitePath = filepath.Join(dir, "meta.db")
	cfg.SessionTTLSec = 300
	cfg.InstanceKey = "texcompile-test"
	return cfg
}

// NewTestMetaStore opens a throwaway SQLite-backed MetaStore for testing,
// matching the metastore.NewSQLite constructor this package's config points at
// by default.
func NewTestMetaStore(t *testing.T) metastore.Store {
	t.Helper()
	st, err := metastore.NewSQLite(filepath.Join(t.TempDir(), "meta.db"))
	if err != nil {
		t.Fatalf("failed to create test metastore: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}
