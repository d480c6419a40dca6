package core

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"bloodbank/internal/infra/persistence/memory"
	"bloodbank/internal/infra/persistence/sqlite"
)

func TestOpenPersistentStoreMemory(t *testing.T) {
	store, err := OpenPersistentStore(StorageConfig{Driver: StorageMemory}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := store.(*memory.Store); !ok {
		t.Fatalf("expected *memory.Store, got %T", store)
	}
}

func TestOpenPersistentStoreDefaultsToSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bank.db")
	store, err := OpenPersistentStore(StorageConfig{SQLitePath: path}, NewDefaultRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	s, ok := store.(*sqlite.Store)
	if !ok {
		t.Fatalf("expected *sqlite.Store, got %T", store)
	}
	defer func() { _ = s.Close() }()
	if s.Path() != path {
		t.Fatalf("expected path %s, got %s", path, s.Path())
	}

	svc := NewService(store)
	donor := registerDonor(t, svc, "O-")
	reopened, err := OpenPersistentStore(StorageConfig{Driver: StorageSQLite, SQLitePath: path}, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.(*sqlite.Store).Close() }()
	if _, err := NewService(reopened).GetPatient(context.Background(), donor.ID); err != nil {
		t.Fatalf("expected patient persisted across handles: %v", err)
	}
}

func TestOpenPersistentStoreUnknownDriver(t *testing.T) {
	_, err := OpenPersistentStore(StorageConfig{Driver: "oracle"}, nil)
	if err == nil || !strings.Contains(err.Error(), "unknown storage driver") {
		t.Fatalf("expected unknown driver error, got %v", err)
	}
}
