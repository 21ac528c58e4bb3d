package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nugget/homelab-assistant/internal/tools"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(context.Background(), openTestDB(t))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestNewStore_CreatesTables(t *testing.T) {
	s := setupTestStore(t)

	for _, table := range []string{"users", "sessions", "configuration", "enabled_tools"} {
		var name string
		err := s.db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s: %v", table, err)
		}
	}
	v, err := s.GetConfig(context.Background(), "schema_version")
	if err != nil || v != SchemaVersion {
		t.Errorf("schema_version = %q, %v", v, err)
	}
}

func TestNewStore_SeedsDefaultTools(t *testing.T) {
	s := setupTestStore(t)

	set, err := s.EnabledTools(context.Background())
	if err != nil {
		t.Fatalf("EnabledTools() error: %v", err)
	}
	if set.Len() != 2 || !set.Contains("get_system_resources") || !set.Contains("list_containers") {
		t.Errorf("enabled = %v", set.Names())
	}
}

func TestNewStore_Idempotent(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	s, err := NewStore(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetToolEnabled(ctx, "list_containers", false); err != nil {
		t.Fatal(err)
	}

	s2, err := NewStore(ctx, db)
	if err != nil {
		t.Fatalf("second NewStore() error: %v", err)
	}
	set, _ := s2.EnabledTools(ctx)
	if set.Contains("list_containers") {
		t.Error("re-seeding re-enabled a disabled tool")
	}
}

func TestRecordSession(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	if _, err := s.GetSession(ctx, "conv-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetSession() before record = %v, want ErrNotFound", err)
	}

	if err := s.RecordSession(ctx, "conv-1"); err != nil {
		t.Fatal(err)
	}
	first, err := s.GetSession(ctx, "conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if first.MessageCount != 1 {
		t.Errorf("MessageCount = %d, want 1", first.MessageCount)
	}
	if first.CreatedAt.IsZero() || first.LastActiveAt.IsZero() {
		t.Errorf("timestamps not parsed: %+v", first)
	}

	s.RecordSession(ctx, "conv-1")
	s.RecordSession(ctx, "conv-1")
	third, _ := s.GetSession(ctx, "conv-1")
	if third.MessageCount != 3 {
		t.Errorf("MessageCount = %d, want 3", third.MessageCount)
	}
	if !third.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt changed: %v -> %v", first.CreatedAt, third.CreatedAt)
	}
	if third.LastActiveAt.Before(first.LastActiveAt) {
		t.Errorf("LastActiveAt went backwards")
	}
}

func TestRecordSession_Independent(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	s.RecordSession(ctx, "a")
	s.RecordSession(ctx, "a")
	s.RecordSession(ctx, "b")

	a, _ := s.GetSession(ctx, "a")
	b, _ := s.GetSession(ctx, "b")
	if a.MessageCount != 2 || b.MessageCount != 1 {
		t.Errorf("counts a=%d b=%d, want 2 and 1", a.MessageCount, b.MessageCount)
	}
}

func TestSetToolEnabled(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	if err := s.SetToolEnabled(ctx, "list_containers", false); err != nil {
		t.Fatal(err)
	}
	set, _ := s.EnabledTools(ctx)
	if set.Contains("list_containers") || !set.Contains("get_system_resources") {
		t.Errorf("after disable: %v", set.Names())
	}

	if err := s.SetToolEnabled(ctx, "list_containers", true); err != nil {
		t.Fatal(err)
	}
	set, _ = s.EnabledTools(ctx)
	if !set.Contains("list_containers") {
		t.Errorf("after enable: %v", set.Names())
	}
}

func TestSetToolEnabled_AllDisabled(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	for _, n := range tools.Names() {
		if err := s.SetToolEnabled(ctx, n, false); err != nil {
			t.Fatal(err)
		}
	}
	set, err := s.EnabledTools(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if set.Len() != 0 {
		t.Errorf("enabled = %v, want none", set.Names())
	}
}

func TestSetToolEnabled_Unknown(t *testing.T) {
	s := setupTestStore(t)
	err := s.SetToolEnabled(context.Background(), "restart_container", true)
	if !errors.Is(err, tools.ErrUnknownTool) {
		t.Errorf("error = %v, want ErrUnknownTool", err)
	}
}

func TestListTools(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	s.SetToolEnabled(ctx, "get_system_resources", false)

	list, err := s.ListTools(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[0].Name != "get_system_resources" || list[0].Enabled {
		t.Errorf("list[0] = %+v", list[0])
	}
	if list[1].Name != "list_containers" || !list[1].Enabled {
		t.Errorf("list[1] = %+v", list[1])
	}
}

func TestConfig(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	if v, err := s.GetConfig(ctx, "missing"); err != nil || v != "" {
		t.Errorf("GetConfig(missing) = %q, %v", v, err)
	}
	if err := s.SetConfig(ctx, "greeting", "hello"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetConfig(ctx, "greeting", "hi"); err != nil {
		t.Fatal(err)
	}
	if v, _ := s.GetConfig(ctx, "greeting"); v != "hi" {
		t.Errorf("GetConfig = %q, want hi", v)
	}
}

func TestOpen_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "db.sqlite3")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()
	if _, err := NewStore(context.Background(), db); err != nil {
		t.Errorf("NewStore() on opened db: %v", err)
	}
}

func TestInstanceID_Stable(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	first, err := s.InstanceID(ctx)
	if err != nil {
		t.Fatalf("InstanceID() error: %v", err)
	}
	if _, err := uuid.Parse(first); err != nil {
		t.Errorf("InstanceID() = %q is not a UUID: %v", first, err)
	}
	second, _ := s.InstanceID(ctx)
	if second != first {
		t.Errorf("second = %q, want %q (should be stable)", second, first)
	}
}
