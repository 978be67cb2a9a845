package migrate

import (
	"io/fs"
	"os"
	"strings"
	"testing"
	"testing/fstest"
	"time"
)

func TestEmbeddedMigrationsValidate(t *testing.T) {
	if err := Validate(Embedded()); err != nil {
		t.Fatalf("embedded migrations should validate: %v", err)
	}
	files, err := fs.Glob(Embedded(), "*.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(files) != 8 {
		t.Fatalf("expected 8 embedded migrations, got %d", len(files))
	}
}

func TestValidateRejectsBadNames(t *testing.T) {
	fsys := fstest.MapFS{"create_orders.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")}}
	err := Validate(fsys)
	if err == nil || !strings.Contains(err.Error(), "invalid migration filename") {
		t.Fatalf("expected filename error, got %v", err)
	}
}

func TestValidateRejectsDuplicateVersions(t *testing.T) {
	body := []byte("-- +goose Up\n-- +goose Down\n")
	fsys := fstest.MapFS{
		"20260101000000_a.sql": {Data: body},
		"20260101000000_b.sql": {Data: body},
	}
	if err := Validate(fsys); err == nil || !strings.Contains(err.Error(), "duplicate migration version") {
		t.Fatalf("expected duplicate version error, got %v", err)
	}
}

func TestValidateRequiresDownSection(t *testing.T) {
	fsys := fstest.MapFS{"20260101000000_x.sql": {Data: []byte("-- +goose Up\nSELECT 1;\n")}}
	if err := Validate(fsys); err == nil {
		t.Fatalf("expected missing down section error")
	}
}

func TestCreateSQLMigrationSlugsName(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)
	path, err := CreateSQLMigration(dir, "Add Orders Index!", now)
	if err != nil {
		t.Fatalf("create migration: %v", err)
	}
	if !strings.HasSuffix(path, "20260504030201_add_orders_index.sql") {
		t.Fatalf("unexpected migration path %s", path)
	}
	if err := Validate(os.DirFS(dir)); err != nil {
		t.Fatalf("generated migration should validate: %v", err)
	}
	if _, err := CreateSQLMigration(dir, "add orders index", now); err == nil {
		t.Fatalf("expected existing file to be refused")
	}
	if _, err := CreateSQLMigration(dir, "!!!", now); err == nil {
		t.Fatalf("expected unusable name to fail")
	}
}
