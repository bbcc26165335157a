package db

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpenGormSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "foursight.db")
	db, err := OpenGorm("sqlite", path)
	if err != nil {
		t.Fatalf("open gorm sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	if err := sqlDB.Close(); err != nil {
		t.Fatalf("close db: %v", err)
	}
}

func TestOpenGormInvalidDriver(t *testing.T) {
	if _, err := OpenGorm("mongo", "x"); err == nil {
		t.Fatalf("expected invalid driver error")
	}
}

func TestOpenGormPostgresRequiresDSN(t *testing.T) {
	if _, err := OpenGorm("postgres", "  "); err == nil {
		t.Fatalf("expected missing dsn error")
	}
}

func TestOpenGormSQLiteCreatesParentDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "state", "foursight.db")

	db, err := OpenGorm("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("open gorm sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	if _, err := os.Stat(filepath.Dir(dbPath)); err != nil {
		t.Fatalf("expected parent dir to be created: %v", err)
	}
}

func TestSQLiteFilePath(t *testing.T) {
	cases := []struct {
		dsn  string
		want string
		ok   bool
	}{
		{dsn: ":memory:", ok: false},
		{dsn: "file::memory:?cache=shared", ok: false},
		{dsn: "file:/tmp/x.db?mode=memory", ok: false},
		{dsn: "data/foursight.db?_pragma=busy_timeout(5000)", want: "data/foursight.db", ok: true},
		{dsn: "file:/var/lib/foursight.db?cache=shared", want: "/var/lib/foursight.db", ok: true},
	}
	for _, tc := range cases {
		got, ok := sqliteFilePath(tc.dsn)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("sqliteFilePath(%q) = %q,%v want %q,%v", tc.dsn, got, ok, tc.want, tc.ok)
		}
	}
}
