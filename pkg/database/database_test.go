package database

import (
	"gradeglide_backend/internal/config"
	"testing"
)

func TestSQLiteDSN(t *testing.T) {
	if got := SQLiteDSN("grade.db"); got != "grade.db?_foreign_keys=on&_busy_timeout=5000" {
		t.Fatalf("plain path: got %q", got)
	}
	if got := SQLiteDSN("file:x?mode=memory"); got != "file:x?mode=memory&_foreign_keys=on&_busy_timeout=5000" {
		t.Fatalf("path with query: got %q", got)
	}
}

func TestDialector(t *testing.T) {
	for driver, name := range map[string]string{"mysql": "mysql", "postgres": "postgres", "sqlite": "sqlite", "": "sqlite"} {
		d, err := Dialector(&config.DatabaseConfig{Driver: driver, Path: "x.db"})
		if err != nil {
			t.Fatalf("%q: %v", driver, err)
		}
		if d.Name() != name {
			t.Fatalf("%q: want dialect %s got %s", driver, name, d.Name())
		}
	}
	if _, err := Dialector(&config.DatabaseConfig{Driver: "oracle"}); err == nil {
		t.Fatalf("unknown driver should fail")
	}
}
