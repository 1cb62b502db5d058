package database

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// openTestDB opens a file-backed database in a temp directory and closes
// it when the test ends.
func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(context.Background(), Config{
		Path:        filepath.Join(t.TempDir(), "journal.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	return db
}

func pragma(t *testing.T, db *DB, name string) string {
	t.Helper()
	var value string
	if err := db.QueryRowContext(context.Background(), "PRAGMA "+name).Scan(&value); err != nil {
		t.Fatalf("PRAGMA %s: %v", name, err)
	}
	return value
}

func TestOpen(t *testing.T) {
	tests := []struct {
		name        string
		rel         string
		walMode     bool
		wantJournal string
	}{
		{"wal journal", "journal.db", true, "wal"},
		{"rollback journal", "journal.db", false, "delete"},
		{"nested directories", filepath.Join("data", "probe", "journal.db"), true, "wal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.rel)

			db, err := Open(context.Background(), Config{Path: path, WALMode: tt.walMode, BusyTimeout: 2})
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer db.Close() //nolint:errcheck // Test cleanup

			if db.Path() != path {
				t.Errorf("Path() = %q, want %q", db.Path(), path)
			}
			if got := pragma(t, db, "journal_mode"); got != tt.wantJournal {
				t.Errorf("journal_mode = %q, want %q", got, tt.wantJournal)
			}
			if got := pragma(t, db, "busy_timeout"); got != "2000" {
				t.Errorf("busy_timeout = %q, want 2000", got)
			}
			if got := pragma(t, db, "foreign_keys"); got != "1" {
				t.Errorf("foreign_keys = %q, want 1", got)
			}

			info, err := os.Stat(path)
			if err != nil {
				t.Fatalf("database file not created: %v", err)
			}
			if perm := info.Mode().Perm(); perm != filePermissions {
				t.Errorf("file mode = %o, want %o", perm, filePermissions)
			}
		})
	}
}

func TestOpenMemory(t *testing.T) {
	db, err := Open(context.Background(), Config{Path: ":memory:", WALMode: true})
	if err != nil {
		t.Fatalf("Open(:memory:) error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	if got := pragma(t, db, "journal_mode"); got != "memory" {
		t.Errorf("journal_mode = %q, want memory", got)
	}
}

func TestOpenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Open(ctx, Config{Path: filepath.Join(t.TempDir(), "journal.db")})
	if err == nil {
		t.Fatal("Open() with cancelled context succeeded")
	}
}

func TestOpenUnwritableDirectory(t *testing.T) {
	parent := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(parent, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	// A regular file where a directory is expected.
	_, err := Open(context.Background(), Config{Path: filepath.Join(parent, "journal.db")})
	if err == nil || !strings.Contains(err.Error(), "creating database directory") {
		t.Errorf("Open() error = %v, want directory error", err)
	}
}

func TestSingleConnection(t *testing.T) {
	db := openTestDB(t)

	if got := db.Stats().MaxOpenConnections; got != 1 {
		t.Errorf("MaxOpenConnections = %v, want 1", got)
	}
}

func TestClose(t *testing.T) {
	db, err := Open(context.Background(), Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if _, err := db.ExecContext(context.Background(), "SELECT 1"); err == nil {
		t.Error("ExecContext() after Close() succeeded")
	}

	var empty DB
	if err := empty.Close(); err != nil {
		t.Errorf("Close() on zero DB error = %v", err)
	}
}

func TestExecAndQuery(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.ExecContext(ctx, "CREATE TABLE runs (id TEXT PRIMARY KEY, client_id TEXT NOT NULL)"); err != nil {
		t.Fatalf("ExecContext() CREATE error = %v", err)
	}
	for _, id := range []string{"run-a", "run-b"} {
		if _, err := db.ExecContext(ctx, "INSERT INTO runs (id, client_id) VALUES (?, ?)", id, "publisher1"); err != nil {
			t.Fatalf("ExecContext() INSERT error = %v", err)
		}
	}

	rows, err := db.QueryContext(ctx, "SELECT id FROM runs ORDER BY id")
	if err != nil {
		t.Fatalf("QueryContext() error = %v", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			t.Fatalf("Scan() error = %v", err)
		}
		ids = append(ids, id)
	}
	rows.Close() //nolint:errcheck,gosec // Test cleanup
	if strings.Join(ids, ",") != "run-a,run-b" {
		t.Errorf("ids = %v", ids)
	}

	_, err = db.ExecContext(ctx, "INSERT INTO runs (id) VALUES ('run-c')")
	if err == nil || !strings.HasPrefix(err.Error(), "executing query:") {
		t.Errorf("ExecContext() constraint error = %v, want wrapped error", err)
	}
	_, err = db.QueryContext(ctx, "SELECT * FROM missing_table")
	if err == nil || !strings.HasPrefix(err.Error(), "running query:") {
		t.Errorf("QueryContext() error = %v, want wrapped error", err)
	}
}

func TestBeginTx(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.ExecContext(ctx, "CREATE TABLE events (value TEXT)"); err != nil {
		t.Fatalf("CREATE TABLE error = %v", err)
	}

	for _, commit := range []bool{true, false} {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			t.Fatalf("BeginTx() error = %v", err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO events (value) VALUES (?)", commit); err != nil {
			t.Fatalf("INSERT error = %v", err)
		}
		if commit {
			err = tx.Commit()
		} else {
			err = tx.Rollback()
		}
		if err != nil {
			t.Fatalf("finishing transaction (commit=%v): %v", commit, err)
		}
	}

	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&count); err != nil {
		t.Fatalf("SELECT error = %v", err)
	}
	if count != 1 {
		t.Errorf("rows = %d, want only the committed one", count)
	}
}
