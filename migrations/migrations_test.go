package migrations

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRunCreatesSnapshots(t *testing.T) {
	db := openDB(t)
	if err := Run(db); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO snapshots (created_at, subscribers, payload) VALUES ('x', 0, '[]')`); err != nil {
		t.Fatalf("insert into snapshots: %v", err)
	}
}

func TestCommand(t *testing.T) {
	tests := []struct {
		name      string
		cmds      []string
		wantTable bool
		wantErr   bool
	}{
		{name: "up", cmds: []string{"up"}, wantTable: true},
		{name: "up then down", cmds: []string{"up", "down"}},
		{name: "up-one", cmds: []string{"up-one"}, wantTable: true},
		{name: "reset", cmds: []string{"up", "reset"}},
		{name: "version", cmds: []string{"up", "version"}, wantTable: true},
		{name: "unknown", cmds: []string{"sideways"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := openDB(t)
			var err error
			for _, c := range tt.cmds {
				if err = Command(db, c); err != nil {
					break
				}
			}
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			var n int
			err = db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'snapshots'`).Scan(&n)
			if err != nil {
				t.Fatalf("query: %v", err)
			}
			if got := n == 1; got != tt.wantTable {
				t.Errorf("snapshots table present = %v, want %v", got, tt.wantTable)
			}
		})
	}
}
