package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"advert_bot/migrations"
)

const timeLayout = "2006-01-02T15:04:05.000Z"

// SnapshotInfo describes one stored snapshot.
type SnapshotInfo struct {
	ID          int64
	CreatedAt   time.Time
	Subscribers int
	Size        int
}

// SQLiteBackend keeps a bounded history of snapshots in a SQLite database.
type SQLiteBackend struct {
	db   *sql.DB
	keep int
	now  func() time.Time
}

// NewSQLite opens a SQLite database at dsn, runs pending migrations and
// keeps at most keep snapshots (all of them if keep <= 0).
func NewSQLite(dsn string, keep int) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// An in-memory database exists per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteBackend{db: db, keep: keep, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

// Load returns the most recent snapshot.
func (b *SQLiteBackend) Load(ctx context.Context) ([]byte, error) {
	var payload []byte
	err := b.db.QueryRowContext(ctx,
		`SELECT payload FROM snapshots ORDER BY id DESC LIMIT 1`,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return payload, nil
}

// Get returns the snapshot with the given id.
func (b *SQLiteBackend) Get(ctx context.Context, id int64) ([]byte, error) {
	var payload []byte
	err := b.db.QueryRowContext(ctx, `SELECT payload FROM snapshots WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot %d: %w", id, ErrNoSnapshot)
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot %d: %w", id, err)
	}
	return payload, nil
}

// Save appends a snapshot and prunes the history beyond the keep limit.
func (b *SQLiteBackend) Save(ctx context.Context, data []byte) error {
	var pairs []json.RawMessage
	if err := json.Unmarshal(data, &pairs); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (created_at, subscribers, payload) VALUES (?, ?, ?)`,
		b.now().UTC().Format(timeLayout), len(pairs), data,
	); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}

	if b.keep > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM snapshots WHERE id NOT IN (SELECT id FROM snapshots ORDER BY id DESC LIMIT ?)`,
			b.keep,
		); err != nil {
			return fmt.Errorf("prune snapshots: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// List returns the stored snapshots, newest first.
func (b *SQLiteBackend) List(ctx context.Context) ([]SnapshotInfo, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT id, created_at, subscribers, length(payload) FROM snapshots ORDER BY id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []SnapshotInfo
	for rows.Next() {
		var (
			info      SnapshotInfo
			createdAt string
		)
		if err := rows.Scan(&info.ID, &createdAt, &info.Subscribers, &info.Size); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		info.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		out = append(out, info)
	}
	return out, rows.Err()
}
