// Package migrations embeds the SQL schema of the snapshot history
// database and applies it with goose.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

// FS contains the embedded SQL migration files.
//
//go:embed *.sql
var FS embed.FS

// Commands lists the names accepted by Command.
var Commands = []string{"up", "up-one", "down", "status", "version", "reset"}

// Run applies all pending migrations to the given database.
func Run(db *sql.DB) error {
	return Command(db, "up")
}

// Command runs one goose command against db.
func Command(db *sql.DB, cmd string) error {
	goose.SetBaseFS(FS)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	var err error
	switch cmd {
	case "up":
		err = goose.Up(db, ".")
	case "up-one":
		err = goose.UpByOne(db, ".")
	case "down":
		err = goose.Down(db, ".")
	case "status":
		err = goose.Status(db, ".")
	case "version":
		err = goose.Version(db, ".")
	case "reset":
		err = goose.Reset(db, ".")
	default:
		return fmt.Errorf("unknown migration command: %s", cmd)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	return nil
}
