package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"
	_ "modernc.org/sqlite"

	"advert_bot/internal/persist"
	"advert_bot/migrations"
)

func fileFlag() cli.Flag {
	return &cli.StringFlag{Name: "file", Usage: "path to a JSON snapshot file"}
}

func dbFlag() cli.Flag {
	return &cli.StringFlag{Name: "db", Usage: "path to a sqlite snapshot database"}
}

func keepFlag() cli.Flag {
	return &cli.IntFlag{Name: "keep", Usage: "snapshots kept in the sqlite history (0 keeps all)", Value: 10}
}

func main() {
	app := &cli.Command{
		Name:  "statectl",
		Usage: "Inspect and maintain advert bot snapshots",
		Commands: []*cli.Command{
			{
				Name:      "migrate",
				Usage:     "Run a schema migration on the snapshot database",
				ArgsUsage: strings.Join(migrations.Commands, "|"),
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "db", Usage: "path to the sqlite snapshot database", Value: "./data/snapshots.db"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cmd := c.Args().First()
					if !slices.Contains(migrations.Commands, cmd) {
						return fmt.Errorf("usage: statectl migrate [--db path] <%s>", strings.Join(migrations.Commands, "|"))
					}
					db, err := sql.Open("sqlite", c.String("db"))
					if err != nil {
						return fmt.Errorf("open database: %w", err)
					}
					defer func() { _ = db.Close() }()
					return migrations.Command(db, cmd)
				},
			},
			{
				Name:  "dump",
				Usage: "Print a snapshot",
				Flags: []cli.Flag{
					fileFlag(),
					dbFlag(),
					&cli.Int64Flag{Name: "id", Usage: "snapshot id in the sqlite history (default: latest)"},
					&cli.BoolFlag{Name: "pretty", Usage: "indent the JSON output"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					data, err := load(ctx, c)
					if err != nil {
						return err
					}
					return writeJSON(os.Stdout, data, c.Bool("pretty"))
				},
			},
			{
				Name:      "import",
				Usage:     "Load a JSON snapshot, including the legacy format, into a backend",
				ArgsUsage: "<snapshot.json>",
				Flags:     []cli.Flag{fileFlag(), dbFlag(), keepFlag()},
				Action: func(ctx context.Context, c *cli.Command) error {
					src := c.Args().First()
					if src == "" {
						return errors.New("usage: statectl import (--file path | --db path) <snapshot.json>")
					}
					raw, err := os.ReadFile(src)
					if err != nil {
						return fmt.Errorf("read snapshot: %w", err)
					}
					entries, err := persist.Decode(raw)
					if err != nil {
						return err
					}
					data, err := persist.Encode(entries)
					if err != nil {
						return err
					}

					backend, err := openTarget(c)
					if err != nil {
						return err
					}
					defer func() { _ = backend.Close() }()

					if err := backend.Save(ctx, data); err != nil {
						return err
					}
					fmt.Printf("imported %d subscribers\n", len(entries))
					return nil
				},
			},
			{
				Name:  "history",
				Usage: "List snapshots stored in the sqlite history",
				Flags: []cli.Flag{dbFlag()},
				Action: func(ctx context.Context, c *cli.Command) error {
					if c.String("db") == "" {
						return errors.New("usage: statectl history --db path")
					}
					backend, err := persist.NewSQLite(c.String("db"), 0)
					if err != nil {
						return err
					}
					defer func() { _ = backend.Close() }()

					infos, err := backend.List(ctx)
					if err != nil {
						return err
					}
					writeHistory(os.Stdout, infos)
					return nil
				},
			},
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

// load reads the snapshot selected by --file or --db and --id.
func load(ctx context.Context, c *cli.Command) ([]byte, error) {
	switch {
	case c.String("file") != "":
		return persist.OpenFile(c.String("file")).Load(ctx)
	case c.String("db") != "":
		backend, err := persist.NewSQLite(c.String("db"), 0)
		if err != nil {
			return nil, err
		}
		defer func() { _ = backend.Close() }()
		if id := c.Int64("id"); id > 0 {
			return backend.Get(ctx, id)
		}
		return backend.Load(ctx)
	default:
		return nil, errors.New("one of --file or --db is required")
	}
}

func openTarget(c *cli.Command) (persist.Backend, error) {
	switch {
	case c.String("file") != "":
		return persist.OpenFile(c.String("file")), nil
	case c.String("db") != "":
		return persist.NewSQLite(c.String("db"), c.Int("keep"))
	default:
		return nil, errors.New("one of --file or --db is required")
	}
}

func writeJSON(w io.Writer, data []byte, pretty bool) error {
	if pretty {
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, "", "  "); err != nil {
			return fmt.Errorf("indent snapshot: %w", err)
		}
		data = buf.Bytes()
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w)
	return err
}

func writeHistory(w io.Writer, infos []persist.SnapshotInfo) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Created", "Subscribers", "Bytes"})
	for _, info := range infos {
		table.Append([]string{
			strconv.FormatInt(info.ID, 10),
			info.CreatedAt.UTC().Format(time.RFC3339),
			strconv.Itoa(info.Subscribers),
			strconv.Itoa(info.Size),
		})
	}
	table.Render()
}
