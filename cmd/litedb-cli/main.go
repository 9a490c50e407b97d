// Command litedb-cli is a small front end over pkg/litedb for poking at a
// database from a shell: put, get, delete, scan, and forcing a WAL flush.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/brinedb/litedb/pkg/litedb"
)

func main() {
	cmd := &cli.Command{
		Name:  "litedb-cli",
		Usage: "inspect and modify a litedb database",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "dir",
				Aliases:  []string{"d"},
				Usage:    "database directory",
				Required: true,
			},
		},
		Commands: []*cli.Command{
			putCommand(),
			getCommand(),
			deleteCommand(),
			scanCommand(),
			flushCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "litedb-cli:", err)
		os.Exit(1)
	}
}

func openEngine(c *cli.Command) (*litedb.Engine, error) {
	return litedb.Open(c.String("dir"), litedb.Default())
}

func putCommand() *cli.Command {
	return &cli.Command{
		Name:      "put",
		Usage:     "set a key to a value",
		ArgsUsage: "<key> <value>",
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 2 {
				return fmt.Errorf("put requires exactly 2 arguments: <key> <value>")
			}
			db, err := openEngine(c)
			if err != nil {
				return err
			}
			defer db.Close()
			return db.Set([]byte(c.Args().Get(0)), []byte(c.Args().Get(1)))
		},
	}
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "read the value for a key",
		ArgsUsage: "<key>",
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 1 {
				return fmt.Errorf("get requires exactly 1 argument: <key>")
			}
			db, err := openEngine(c)
			if err != nil {
				return err
			}
			defer db.Close()
			value, ok, err := db.Get([]byte(c.Args().Get(0)))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(c.Root().Writer, "(not found)")
				return nil
			}
			fmt.Fprintln(c.Root().Writer, string(value))
			return nil
		},
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "delete a key",
		ArgsUsage: "<key>",
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 1 {
				return fmt.Errorf("delete requires exactly 1 argument: <key>")
			}
			db, err := openEngine(c)
			if err != nil {
				return err
			}
			defer db.Close()
			return db.Delete([]byte(c.Args().Get(0)))
		},
	}
}

func scanCommand() *cli.Command {
	return &cli.Command{
		Name:  "scan",
		Usage: "print every key in [start, end)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "start", Usage: "inclusive start key (default: unbounded)"},
			&cli.StringFlag{Name: "end", Usage: "exclusive end key (default: unbounded)"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			db, err := openEngine(c)
			if err != nil {
				return err
			}
			defer db.Close()

			var start, end []byte
			if c.IsSet("start") {
				start = []byte(c.String("start"))
			}
			if c.IsSet("end") {
				end = []byte(c.String("end"))
			}

			kvs, err := db.Scan(start, end)
			if err != nil {
				return err
			}
			for _, kv := range kvs {
				fmt.Fprintf(c.Root().Writer, "%s=%s\n", kv.Key, kv.Value)
			}
			return nil
		},
	}
}

func flushCommand() *cli.Command {
	return &cli.Command{
		Name:  "flush-wal",
		Usage: "force-flush the current memtable's write-ahead log",
		Action: func(ctx context.Context, c *cli.Command) error {
			db, err := openEngine(c)
			if err != nil {
				return err
			}
			defer db.Close()
			return db.FlushWAL()
		},
	}
}
