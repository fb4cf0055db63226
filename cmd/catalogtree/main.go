// Command catalogtree prints the schemas, tables and table details of a SQLite or
// DuckDB database, loading every level lazily through metacache.
//
//	catalogtree --dsn app.db tree
//	catalogtree --driver duckdb --dsn warehouse.duckdb tree sales --columns
//	catalogtree -c catalogtree.toml describe main users
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/fatih/color"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/unkn0wn-root/metacache/internal/config"
)

type globals struct {
	config   string
	driver   string
	dsn      string
	name     string
	logLevel string
	snapshot string
	preload  int
}

// apply lays command-line overrides over the file configuration.
func (g *globals) apply(cfg *config.Config) error {
	if g.driver != "" {
		cfg.Database.Driver = g.driver
	}
	if g.dsn != "" {
		cfg.Database.DSN = g.dsn
	}
	if g.name != "" {
		cfg.Database.Name = g.name
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.snapshot != "" {
		cfg.Snapshot.Provider = g.snapshot
	}
	if g.preload > 0 {
		cfg.Preload.Concurrency = g.preload
	}
	return cfg.Validate()
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	app := kingpin.New("catalogtree", "Browse a database catalog through a lazy metadata cache.")
	app.HelpFlag.Short('h')
	app.UsageWriter(stderr)
	app.ErrorWriter(stderr)

	var g globals
	app.Flag("config", "TOML configuration file").Short('c').StringVar(&g.config)
	app.Flag("driver", "database driver (sqlite, duckdb)").Envar("CATALOGTREE_DRIVER").StringVar(&g.driver)
	app.Flag("dsn", "data source name").Envar("CATALOGTREE_DSN").StringVar(&g.dsn)
	app.Flag("name", "catalog name").StringVar(&g.name)
	app.Flag("log-level", "debug, info, warn or error").StringVar(&g.logLevel)
	app.Flag("snapshot", "snapshot provider (ristretto, bigcache, redis)").StringVar(&g.snapshot)
	app.Flag("preload", "schemas preloaded concurrently").IntVar(&g.preload)

	treeCmd := app.Command("tree", "Print schemas and their tables.")
	treeSchema := treeCmd.Arg("schema", "only this schema").String()
	treeColumns := treeCmd.Flag("columns", "list the columns of every table").Bool()

	describeCmd := app.Command("describe", "Print columns, indexes and foreign keys of one table.")
	descSchema := describeCmd.Arg("schema", "schema name").Required().String()
	descTable := describeCmd.Arg("table", "table name").Required().String()

	cmd, err := app.Parse(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(g.config)
	if err != nil {
		return err
	}
	if err := g.apply(cfg); err != nil {
		return err
	}

	s, err := open(ctx, cfg, stderr)
	if err != nil {
		return err
	}
	defer func() { _ = s.close(context.Background()) }()

	switch cmd {
	case treeCmd.FullCommand():
		return s.tree(ctx, stdout, *treeSchema, *treeColumns)
	case describeCmd.FullCommand():
		return s.describe(ctx, stdout, *descSchema, *descTable)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "catalogtree: %v\n", err)
		os.Exit(1)
	}
}
