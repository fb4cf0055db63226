package main

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func sampleDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shop.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()
	for _, stmt := range []string{
		`CREATE TABLE customers (id INTEGER PRIMARY KEY, email TEXT NOT NULL UNIQUE)`,
		`CREATE TABLE orders (id INTEGER PRIMARY KEY, customer_id INTEGER REFERENCES customers (id), placed TEXT DEFAULT 'now')`,
		`CREATE INDEX orders_customer ON orders (customer_id DESC)`,
		`CREATE VIEW recent AS SELECT * FROM orders`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, log bytes.Buffer
	err := run(context.Background(), args, &out, &log)
	return out.String(), err
}

func TestTree(t *testing.T) {
	dsn := sampleDB(t)
	out, err := runCLI(t, "--dsn", dsn, "--name", "shop", "tree", "main")
	require.NoError(t, err)
	require.Contains(t, out, "shop (sqlite)")
	require.Contains(t, out, "main  3 tables")
	require.Contains(t, out, "recent [VIEW]")
	require.Contains(t, out, "1 schema, 3 tables in")
	require.NotContains(t, out, "INTEGER")
}

func TestTreeColumns(t *testing.T) {
	dsn := sampleDB(t)
	out, err := runCLI(t, "--dsn", dsn, "--preload", "2", "tree", "--columns")
	require.NoError(t, err)
	require.Contains(t, out, "email TEXT NOT NULL")
	require.Contains(t, out, "placed TEXT DEFAULT 'now'")
	require.Contains(t, out, "8 columns")
}

func TestDescribe(t *testing.T) {
	dsn := sampleDB(t)
	out, err := runCLI(t, "--dsn", dsn, "describe", "MAIN", "Orders")
	require.NoError(t, err)
	require.Contains(t, out, "main.orders")
	require.Contains(t, out, "columns (3)")
	require.Contains(t, out, "orders_customer index (customer_id DESC)")
	require.Contains(t, out, "orders_fk_0 (customer_id) -> main.customers (id)")

	out, err = runCLI(t, "--dsn", dsn, "describe", "main", "recent")
	require.NoError(t, err)
	require.Contains(t, out, "recent [VIEW]")
	require.NotContains(t, out, "indexes")
}

func TestDescribeMissing(t *testing.T) {
	dsn := sampleDB(t)
	_, err := runCLI(t, "--dsn", dsn, "describe", "main", "nope")
	require.EqualError(t, err, `table main.nope not found`)
}

func TestConfigFileAndOverrides(t *testing.T) {
	dsn := sampleDB(t)
	cfgPath := filepath.Join(t.TempDir(), "catalogtree.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
[database]
driver = "sqlite"
dsn = "/does/not/exist/ignored.db"
name = "fromfile"

[snapshot]
provider = "ristretto"
codec = "json"

[log]
backend = "logrus"
level = "debug"
`), 0o600))

	out, err := runCLI(t, "-c", cfgPath, "--dsn", dsn, "tree")
	require.NoError(t, err)
	require.Contains(t, out, "fromfile (sqlite)")

	_, err = runCLI(t, "-c", cfgPath, "--driver", "oracle", "tree")
	require.Error(t, err)
	require.Contains(t, err.Error(), `database.driver "oracle"`)
}
