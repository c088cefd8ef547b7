package integration

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/cdw/internal/platform/db"
	"github.com/ehr/cdw/migrations"
)

// testDB holds the shared database for integration tests.
type testDB struct {
	Pool    *pgxpool.Pool
	ConnStr string
}

// globalDB is initialized once in TestMain.
var globalDB *testDB

// TestMain uses INTEGRATION_DATABASE_URL when set, and otherwise starts a
// Postgres container. Without either the package is skipped.
func TestMain(m *testing.M) {
	ctx := context.Background()

	connStr := os.Getenv("INTEGRATION_DATABASE_URL")
	cleanup := func() {}
	if connStr == "" {
		if _, err := exec.LookPath("docker"); err != nil {
			fmt.Fprintln(os.Stderr, "skipping integration tests: no INTEGRATION_DATABASE_URL and no docker")
			os.Exit(0)
		}
		var err error
		connStr, cleanup, err = startPostgres(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to setup postgres container: %v\n", err)
			os.Exit(1)
		}
	}

	pool, err := db.NewPool(ctx, connStr, "", 10, 1)
	if err != nil {
		cleanup()
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}

	globalDB = &testDB{Pool: pool, ConnStr: connStr}
	code := m.Run()
	pool.Close()
	cleanup()
	os.Exit(code)
}

var schemaSeq int64

// uniqueSchema returns a fresh schema name for one test.
func uniqueSchema(prefix string) string {
	n := atomic.AddInt64(&schemaSeq, 1)
	return fmt.Sprintf("it_%s_%s_%d", prefix, strconv.FormatInt(time.Now().UnixNano(), 36), n)
}

// createSchema creates a warehouse schema with all migrations applied.
func createSchema(t *testing.T, ctx context.Context, schema string) {
	t.Helper()
	migrator := db.NewMigrator(globalDB.Pool, migrations.FS)
	if err := db.CreateSchema(ctx, globalDB.Pool, schema, migrator); err != nil {
		t.Fatalf("create schema %s: %v", schema, err)
	}
}

func dropSchema(t *testing.T, ctx context.Context, schema string) {
	t.Helper()
	if _, err := globalDB.Pool.Exec(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schema)); err != nil {
		t.Logf("warning: failed to drop schema %s: %v", schema, err)
	}
}

// withSchemaConn runs fn on one connection bound to schema.
func withSchemaConn(ctx context.Context, schema string, fn func(ctx context.Context) error) error {
	ctx, release, err := db.WithConn(ctx, globalDB.Pool, schema)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

// countRows counts rows in table within schema.
func countRows(t *testing.T, ctx context.Context, schema, table string) int {
	t.Helper()
	var n int
	err := withSchemaConn(ctx, schema, func(ctx context.Context) error {
		return db.ConnFromContext(ctx).QueryRow(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n)
	})
	if err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}
