package db

import (
	"context"
	"fmt"
	"net/http"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	SchemaKey contextKey = "warehouse_schema"
	DBConnKey contextKey = "db_conn"
	TxKey     contextKey = "db_tx"
)

var schemaPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidSchema reports whether name can be used unquoted in search_path.
func ValidSchema(name string) bool {
	return schemaPattern.MatchString(name)
}

// SchemaMiddleware pins one pooled connection per request to the warehouse
// schema named by the X-Warehouse-Schema header, the schema query parameter,
// or defaultSchema.
func SchemaMiddleware(pool *pgxpool.Pool, defaultSchema string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			schema := extractSchema(c, defaultSchema)
			if !ValidSchema(schema) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid warehouse schema")
			}

			ctx := c.Request().Context()
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer conn.Release()

			if _, err := conn.Exec(ctx, searchPath(schema)); err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "schema resolution failed")
			}

			ctx = context.WithValue(ctx, SchemaKey, schema)
			ctx = context.WithValue(ctx, DBConnKey, conn)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("warehouse_schema", schema)

			return next(c)
		}
	}
}

func extractSchema(c echo.Context, defaultSchema string) string {
	if s := c.Request().Header.Get("X-Warehouse-Schema"); s != "" {
		return s
	}
	if s := c.QueryParam("schema"); s != "" {
		return s
	}
	return defaultSchema
}

func searchPath(schema string) string {
	return fmt.Sprintf("SET search_path TO %s, public", schema)
}

// ConnFromContext retrieves the schema-scoped connection from context.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

func SchemaFromContext(ctx context.Context) string {
	s, _ := ctx.Value(SchemaKey).(string)
	return s
}

// WithConn acquires a connection bound to schema for work done outside an
// HTTP request, such as CLI loads. The returned release func must be called.
func WithConn(ctx context.Context, pool *pgxpool.Pool, schema string) (context.Context, func(), error) {
	if !ValidSchema(schema) {
		return ctx, nil, fmt.Errorf("invalid warehouse schema: %s", schema)
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("acquire connection: %w", err)
	}
	if _, err := conn.Exec(ctx, searchPath(schema)); err != nil {
		conn.Release()
		return ctx, nil, fmt.Errorf("set search_path: %w", err)
	}
	ctx = context.WithValue(ctx, SchemaKey, schema)
	ctx = context.WithValue(ctx, DBConnKey, conn)
	return ctx, conn.Release, nil
}

// CreateSchema creates the warehouse schema and applies all migrations to it.
func CreateSchema(ctx context.Context, pool *pgxpool.Pool, schema string, migrator *Migrator) error {
	if !ValidSchema(schema) {
		return fmt.Errorf("invalid warehouse schema: %s", schema)
	}

	if _, err := pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}

	if migrator != nil {
		if _, err := migrator.Up(ctx, schema); err != nil {
			return fmt.Errorf("run migrations for %s: %w", schema, err)
		}
	}
	return nil
}
