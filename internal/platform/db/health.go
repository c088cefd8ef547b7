package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
}

func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
		Healthy:         stat.TotalConns() > 0,
	}
}

// warehouseTables must exist in the configured schema for loads to succeed.
var warehouseTables = []string{
	"observation_fact", "concept_dimension", "modifier_dimension",
	"ontology", "table_access", "patient_mapping", "encounter_mapping",
}

// HealthHandler pings the database and checks that the warehouse tables are
// present in schema.
func HealthHandler(pool *pgxpool.Pool, schema string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		stats := GetPoolStats(pool)
		if err := pool.Ping(ctx); err != nil {
			stats.Healthy = false
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"status": "unhealthy",
				"error":  err.Error(),
				"pool":   stats,
			})
		}

		var present int
		err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM information_schema.tables
			WHERE table_schema = $1 AND table_name = ANY($2)`, schema, warehouseTables).Scan(&present)
		if err != nil || present < len(warehouseTables) {
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"status":  "unmigrated",
				"schema":  schema,
				"present": present,
				"pool":    stats,
			})
		}

		return c.JSON(http.StatusOK, map[string]interface{}{
			"status": "healthy",
			"schema": schema,
			"pool":   stats,
		})
	}
}
