package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// Pinger is anything whose liveness can be probed: the pgx pool, the
// sqlite store, the redis client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PoolStats is the subset of pgxpool statistics reported by /health/db.
type PoolStats struct {
	TotalConns    int32 `json:"total_conns"`
	IdleConns     int32 `json:"idle_conns"`
	AcquiredConns int32 `json:"acquired_conns"`
	MaxConns      int32 `json:"max_conns"`
}

func poolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:    stat.TotalConns(),
		IdleConns:     stat.IdleConns(),
		AcquiredConns: stat.AcquiredConns(),
		MaxConns:      stat.MaxConns(),
	}
}

// HealthHandler pings every named dependency and reports 503 if any fails.
func HealthHandler(deps map[string]Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		status := http.StatusOK
		checks := make(map[string]interface{}, len(deps))
		for name, dep := range deps {
			check := map[string]interface{}{"status": "healthy"}
			if err := dep.Ping(ctx); err != nil {
				status = http.StatusServiceUnavailable
				check["status"] = "unhealthy"
				check["error"] = err.Error()
			}
			if pool, ok := dep.(*pgxpool.Pool); ok {
				check["pool"] = poolStats(pool)
			}
			checks[name] = check
		}

		overall := "healthy"
		if status != http.StatusOK {
			overall = "unhealthy"
		}
		return c.JSON(status, map[string]interface{}{
			"status": overall,
			"checks": checks,
		})
	}
}
