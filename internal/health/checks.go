package health

import (
	"context"
	"database/sql"

	"github.com/redis/go-redis/v9"
)

// Database pings a SQL pool.
func Database(db *sql.DB) Checker {
	return db.PingContext
}

// Redis pings a Redis client.
func Redis(client redis.UniversalClient) Checker {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}
