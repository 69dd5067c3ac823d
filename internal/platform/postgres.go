package platform

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPostgresPool creates a pgx connection pool sized for a stateless worker
// fleet: 2–10 connections, each statement bounded by a 30s timeout enforced
// by callers via context. sslmode is injected from PGSSLMODE unless
// databaseURL already carries its own sslmode query parameter.
func NewPostgresPool(ctx context.Context, databaseURL, sslMode string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(withSSLMode(databaseURL, sslMode))
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}

	cfg.MinConns = 2
	cfg.MaxConns = 10
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 15 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// withSSLMode appends an sslmode query parameter from PGSSLMODE unless
// databaseURL already specifies one explicitly.
func withSSLMode(databaseURL, sslMode string) string {
	if sslMode == "" {
		return databaseURL
	}
	u, err := url.Parse(databaseURL)
	if err != nil {
		return databaseURL
	}
	q := u.Query()
	if q.Get("sslmode") != "" {
		return databaseURL
	}
	q.Set("sslmode", strings.ToLower(strings.TrimSpace(sslMode)))
	u.RawQuery = q.Encode()
	return u.String()
}
