package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// New connects to postgres, retrying with exponential backoff so the service
// survives a database that comes up after it does.
func New(ctx context.Context, dsn string) (*sqlx.DB, error) {
	var db *sqlx.DB

	connect := func() error {
		var err error
		db, err = sqlx.ConnectContext(ctx, "pgx", dsn)
		return err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	if err := backoff.Retry(connect, b); err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}
