package database

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// NewClickHouse creates new ClickHouse connection via the clickhouse-go
// sqlx driver. The caller owns the returned DB.
func NewClickHouse(dsn string) (*DB, error) {
	conn, err := sqlx.Connect("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(10 * time.Minute)

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	return &DB{conn: conn}, nil
}
