package db

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// Connect opens the Mastodon Postgres database, verifies the connection and
// caps the pool size. Refresh queries share this pool; the LISTEN/NOTIFY
// watcher holds its own dedicated connection (see features/filtercache) so
// its blocking poll is never delayed by a concurrent query.
func Connect(dsn string, maxOpenConns int) (*sql.DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if maxOpenConns > 0 {
		conn.SetMaxOpenConns(maxOpenConns)
	}

	return conn, nil
}
