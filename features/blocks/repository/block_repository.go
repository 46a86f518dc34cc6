package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// severitySuspend is Mastodon's hard-suspension severity for domain blocks.
// Silenced and limited domains still have their posts evaluated.
const severitySuspend = 1

// BlockRepository is the read surface the filter cache needs from the
// domain-block store.
type BlockRepository interface {
	SuspendedDomains(ctx context.Context) ([]string, error)
}

// PostgresBlockRepository reads domain blocks from the Mastodon database.
type PostgresBlockRepository struct {
	db *sql.DB
}

// NewPostgresBlockRepository creates a new PostgresBlockRepository instance.
func NewPostgresBlockRepository(db *sql.DB) *PostgresBlockRepository {
	return &PostgresBlockRepository{db: db}
}

func (r *PostgresBlockRepository) SuspendedDomains(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT domain FROM domain_blocks WHERE severity = $1`, severitySuspend)
	if err != nil {
		return nil, fmt.Errorf("query domain blocks: %w", err)
	}
	defer rows.Close()

	var domains []string
	for rows.Next() {
		var domain string
		if err := rows.Scan(&domain); err != nil {
			return nil, fmt.Errorf("scan domain block: %w", err)
		}
		domains = append(domains, domain)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate domain blocks: %w", err)
	}

	return domains, nil
}
