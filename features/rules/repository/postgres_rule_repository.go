package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"fedipull/features/rules"
)

// PostgresRuleRepository reads list definitions from the Mastodon database.
type PostgresRuleRepository struct {
	db *sql.DB
}

// NewPostgresRuleRepository creates a new PostgresRuleRepository instance.
func NewPostgresRuleRepository(db *sql.DB) *PostgresRuleRepository {
	return &PostgresRuleRepository{db: db}
}

const eligibleListsQuery = `
	SELECT lists.id,
	       lists.include_keywords,
	       lists.exclude_keywords,
	       lists.with_media_only,
	       lists.ignore_reblog
	FROM lists
	JOIN accounts ON lists.account_id = accounts.id
	WHERE accounts.domain IS NULL
	  AND lists.include_keywords IS NOT NULL
	  AND jsonb_array_length(lists.include_keywords) > 0
	ORDER BY lists.id`

func (r *PostgresRuleRepository) EligibleLists(ctx context.Context) ([]rules.ListRow, error) {
	rows, err := r.db.QueryContext(ctx, eligibleListsQuery)
	if err != nil {
		return nil, fmt.Errorf("query eligible lists: %w", err)
	}
	defer rows.Close()

	var result []rules.ListRow
	for rows.Next() {
		var (
			row        rules.ListRow
			includeRaw []byte
			excludeRaw []byte
		)
		if err := rows.Scan(&row.ID, &includeRaw, &excludeRaw, &row.WithMediaOnly, &row.IgnoreReblog); err != nil {
			return nil, fmt.Errorf("scan list row: %w", err)
		}

		if err := unmarshalGroups(includeRaw, &row.IncludeKeywords); err != nil {
			return nil, fmt.Errorf("list %d include keywords: %w", row.ID, err)
		}
		if err := unmarshalGroups(excludeRaw, &row.ExcludeKeywords); err != nil {
			return nil, fmt.Errorf("list %d exclude keywords: %w", row.ID, err)
		}

		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate list rows: %w", err)
	}

	return result, nil
}

func (r *PostgresRuleRepository) LastChanged(ctx context.Context) (rules.ChangeMark, error) {
	const query = `
		SELECT COALESCE(MAX(lists.updated_at), 'epoch'::timestamptz)
		FROM lists
		JOIN accounts ON lists.account_id = accounts.id
		WHERE accounts.domain IS NULL
		  AND lists.include_keywords IS NOT NULL
		  AND jsonb_array_length(lists.include_keywords) > 0`

	var mark rules.ChangeMark
	if err := r.db.QueryRowContext(ctx, query).Scan(&mark.UpdatedAt); err != nil {
		return rules.ChangeMark{}, fmt.Errorf("query lists change mark: %w", err)
	}

	return mark, nil
}

func unmarshalGroups(raw []byte, into *[][]string) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, into)
}
