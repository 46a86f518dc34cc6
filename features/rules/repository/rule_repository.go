package repository

import (
	"context"

	"fedipull/features/rules"
)

// RuleRepository is the read surface the filter cache needs from the list
// store. Eligibility (locally owned account, non-empty include groups) is
// pushed into the store query, not re-checked by callers.
type RuleRepository interface {
	// EligibleLists returns every list definition worth matching against.
	EligibleLists(ctx context.Context) ([]rules.ListRow, error)

	// LastChanged returns the freshness marker over the same eligible set,
	// so callers can skip a reload when nothing changed.
	LastChanged(ctx context.Context) (rules.ChangeMark, error)
}
