package rules

import (
	"time"
)

// ListRow is an eligible list definition as loaded from the store: an
// ordered sequence of include groups and exclude groups, where each group
// is a set of raw terms, plus the two behavior flags.
type ListRow struct {
	ID              int64
	IncludeKeywords [][]string
	ExcludeKeywords [][]string
	WithMediaOnly   bool
	IgnoreReblog    bool
}

// ChangeMark is the store-side freshness marker for the eligible list set.
// The zero value means "no eligible lists".
type ChangeMark struct {
	UpdatedAt time.Time
}

// Changed reports whether the mark differs from a previously observed
// timestamp. A mark that moved backwards still means the eligible set
// changed, so this is an inequality, not an ordering.
func (m ChangeMark) Changed(since time.Time) bool {
	return !m.UpdatedAt.Equal(since)
}
