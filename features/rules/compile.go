package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/samber/lo"
)

// Term is a single match atom: either a case-insensitive literal substring
// or a compiled regular expression. Terms wrapped in "/.../" in the store
// are regular expressions, everything else is a literal.
type Term struct {
	literal string
	pattern *regexp.Regexp
}

// MatchString reports whether the term occurs in text. Callers pass
// lowercased text; literals are stored lowercased and patterns are compiled
// case-insensitive, so both sides agree.
func (t Term) MatchString(text string) bool {
	if t.pattern != nil {
		return t.pattern.MatchString(text)
	}
	return strings.Contains(text, t.literal)
}

func (t Term) String() string {
	if t.pattern != nil {
		return "/" + t.pattern.String() + "/"
	}
	return t.literal
}

// Group is a set of terms that must all occur within one candidate string.
type Group []Term

// Matches reports whether every term in the group occurs in text.
func (g Group) Matches(text string) bool {
	for _, term := range g {
		if !term.MatchString(text) {
			return false
		}
	}
	return len(g) > 0
}

// CompiledList is the immutable, match-ready form of one list definition.
// A list matches a post when any include group matches and no exclude group
// does; a list with no include groups matches nothing.
type CompiledList struct {
	ID            int64
	Include       []Group
	Exclude       []Group
	WithMediaOnly bool
	IgnoreReblog  bool
}

// Compile turns a stored list row into its match-ready form. A malformed
// regex term fails the whole list so the caller can skip it without
// poisoning the rest of the refresh.
func Compile(row ListRow) (CompiledList, error) {
	include, err := compileGroups(row.IncludeKeywords)
	if err != nil {
		return CompiledList{}, fmt.Errorf("list %d include keywords: %w", row.ID, err)
	}

	exclude, err := compileGroups(row.ExcludeKeywords)
	if err != nil {
		return CompiledList{}, fmt.Errorf("list %d exclude keywords: %w", row.ID, err)
	}

	return CompiledList{
		ID:            row.ID,
		Include:       include,
		Exclude:       exclude,
		WithMediaOnly: row.WithMediaOnly,
		IgnoreReblog:  row.IgnoreReblog,
	}, nil
}

func compileGroups(raw [][]string) ([]Group, error) {
	groups := make([]Group, 0, len(raw))

	for _, rawGroup := range raw {
		terms := lo.Filter(rawGroup, func(s string, _ int) bool {
			return strings.TrimSpace(s) != ""
		})
		if len(terms) == 0 {
			continue
		}

		group := make(Group, 0, len(terms))
		for _, raw := range terms {
			term, err := parseTerm(raw)
			if err != nil {
				return nil, err
			}
			group = append(group, term)
		}
		groups = append(groups, group)
	}

	return groups, nil
}

// parseTerm distinguishes "/pattern/" regex terms from literals.
func parseTerm(raw string) (Term, error) {
	if len(raw) > 2 && strings.HasPrefix(raw, "/") && strings.HasSuffix(raw, "/") {
		pattern, err := regexp.Compile("(?i)" + raw[1:len(raw)-1])
		if err != nil {
			return Term{}, fmt.Errorf("term %q: %w", raw, err)
		}
		return Term{pattern: pattern}, nil
	}

	return Term{literal: strings.ToLower(raw)}, nil
}

// LiteralTerm builds a literal term directly, bypassing the delimiter
// convention. Used by tests and the check command.
func LiteralTerm(s string) Term {
	return Term{literal: strings.ToLower(s)}
}
