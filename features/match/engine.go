package match

import (
	"fedipull/features/filtercache"
	"fedipull/features/posts"
	"fedipull/features/rules"
)

// ShouldFetch is the pure decision function: given one decoded post and one
// snapshot, decide whether the post is worth fetching and which list
// matched it. Evaluation is atomic with respect to the snapshot it was
// handed; a concurrent swap never produces a torn read.
//
// Order of checks:
//  1. the post's origin domain (including parent domains) must not be
//     suspended;
//  2. lists gated on media or reblog state are skipped when the post does
//     not qualify;
//  3. per list, exclude groups veto first, then any satisfied include
//     group matches;
//  4. the first matching list wins; one fetch job per post is enough.
func ShouldFetch(post *posts.Post, snapshot *filtercache.Snapshot) (listID int64, ok bool) {
	if post == nil || snapshot == nil {
		return 0, false
	}

	if snapshot.Blocks.BlocksURI(post.URI) {
		return 0, false
	}

	texts := post.CandidateTexts()

	for _, list := range snapshot.Lists {
		if list.WithMediaOnly && !post.HasMedia() {
			continue
		}
		if list.IgnoreReblog && post.IsReblog() {
			continue
		}

		if anyGroupMatches(list.Exclude, texts) {
			continue
		}
		if anyGroupMatches(list.Include, texts) {
			return list.ID, true
		}
	}

	return 0, false
}

// anyGroupMatches reports whether any group is fully satisfied within a
// single candidate string. Terms of one group never span candidates.
func anyGroupMatches(groups []rules.Group, texts [2]string) bool {
	for _, group := range groups {
		for _, text := range texts {
			if group.Matches(text) {
				return true
			}
		}
	}
	return false
}
