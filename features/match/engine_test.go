package match

import (
	"encoding/json"
	"testing"

	"fedipull/features/blocks"
	"fedipull/features/filtercache"
	"fedipull/features/posts"
	"fedipull/features/rules"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compileList(t *testing.T, row rules.ListRow) rules.CompiledList {
	t.Helper()
	list, err := rules.Compile(row)
	require.NoError(t, err)
	return list
}

func snapshotWith(lists ...rules.CompiledList) *filtercache.Snapshot {
	return &filtercache.Snapshot{
		Blocks: blocks.DomainBlockSet{},
		Lists:  lists,
	}
}

func textPost(content string) *posts.Post {
	return &posts.Post{
		URI:     "https://remote.example/@alice/1",
		Content: content,
	}
}

func TestIncludeGroupSemantics(t *testing.T) {
	list := compileList(t, rules.ListRow{
		ID:              1,
		IncludeKeywords: [][]string{{"cat", "dog"}, {"bird"}},
	})
	snapshot := snapshotWith(list)

	testCases := []struct {
		name    string
		content string
		want    bool
	}{
		{name: "all terms of group one", content: "I have a cat and a dog", want: true},
		{name: "group one incomplete", content: "I have a cat", want: false},
		{name: "group two satisfied", content: "I saw a bird", want: true},
		{name: "nothing relevant", content: "I bought a fish", want: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, got := ShouldFetch(textPost(tc.content), snapshot)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestExcludeGroupsTakePrecedence(t *testing.T) {
	list := compileList(t, rules.ListRow{
		ID:              1,
		IncludeKeywords: [][]string{{"news"}},
		ExcludeKeywords: [][]string{{"spam"}},
	})
	snapshot := snapshotWith(list)

	_, got := ShouldFetch(textPost("breaking news spam alert"), snapshot)
	assert.False(t, got)

	_, got = ShouldFetch(textPost("breaking news today"), snapshot)
	assert.True(t, got)
}

func TestDomainBlockRejectsBeforeLists(t *testing.T) {
	list := compileList(t, rules.ListRow{
		ID:              1,
		IncludeKeywords: [][]string{{"cat"}},
	})
	snapshot := &filtercache.Snapshot{
		Blocks: blocks.NewDomainBlockSet([]string{"bad.example"}),
		Lists:  []rules.CompiledList{list},
	}

	post := &posts.Post{
		URI:     "https://bad.example/@x/1",
		Content: "<p>love my new cat</p>",
	}

	_, got := ShouldFetch(post, snapshot)
	assert.False(t, got)
}

func TestMediaOnlyListSkipsTextPosts(t *testing.T) {
	list := compileList(t, rules.ListRow{
		ID:              1,
		IncludeKeywords: [][]string{{"cat"}},
		WithMediaOnly:   true,
	})
	snapshot := snapshotWith(list)

	_, got := ShouldFetch(textPost("a cat without pictures"), snapshot)
	assert.False(t, got)

	withMedia := textPost("a cat with pictures")
	withMedia.MediaAttachments = []json.RawMessage{json.RawMessage(`{}`)}
	_, got = ShouldFetch(withMedia, snapshot)
	assert.True(t, got)
}

func TestIgnoreReblogListSkipsShares(t *testing.T) {
	list := compileList(t, rules.ListRow{
		ID:              1,
		IncludeKeywords: [][]string{{"cat"}},
		IgnoreReblog:    true,
	})
	snapshot := snapshotWith(list)

	reblog := textPost("a shared cat")
	reblog.Reblog = json.RawMessage(`{"uri": "https://remote.example/@bob/2"}`)
	_, got := ShouldFetch(reblog, snapshot)
	assert.False(t, got)

	_, got = ShouldFetch(textPost("an original cat"), snapshot)
	assert.True(t, got)
}

func TestFirstMatchingListWins(t *testing.T) {
	first := compileList(t, rules.ListRow{
		ID:              7,
		IncludeKeywords: [][]string{{"cat"}},
	})
	second := compileList(t, rules.ListRow{
		ID:              8,
		IncludeKeywords: [][]string{{"cat"}},
	})
	snapshot := snapshotWith(first, second)

	listID, got := ShouldFetch(textPost("a cat"), snapshot)
	require.True(t, got)
	assert.Equal(t, int64(7), listID)
}

func TestGroupMustMatchWithinOneCandidate(t *testing.T) {
	list := compileList(t, rules.ListRow{
		ID:              1,
		IncludeKeywords: [][]string{{"cat", "dog"}},
	})
	snapshot := snapshotWith(list)

	// "cat" only in the spoiler, "dog" only in the body: no single
	// candidate string satisfies the whole group.
	post := &posts.Post{
		URI:         "https://remote.example/@alice/1",
		SpoilerText: "cat content",
		Content:     "<p>dog content</p>",
	}

	_, got := ShouldFetch(post, snapshot)
	assert.False(t, got)
}

func TestSpoilerAloneCanMatch(t *testing.T) {
	list := compileList(t, rules.ListRow{
		ID:              1,
		IncludeKeywords: [][]string{{"cat"}},
	})
	snapshot := snapshotWith(list)

	post := &posts.Post{
		URI:         "https://remote.example/@alice/1",
		SpoilerText: "cat pictures inside",
		Content:     "<p>open at your own risk</p>",
	}

	_, got := ShouldFetch(post, snapshot)
	assert.True(t, got)
}

func TestHashtagsMatchAsBodyText(t *testing.T) {
	list := compileList(t, rules.ListRow{
		ID:              1,
		IncludeKeywords: [][]string{{"#cats"}},
	})
	snapshot := snapshotWith(list)

	post := &posts.Post{
		URI:     "https://remote.example/@alice/1",
		Content: "<p>look at this</p>",
		Tags:    []posts.Tag{{Name: "cats"}},
	}

	_, got := ShouldFetch(post, snapshot)
	assert.True(t, got)
}

func TestNilInputs(t *testing.T) {
	_, got := ShouldFetch(nil, snapshotWith())
	assert.False(t, got)

	_, got = ShouldFetch(textPost("a cat"), nil)
	assert.False(t, got)
}
