package posts

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	payload := []byte(`{
		"uri": "https://remote.example/@alice/1",
		"spoiler_text": "CW: pets",
		"content": "<p>love my new cat</p>",
		"tags": [{"name": "cats"}],
		"media_attachments": [{"type": "image"}]
	}`)

	post, err := Decode(payload)
	require.NoError(t, err)

	assert.Equal(t, "https://remote.example/@alice/1", post.URI)
	assert.Equal(t, "CW: pets", post.SpoilerText)
	assert.True(t, post.HasMedia())
	assert.False(t, post.IsReblog())
}

func TestDecodeMissingURI(t *testing.T) {
	_, err := Decode([]byte(`{"content": "<p>hello</p>"}`))
	assert.ErrorIs(t, err, ErrMissingURI)
}

func TestDecodeInvalidJSON(t *testing.T) {
	_, err := Decode([]byte(`{"uri": `))
	assert.Error(t, err)
}

func TestIsReblog(t *testing.T) {
	testCases := []struct {
		name   string
		reblog string
		want   bool
	}{
		{name: "absent", reblog: "", want: false},
		{name: "null", reblog: "null", want: false},
		{name: "object", reblog: `{"uri": "https://remote.example/@bob/2"}`, want: true},
		{name: "true", reblog: "true", want: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			post := &Post{URI: "https://remote.example/@alice/1"}
			if tc.reblog != "" {
				post.Reblog = json.RawMessage(tc.reblog)
			}
			assert.Equal(t, tc.want, post.IsReblog())
		})
	}
}

func TestCandidateTexts(t *testing.T) {
	post := &Post{
		URI:         "https://remote.example/@alice/1",
		SpoilerText: "Heavy SPOILER",
		Content:     "<p>Tom &amp; Jerry <b>chase</b> scenes</p>",
		Tags:        []Tag{{Name: "Cartoons"}, {Name: ""}},
	}

	texts := post.CandidateTexts()

	assert.Equal(t, "heavy spoiler", texts[0])
	assert.Equal(t, "tom & jerry chase scenes #cartoons", texts[1])
}

func TestCandidateTextsKeepsSpoilerAndBodySeparate(t *testing.T) {
	post := &Post{
		URI:         "https://remote.example/@alice/1",
		SpoilerText: "cats",
		Content:     "<p>dogs</p>",
	}

	texts := post.CandidateTexts()

	assert.NotContains(t, texts[0], "dogs")
	assert.NotContains(t, texts[1], "cats")
}
