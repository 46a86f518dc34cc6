package posts

import (
	"encoding/json"
	"errors"
	"html"
	"regexp"
	"strings"
)

var (
	ErrMissingURI = errors.New("post payload has no uri")

	tagPattern = regexp.MustCompile(`<[^>]+>`)
)

// Tag is a hashtag attached to a post. Only the name matters here.
type Tag struct {
	Name string `json:"name"`
}

// Post is one decoded firehose status. It lives for the duration of a
// single dispatch task.
type Post struct {
	URI              string            `json:"uri"`
	SpoilerText      string            `json:"spoiler_text"`
	Content          string            `json:"content"`
	Tags             []Tag             `json:"tags"`
	Reblog           json.RawMessage   `json:"reblog"`
	MediaAttachments []json.RawMessage `json:"media_attachments"`
}

// Decode parses a firehose `data:` payload into a Post. A payload without a
// uri cannot be fetched and is rejected with ErrMissingURI.
func Decode(payload []byte) (*Post, error) {
	var post Post
	if err := json.Unmarshal(payload, &post); err != nil {
		return nil, err
	}
	if post.URI == "" {
		return nil, ErrMissingURI
	}
	return &post, nil
}

// IsReblog reports whether the status is a share of another status.
func (p *Post) IsReblog() bool {
	raw := strings.TrimSpace(string(p.Reblog))
	return raw != "" && raw != "null" && raw != "false"
}

// HasMedia reports whether the status carries any media attachment.
func (p *Post) HasMedia() bool {
	return len(p.MediaAttachments) > 0
}

// CandidateTexts returns the two strings list terms are matched against:
// the lowercased spoiler text, and the lowercased plain-text body with the
// post's hashtags appended as "#name" tokens. A term needs to appear in one
// of them, not across both.
func (p *Post) CandidateTexts() [2]string {
	body := html.UnescapeString(tagPattern.ReplaceAllString(p.Content, ""))

	if len(p.Tags) > 0 {
		var sb strings.Builder
		sb.WriteString(body)
		for _, tag := range p.Tags {
			if tag.Name == "" {
				continue
			}
			sb.WriteString(" #")
			sb.WriteString(tag.Name)
		}
		body = sb.String()
	}

	return [2]string{
		strings.ToLower(p.SpoilerText),
		strings.ToLower(body),
	}
}
