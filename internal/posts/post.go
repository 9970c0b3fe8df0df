// Package posts holds the pending-post model persisted under the "tweets"
// key.
package posts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Channel names a publication target.
type Channel string

const (
	Twitter   Channel = "twitter"
	Farcaster Channel = "farcaster"
	Telegram  Channel = "telegram"
)

// AllChannels in the fixed order they are published.
var AllChannels = []Channel{Twitter, Farcaster, Telegram}

// idNamespace scopes post IDs.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://olas.network/tsunami/posts"))

// Text is a post body: one message, or a thread when it has several.
// It encodes as a JSON string for one message and as an array otherwise.
type Text []string

func (t Text) MarshalJSON() ([]byte, error) {
	if len(t) == 1 {
		return marshalRaw(t[0])
	}
	if t == nil {
		return []byte("[]"), nil
	}
	return marshalRaw([]string(t))
}

// marshalRaw encodes v without HTML escaping. The escaping done by
// json.Marshal would survive the outer encoder's SetEscapeHTML(false).
func marshalRaw(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text{s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("post text must be a string or list of strings: %w", err)
	}
	*t = list
	return nil
}

// IsThread reports whether the post spans several messages.
func (t Text) IsThread() bool { return len(t) > 1 }

// Post is a generated message awaiting publication on every enabled channel.
type Post struct {
	ID                 string `json:"id"`
	Text               Text   `json:"text"`
	TwitterPublished   bool   `json:"twitter_published"`
	FarcasterPublished bool   `json:"farcaster_published"`
	TelegramPublished  bool   `json:"telegram_published"`
	Timestamp          string `json:"timestamp"`
	Source             string `json:"source,omitempty"`
}

// New builds an unpublished post. The ID depends only on the text, so every
// replica derives the same one.
func New(text []string, at time.Time, source string) Post {
	return Post{
		ID:        uuid.NewSHA1(idNamespace, []byte(strings.Join(text, "\n"))).String(),
		Text:      Text(text),
		Timestamp: at.UTC().Format(time.RFC3339),
		Source:    source,
	}
}

func (p Post) Published(ch Channel) bool {
	switch ch {
	case Twitter:
		return p.TwitterPublished
	case Farcaster:
		return p.FarcasterPublished
	case Telegram:
		return p.TelegramPublished
	default:
		return false
	}
}

func (p *Post) MarkPublished(ch Channel) {
	switch ch {
	case Twitter:
		p.TwitterPublished = true
	case Farcaster:
		p.FarcasterPublished = true
	case Telegram:
		p.TelegramPublished = true
	}
}

// Done reports whether every enabled channel has the post.
func (p Post) Done(enabled []Channel) bool {
	for _, ch := range enabled {
		if !p.Published(ch) {
			return false
		}
	}
	return true
}

// Prune drops posts already published on every enabled channel.
func Prune(pending []Post, enabled []Channel) []Post {
	out := make([]Post, 0, len(pending))
	for _, p := range pending {
		if !p.Done(enabled) {
			out = append(out, p)
		}
	}
	return out
}

// Append adds candidates whose ID is not pending yet, preserving order.
func Append(pending []Post, candidates ...Post) []Post {
	seen := make(map[string]struct{}, len(pending))
	for _, p := range pending {
		seen[p.ID] = struct{}{}
	}
	for _, c := range candidates {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		pending = append(pending, c)
	}
	return pending
}

// Encode renders posts as the canonical JSON stored under "tweets": no HTML
// escaping, no trailing newline, fields in declaration order.
func Encode(list []Post) (string, error) {
	if list == nil {
		list = []Post{}
	}
	raw, err := marshalRaw(list)
	if err != nil {
		return "", fmt.Errorf("encode posts: %w", err)
	}
	return string(raw), nil
}

// MarshalCanonical encodes v the way Encode does. Replicas compare these
// bytes, so anything carrying posts must go through it.
func MarshalCanonical(v any) ([]byte, error) {
	return marshalRaw(v)
}

// Decode parses the stored list; an empty value is an empty list.
func Decode(raw string) ([]Post, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var list []Post
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("decode posts: %w", err)
	}
	return list, nil
}
