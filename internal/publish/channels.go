package publish

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/dvilelaf/tsunami/internal/posts"
	"github.com/dvilelaf/tsunami/pkg/clients"
)

// Publisher sends one post (a single message or a reply-chained thread) to a
// channel. sent holds the IDs of messages of the thread already posted by an
// earlier pass; publishing resumes after them, replying to the last one. The
// returned IDs cover the whole thread posted so far, including sent, and are
// returned even alongside an error.
type Publisher interface {
	Channel() posts.Channel
	Publish(ctx context.Context, text []string, sent []string) ([]string, error)
}

var errEmptyPost = errors.New("post has no text")

func startThread(text, sent []string) ([]string, error) {
	if len(text) == 0 {
		return nil, errEmptyPost
	}
	if len(sent) > len(text) {
		sent = sent[:len(text)]
	}
	return append(make([]string, 0, len(text)), sent...), nil
}

func lastID(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	return ids[len(ids)-1]
}

// TwitterConfig configures the X API v2 client.
type TwitterConfig struct {
	BaseURL     string
	BearerToken string
}

type Twitter struct {
	http    *clients.Requester
	baseURL string
	token   string
}

func NewTwitter(cfg TwitterConfig, opts ...clients.Option) *Twitter {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.x.com"
	}
	return &Twitter{http: clients.NewRequester("twitter", opts...), baseURL: base, token: cfg.BearerToken}
}

func (t *Twitter) Channel() posts.Channel { return posts.Twitter }

type tweetReply struct {
	InReplyToTweetID string `json:"in_reply_to_tweet_id"`
}

type tweetRequest struct {
	Text  string      `json:"text"`
	Reply *tweetReply `json:"reply,omitempty"`
}

type tweetResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (t *Twitter) Publish(ctx context.Context, text []string, sent []string) ([]string, error) {
	ids, err := startThread(text, sent)
	if err != nil {
		return nil, err
	}
	for i := len(ids); i < len(text); i++ {
		body := tweetRequest{Text: text[i]}
		if prev := lastID(ids); prev != "" {
			body.Reply = &tweetReply{InReplyToTweetID: prev}
		}
		var out tweetResponse
		err := t.http.DoJSON(ctx, http.MethodPost, t.baseURL+"/2/tweets", body, func(h http.Header) {
			h.Set("Authorization", "Bearer "+t.token)
		}, &out)
		if err != nil {
			return ids, fmt.Errorf("tweet %d/%d: %w", i+1, len(text), err)
		}
		if out.Data.ID == "" {
			return ids, fmt.Errorf("tweet %d/%d: response has no id", i+1, len(text))
		}
		ids = append(ids, out.Data.ID)
	}
	return ids, nil
}

// FarcasterConfig configures the Neynar cast client.
type FarcasterConfig struct {
	BaseURL    string
	APIKey     string
	SignerUUID string
}

type Farcaster struct {
	http    *clients.Requester
	baseURL string
	apiKey  string
	signer  string
}

func NewFarcaster(cfg FarcasterConfig, opts ...clients.Option) *Farcaster {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.neynar.com"
	}
	return &Farcaster{
		http:    clients.NewRequester("farcaster", opts...),
		baseURL: base,
		apiKey:  cfg.APIKey,
		signer:  cfg.SignerUUID,
	}
}

func (f *Farcaster) Channel() posts.Channel { return posts.Farcaster }

type castRequest struct {
	SignerUUID string `json:"signer_uuid"`
	Text       string `json:"text"`
	Parent     string `json:"parent,omitempty"`
}

type castResponse struct {
	Success bool `json:"success"`
	Cast    struct {
		Hash string `json:"hash"`
	} `json:"cast"`
}

func (f *Farcaster) Publish(ctx context.Context, text []string, sent []string) ([]string, error) {
	ids, err := startThread(text, sent)
	if err != nil {
		return nil, err
	}
	for i := len(ids); i < len(text); i++ {
		var out castResponse
		err := f.http.DoJSON(ctx, http.MethodPost, f.baseURL+"/v2/farcaster/cast",
			castRequest{SignerUUID: f.signer, Text: text[i], Parent: lastID(ids)},
			func(h http.Header) { h.Set("x-api-key", f.apiKey) }, &out)
		if err != nil {
			return ids, fmt.Errorf("cast %d/%d: %w", i+1, len(text), err)
		}
		if out.Cast.Hash == "" {
			return ids, fmt.Errorf("cast %d/%d: response has no hash", i+1, len(text))
		}
		ids = append(ids, out.Cast.Hash)
	}
	return ids, nil
}

// TelegramConfig configures the Bot API client.
type TelegramConfig struct {
	BaseURL  string
	BotToken string
	ChatID   string
}

type Telegram struct {
	http    *clients.Requester
	baseURL string
	token   string
	chatID  string
}

func NewTelegram(cfg TelegramConfig, opts ...clients.Option) *Telegram {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.telegram.org"
	}
	return &Telegram{
		http:    clients.NewRequester("telegram", opts...),
		baseURL: base,
		token:   cfg.BotToken,
		chatID:  cfg.ChatID,
	}
}

func (t *Telegram) Channel() posts.Channel { return posts.Telegram }

type telegramMessage struct {
	ChatID           string `json:"chat_id"`
	Text             string `json:"text"`
	ReplyToMessageID int64  `json:"reply_to_message_id,omitempty"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

func (t *Telegram) Publish(ctx context.Context, text []string, sent []string) ([]string, error) {
	ids, err := startThread(text, sent)
	if err != nil {
		return nil, err
	}
	var prev int64
	if last := lastID(ids); last != "" {
		if prev, err = strconv.ParseInt(last, 10, 64); err != nil {
			return ids, fmt.Errorf("telegram reply target %q: %w", last, err)
		}
	}
	for i := len(ids); i < len(text); i++ {
		var out telegramResponse
		err := t.http.DoJSON(ctx, http.MethodPost, t.baseURL+"/bot"+t.token+"/sendMessage",
			telegramMessage{ChatID: t.chatID, Text: text[i], ReplyToMessageID: prev}, nil, &out)
		if err != nil {
			return ids, fmt.Errorf("telegram message %d/%d: %w", i+1, len(text), err)
		}
		if !out.OK {
			return ids, fmt.Errorf("telegram message %d/%d: %s", i+1, len(text), out.Description)
		}
		prev = out.Result.MessageID
		ids = append(ids, strconv.FormatInt(prev, 10))
	}
	return ids, nil
}
