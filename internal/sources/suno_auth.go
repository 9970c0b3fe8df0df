package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dvilelaf/tsunami/pkg/clients"
)

// TokenSource yields the bearer token of a song request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", errors.New("no suno token configured")
	}
	return string(t), nil
}

// SunoSessionConfig holds the long-lived browser session the short-lived
// API tokens are minted from.
type SunoSessionConfig struct {
	ClerkURL  string
	SessionID string
	Cookie    string
	// MaxAge bounds how long a minted token is reused. Tokens expire after
	// about a minute.
	MaxAge time.Duration
}

const clerkJSVersion = "4.72.0-snapshot.vc141245"

// SunoSession mints session tokens on demand and keeps the cookie jar
// current with whatever the token endpoint sets.
type SunoSession struct {
	http      *clients.Requester
	clerkURL  string
	sessionID string
	maxAge    time.Duration
	now       func() time.Time

	mu      sync.Mutex
	cookies map[string]string
	order   []string
	token   string
	minted  time.Time
}

func NewSunoSession(cfg SunoSessionConfig, opts ...clients.Option) (*SunoSession, error) {
	if cfg.SessionID == "" || cfg.Cookie == "" {
		return nil, errors.New("suno session needs a session id and a cookie")
	}
	parsed, err := http.ParseCookie(cfg.Cookie)
	if err != nil {
		return nil, fmt.Errorf("parse suno cookie: %w", err)
	}
	base := strings.TrimRight(cfg.ClerkURL, "/")
	if base == "" {
		base = "https://clerk.suno.com"
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 30 * time.Second
	}
	s := &SunoSession{
		http:      clients.NewRequester("suno_clerk", opts...),
		clerkURL:  base,
		sessionID: cfg.SessionID,
		maxAge:    cfg.MaxAge,
		now:       time.Now,
		cookies:   make(map[string]string),
	}
	for _, c := range parsed {
		s.setCookie(c.Name, c.Value)
	}
	return s, nil
}

func (s *SunoSession) setCookie(name, value string) {
	if _, ok := s.cookies[name]; !ok {
		s.order = append(s.order, name)
	}
	s.cookies[name] = value
}

func (s *SunoSession) cookieHeader() string {
	parts := make([]string, 0, len(s.order))
	for _, name := range s.order {
		parts = append(parts, name+"="+s.cookies[name])
	}
	return strings.Join(parts, "; ")
}

// Token returns a live token, minting a new one when the last is older than
// MaxAge.
func (s *SunoSession) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" && s.now().Sub(s.minted) < s.maxAge {
		return s.token, nil
	}
	if err := s.refresh(ctx); err != nil {
		return "", err
	}
	return s.token, nil
}

// Invalidate drops the cached token so the next call mints a new one.
func (s *SunoSession) Invalidate() {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
}

func (s *SunoSession) refresh(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/v1/client/sessions/%s/tokens?_clerk_js_version=%s",
		s.clerkURL, url.PathEscape(s.sessionID), clerkJSVersion)
	cookie := s.cookieHeader()
	resp, err := s.http.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Cookie", cookie)
		req.Header.Set("Content-Type", "text/plain;charset=UTF-8")
		req.Header.Set("Referer", "https://suno.com")
		req.Header.Set("Origin", "https://suno.com")
		return req, nil
	})
	if err != nil {
		return fmt.Errorf("suno token request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &clients.APIError{Upstream: s.http.Name(), StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	}
	var out struct {
		JWT string `json:"jwt"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode suno token: %w", err)
	}
	if out.JWT == "" {
		return errors.New("suno token response has no jwt")
	}
	for _, c := range resp.Cookies() {
		s.setCookie(c.Name, c.Value)
	}
	s.token = out.JWT
	s.minted = s.now()
	return nil
}
