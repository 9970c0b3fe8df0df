package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/failsafe-go/failsafe-go"
)

// APIError is returned when an upstream answers with a non-2xx status.
type APIError struct {
	Upstream   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned status: %d", e.Upstream, e.StatusCode)
	}
	return fmt.Sprintf("%s returned status: %d: %s", e.Upstream, e.StatusCode, e.Body)
}

// Requester holds the HTTP plumbing shared by the upstream API clients:
// one *http.Client plus the retry/circuit-breaker executor.
type Requester struct {
	name         string
	client       *http.Client
	httpExecutor failsafe.Executor[*http.Response]
	shouldRetry  func(resp *http.Response, err error) bool
}

// Option configures a Requester.
type Option func(*Requester)

// NewRequester builds a Requester for the named upstream.
func NewRequester(name string, opts ...Option) *Requester {
	defaultConfig := DefaultHTTPExecutorConfig()
	r := &Requester{
		name:         name,
		client:       &http.Client{Timeout: 30 * time.Second},
		httpExecutor: NewHTTPExecutor(defaultConfig),
		shouldRetry:  defaultConfig.ShouldRetry,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(r *Requester) {
		if httpClient != nil {
			r.client = httpClient
		}
	}
}

func WithHTTPExecutorConfig(cfg HTTPExecutorConfig) Option {
	return func(r *Requester) {
		cfg = normalizeHTTPExecutorConfig(cfg)
		r.httpExecutor = NewHTTPExecutor(cfg)
		r.shouldRetry = cfg.ShouldRetry
	}
}

// WithoutRetries sends each request exactly once. Tests use it to keep
// failure paths fast.
func WithoutRetries() Option {
	return func(r *Requester) {
		r.httpExecutor = nil
		r.shouldRetry = nil
	}
}

// Name returns the upstream name used in errors and metrics.
func (r *Requester) Name() string { return r.name }

// Do sends the request produced by build, rebuilding it for every attempt so
// bodies can be replayed.
func (r *Requester) Do(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	resp, err := r.do(ctx, build)
	status := "error"
	if resp != nil {
		status = strconv.Itoa(resp.StatusCode/100) + "xx"
	}
	upstreamRequests.WithLabelValues(r.name, status).Inc()
	return resp, err
}

func (r *Requester) do(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	if r.httpExecutor == nil {
		req, err := build(ctx)
		if err != nil {
			return nil, err
		}
		return r.client.Do(req)
	}

	return ExecuteHTTP(ctx, r.httpExecutor, func() (*http.Response, error) {
		req, err := build(ctx)
		if err != nil {
			return nil, err
		}
		resp, err := r.client.Do(req)
		if r.shouldRetry != nil && r.shouldRetry(resp, err) {
			if resp != nil && resp.Body != nil {
				_ = resp.Body.Close()
			}
		}
		return resp, err
	})
}

// DoJSON sends method to url with an optional JSON body, applies the header
// callback, and decodes a 2xx JSON response into out (when out is non-nil).
// Non-2xx answers become *APIError.
func (r *Requester) DoJSON(ctx context.Context, method, url string, body any, header func(http.Header), out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", r.name, err)
		}
	}

	resp, err := r.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if header != nil {
			header(req.Header)
		}
		return req, nil
	})
	if err != nil {
		return fmt.Errorf("%s request: %w", r.name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{Upstream: r.name, StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", r.name, err)
	}
	return nil
}
