package sources

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/dvilelaf/tsunami/pkg/clients"
)

// Release is the part of a GitHub release the repos stage needs.
type Release struct {
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	HTMLURL     string    `json:"html_url"`
	PublishedAt time.Time `json:"published_at"`
}

// ReleaseSource looks up the latest release of owner/name.
type ReleaseSource interface {
	LatestRelease(ctx context.Context, repo string) (Release, error)
}

// GitHub is a minimal REST client for release lookups.
type GitHub struct {
	http    *clients.Requester
	baseURL string
	token   string
}

func NewGitHub(baseURL, token string, opts ...clients.Option) *GitHub {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	return &GitHub{http: clients.NewRequester("github", opts...), baseURL: baseURL, token: token}
}

func (g *GitHub) LatestRelease(ctx context.Context, repo string) (Release, error) {
	var rel Release
	err := g.http.DoJSON(ctx, http.MethodGet, g.baseURL+"/repos/"+repo+"/releases/latest", nil, func(h http.Header) {
		h.Set("Accept", "application/vnd.github+json")
		h.Set("X-GitHub-Api-Version", "2022-11-28")
		if g.token != "" {
			h.Set("Authorization", "Bearer "+g.token)
		}
	}, &rel)
	return rel, err
}
