package sources

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dvilelaf/tsunami/internal/compose"
	"github.com/dvilelaf/tsunami/internal/posts"
	"github.com/dvilelaf/tsunami/pkg/clients"
	"github.com/dvilelaf/tsunami/pkg/llm"
)

func githubServer(t *testing.T, releases map[string]Release) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		repo := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/repos/"), "/releases/latest")
		rel, ok := releases[repo]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(rel)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func runRepos(t *testing.T, rel Release, composer Composer) ([]posts.Post, RepoVersions) {
	t.Helper()
	srv := githubServer(t, map[string]Release{"a/b": rel})
	stage := NewRepos(NewGitHub(srv.URL, "", clients.WithoutRetries()), []string{"a/b", "c/missing"}, composer, quietLogger())

	res, err := stage.Run(context.Background(), newEnv(t, map[string]string{KeyRepos: `{"a/b":"v1.0","c/missing":"v3"}`}))
	require.NoError(t, err)
	var versions RepoVersions
	require.NoError(t, json.Unmarshal([]byte(res.Writes[KeyRepos]), &versions))
	return res.Posts, versions
}

func TestReposUnchangedVersionHasNoPost(t *testing.T) {
	got, versions := runRepos(t, Release{TagName: "v1.0", PublishedAt: now.Add(-time.Hour)}, &echoComposer{})
	require.Empty(t, got)
	require.Equal(t, RepoVersions{"a/b": "v1.0", "c/missing": "v3"}, versions)
}

func TestReposRecentReleaseEndsWithURL(t *testing.T) {
	url := "https://github.com/a/b/releases/tag/v1.1"
	composer := &echoComposer{}
	got, versions := runRepos(t, Release{TagName: "v1.1", HTMLURL: url, PublishedAt: now.Add(-2 * time.Hour)}, composer)

	require.Len(t, got, 1)
	last := got[0].Text[len(got[0].Text)-1]
	require.True(t, strings.HasSuffix(last, url), last)
	require.Equal(t, []string{"Version v1.1 of the a/b repository has been released."}, composer.facts)
	require.Equal(t, "v1.1", versions["a/b"])
	require.Equal(t, "v3", versions["c/missing"], "failed lookups keep the known version")
}

func TestReposOldReleaseOnlyUpdatesVersion(t *testing.T) {
	got, versions := runRepos(t, Release{TagName: "v2.0", PublishedAt: now.Add(-72 * time.Hour)}, &echoComposer{})
	require.Empty(t, got)
	require.Equal(t, "v2.0", versions["a/b"])
}

func TestReposUnsplittableGenerationHasNoPost(t *testing.T) {
	gen := compose.GeneratorFunc(func(context.Context, llm.Request) (string, error) {
		return strings.Repeat("a", 500), nil
	})
	generator := compose.NewGenerator(gen, compose.DefaultGeneratorConfig(), quietLogger())
	got, versions := runRepos(t, Release{TagName: "v1.1", HTMLURL: "https://x", PublishedAt: now.Add(-time.Hour)}, generator)
	require.Empty(t, got)
	require.Equal(t, "v1.1", versions["a/b"])
}

func TestGitHubSendsToken(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"tag_name":"v1","html_url":"u","published_at":"2024-05-01T10:00:00Z"}`))
	}))
	defer srv.Close()

	rel, err := NewGitHub(srv.URL, "ghp", clients.WithoutRetries()).LatestRelease(context.Background(), "a/b")
	require.NoError(t, err)
	require.Equal(t, "Bearer ghp", auth)
	require.Equal(t, "v1", rel.TagName)
	require.True(t, rel.PublishedAt.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)))
}
