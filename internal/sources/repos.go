package sources

import (
	"context"
	"fmt"
	"time"

	"github.com/dvilelaf/tsunami/internal/pipeline"
	"github.com/dvilelaf/tsunami/internal/posts"
	"github.com/dvilelaf/tsunami/pkg/logging"
)

// KeyRepos maps repository to the last seen release tag.
const KeyRepos = "repos"

// ReleaseWindow is how recent a release must be to get a post.
const ReleaseWindow = 24 * time.Hour

// RepoVersions is the value stored under KeyRepos.
type RepoVersions map[string]string

// Repos announces new releases of the tracked repositories.
type Repos struct {
	source   ReleaseSource
	repos    []string
	composer Composer
	logger   logging.Logger
}

func NewRepos(source ReleaseSource, repos []string, composer Composer, logger logging.Logger) *Repos {
	return &Repos{source: source, repos: repos, composer: composer, logger: logger}
}

func (r *Repos) Name() string { return "repos" }

func (r *Repos) Run(ctx context.Context, env pipeline.Env) (pipeline.StageResult, error) {
	known := RepoVersions{}
	if err := readJSON(ctx, env.State, KeyRepos, &known, r.logger.WithField("stage", r.Name())); err != nil {
		return pipeline.StageResult{}, err
	}

	pending := env.Pending
	for _, repo := range r.repos {
		log := r.logger.WithField("repo", repo)
		rel, err := r.source.LatestRelease(ctx, repo)
		if err != nil {
			if ctx.Err() != nil {
				return pipeline.StageResult{}, ctx.Err()
			}
			skippedFacts.WithLabelValues("repos", "lookup_failed").Inc()
			log.WithError(err).Warn("Skipping repository, release lookup failed")
			continue
		}
		if rel.TagName == "" || rel.TagName == known[repo] {
			continue
		}
		known[repo] = rel.TagName

		age := env.Now.Sub(rel.PublishedAt)
		if age > ReleaseWindow {
			log.WithFields(logging.Fields{"version": rel.TagName, "age": age.String()}).Info("Recording old release without a post")
			continue
		}
		post, ok, err := draft(ctx, r.composer, ReleaseFact(rel.TagName, repo), "", rel.HTMLURL, env, "repos", log)
		if err != nil {
			return pipeline.StageResult{}, err
		}
		if ok {
			pending = posts.Append(pending, post)
		}
	}

	encoded, err := encodeJSON(known)
	if err != nil {
		return pipeline.StageResult{}, fmt.Errorf("encode repos: %w", err)
	}
	return pipeline.StageResult{Posts: pending, Writes: map[string]string{KeyRepos: encoded}}, nil
}

func ReleaseFact(version, repo string) string {
	return fmt.Sprintf("Version %s of the %s repository has been released.", version, repo)
}
