// Package sources holds the ingestion stages: each reads its cursor from
// the store, turns new external facts into posts, and proposes the updated
// pending list with its cursor writes.
package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvilelaf/tsunami/internal/compose"
	"github.com/dvilelaf/tsunami/internal/pipeline"
	"github.com/dvilelaf/tsunami/internal/posts"
	"github.com/dvilelaf/tsunami/pkg/logging"
)

// Composer writes the post text for a fact.
type Composer interface {
	BuildThread(ctx context.Context, fact, header string) ([]string, error)
}

// dateLayout is the format of the *_last_run_date keys.
const dateLayout = "2006-01-02"

// draft composes a post for fact and appends link to the thread when given.
// Facts the composer cannot fit are dropped with a warning; other errors are
// returned so the stage is replayed.
func draft(ctx context.Context, c Composer, fact, header, link string, env pipeline.Env, source string, log logging.Entry) (posts.Post, bool, error) {
	thread, err := c.BuildThread(ctx, fact, header)
	if err != nil {
		if errors.Is(err, compose.ErrNoFit) {
			skippedFacts.WithLabelValues(source, "no_fit").Inc()
			log.WithError(err).Warn("Dropping fact, no generation fit the budget")
			return posts.Post{}, false, nil
		}
		return posts.Post{}, false, err
	}
	if link != "" {
		thread = withLink(thread, link, compose.DefaultBudget)
	}
	factsPosted.WithLabelValues(source).Inc()
	return posts.New(thread, env.Now, source), true, nil
}

// withLink ends the thread with link, on the last message when it still
// fits and as an extra message otherwise.
func withLink(thread []string, link string, budget int) []string {
	out := append([]string(nil), thread...)
	if len(out) > 0 {
		joined := out[len(out)-1] + "\n\n" + link
		if compose.WeightedLength(joined) <= budget {
			out[len(out)-1] = joined
			return out
		}
	}
	return append(out, link)
}

// readJSON decodes key into out. A missing key leaves out untouched; an
// unreadable value is logged and treated as missing.
func readJSON(ctx context.Context, state pipeline.State, key string, out any, log logging.Entry) error {
	raw, ok, err := state.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		log.WithError(err).WithField("key", key).Warn("Stored value is unreadable, using default")
	}
	return nil
}

func encodeJSON(v any) (string, error) {
	raw, err := posts.MarshalCanonical(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// lastRun parses the date stored at key. Unparsable dates count as never.
func lastRun(ctx context.Context, state pipeline.State, key string) (time.Time, bool, error) {
	raw, ok, err := state.Get(ctx, key)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read %s: %w", key, err)
	}
	if !ok || raw == "" {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, false, nil
	}
	return t, true, nil
}

func day(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

// unchanged is the result of a stage with nothing to say.
func unchanged(env pipeline.Env) pipeline.StageResult {
	return pipeline.StageResult{Posts: env.Pending}
}
