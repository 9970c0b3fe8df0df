package pipeline

import (
	"context"
	"time"

	"github.com/dvilelaf/tsunami/internal/publish"
)

// PublishStage pushes the pending list to the channels and proposes the
// pruned list. Only the leader publishes, and it runs without a stage
// timeout so a late expiry cannot discard flags of posts already sent.
type PublishStage struct {
	Tracker *publish.Tracker
}

func (PublishStage) Name() string { return "publish" }

func (PublishStage) LeaderOnly() bool { return true }

func (PublishStage) Timeout() time.Duration { return 0 }

func (p PublishStage) Run(ctx context.Context, env Env) (StageResult, error) {
	out := p.Tracker.Publish(ctx, env.Pending)
	return StageResult{Posts: p.Tracker.Prune(out)}, nil
}
