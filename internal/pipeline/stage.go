// Package pipeline runs the ordered stages of a period and applies only the
// stage results the replicas agreed on.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/dvilelaf/tsunami/internal/posts"
)

// Persisted keys owned by the sequencer.
const (
	KeyPosts  = "tweets"
	KeyPeriod = "period"

	// FromBlockPrefix marks cursor keys that may only move forward.
	FromBlockPrefix = "from_block_"
)

// State is the read side of the cursor store handed to stages.
type State interface {
	Read(ctx context.Context, keys ...string) (map[string]string, error)
	Get(ctx context.Context, key string) (string, bool, error)
}

// Store is what the sequencer needs from the cursor store.
type Store interface {
	State
	Write(ctx context.Context, data map[string]string) error
}

// Env is the input of one stage attempt.
type Env struct {
	Period  uint64
	Now     time.Time
	Pending []posts.Post
	State   State
	// Anchor is the value the leader read for this stage when the period
	// started, or empty when the stage has none or the leader could not
	// read it.
	Anchor string
}

// StageResult is what a stage proposes: the complete new pending list and
// the cursor writes that go with it. Writes must not contain KeyPosts.
type StageResult struct {
	Posts  []posts.Post      `json:"posts"`
	Writes map[string]string `json:"writes"`
}

// Encode returns the canonical bytes replicas compare.
func (r StageResult) Encode() ([]byte, error) {
	if r.Posts == nil {
		r.Posts = []posts.Post{}
	}
	if r.Writes == nil {
		r.Writes = map[string]string{}
	}
	out, err := posts.MarshalCanonical(r)
	if err != nil {
		return nil, fmt.Errorf("encode stage result: %w", err)
	}
	return out, nil
}

// Stage is one step of a period.
type Stage interface {
	Name() string
	Run(ctx context.Context, env Env) (StageResult, error)
}

// LeaderStage is run by the leader replica only; followers adopt its result.
type LeaderStage interface {
	Stage
	LeaderOnly() bool
}

// AnchorStage reads external state that must be identical on every replica
// for the whole period, such as a chain head. The leader reads it when the
// period starts and relays it with the period clock.
type AnchorStage interface {
	Stage
	Anchor(ctx context.Context) (string, error)
}

// TimeoutStage overrides the sequencer's stage timeout. Zero disables it.
type TimeoutStage interface {
	Stage
	Timeout() time.Duration
}

// StageFunc adapts a function to Stage.
type StageFunc struct {
	StageName string
	Fn        func(ctx context.Context, env Env) (StageResult, error)
}

func (s StageFunc) Name() string { return s.StageName }

func (s StageFunc) Run(ctx context.Context, env Env) (StageResult, error) {
	return s.Fn(ctx, env)
}
