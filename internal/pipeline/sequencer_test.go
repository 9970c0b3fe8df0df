package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/dvilelaf/tsunami/internal/agreement"
	"github.com/dvilelaf/tsunami/internal/kvstore"
	"github.com/dvilelaf/tsunami/internal/posts"
	"github.com/dvilelaf/tsunami/internal/publish"
)

var periodStart = time.Date(2024, 5, 1, 9, 30, 15, 500, time.UTC)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newStore() *kvstore.Store {
	return kvstore.NewStore(kvstore.NewConnection(kvstore.NewMemoryBackend(), quietLogger()))
}

// scriptedCheckpoint returns queued outcomes for Propose and agrees with the
// proposal once the queue is empty.
type scriptedCheckpoint struct {
	mu       sync.Mutex
	queue    []agreement.Outcome
	rounds   []agreement.Round
	relayed  []byte
	relays   []agreement.Round
	override []byte
	// relayErrs fails that many leader relays before succeeding.
	relayErrs int
}

func (c *scriptedCheckpoint) Propose(_ context.Context, round agreement.Round, payload []byte) (agreement.Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rounds = append(c.rounds, round)
	if len(c.queue) > 0 {
		out := c.queue[0]
		c.queue = c.queue[1:]
		return out, nil
	}
	if c.override != nil {
		return agreement.Outcome{Event: agreement.Done, Payload: c.override}, nil
	}
	return agreement.Outcome{Event: agreement.Done, Payload: payload}, nil
}

func (c *scriptedCheckpoint) Relay(_ context.Context, round agreement.Round, payload []byte, leader bool) (agreement.Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.relays = append(c.relays, round)
	if leader && c.relayErrs > 0 && round.Stage != clockStage {
		c.relayErrs--
		return agreement.Outcome{}, errors.New("relay unavailable")
	}
	if leader {
		return agreement.Outcome{Event: agreement.Done, Payload: payload}, nil
	}
	return agreement.Outcome{Event: agreement.Done, Payload: c.relayed}, nil
}

func newSequencer(store Store, cp agreement.Checkpoint, cfg Config, stages ...Stage) (*Sequencer, *[]time.Duration) {
	s := NewSequencer(store, cp, cfg, quietLogger(), stages...)
	s.now = func() time.Time { return periodStart }
	var slept []time.Duration
	s.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return s, &slept
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryDelay = time.Second
	cfg.MaxRetryDelay = 4 * time.Second
	return cfg
}

func appendStage(name, text string, writes map[string]string) Stage {
	return StageFunc{StageName: name, Fn: func(_ context.Context, env Env) (StageResult, error) {
		return StageResult{
			Posts:  posts.Append(env.Pending, posts.New([]string{text}, env.Now, name)),
			Writes: writes,
		}, nil
	}}
}

func TestRunPeriodAppliesStagesInOrder(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	var seen []int
	var seenNow time.Time
	second := StageFunc{StageName: "second", Fn: func(_ context.Context, env Env) (StageResult, error) {
		seen = append(seen, len(env.Pending))
		seenNow = env.Now
		return StageResult{Posts: posts.Append(env.Pending, posts.New([]string{"two"}, env.Now, "second"))}, nil
	}}

	seq, _ := newSequencer(store, agreement.Local{}, testConfig(),
		appendStage("first", "one", map[string]string{"repos": `{"a/b":"v1"}`}), second)
	require.NoError(t, seq.RunPeriod(ctx))

	require.Equal(t, []int{1}, seen)
	require.Equal(t, periodStart.Truncate(time.Second), seenNow)

	data, err := store.Read(ctx, KeyPosts, KeyPeriod, "repos")
	require.NoError(t, err)
	require.Equal(t, "1", data[KeyPeriod])
	require.Equal(t, `{"a/b":"v1"}`, data["repos"])
	pending, err := posts.Decode(data[KeyPosts])
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, posts.Text{"one"}, pending[0].Text)
	require.Equal(t, "2024-05-01T09:30:15Z", pending[0].Timestamp)
	require.False(t, seq.LastPeriodEnd().IsZero())

	require.NoError(t, seq.RunPeriod(ctx))
	v, _, err := store.Get(ctx, KeyPeriod)
	require.NoError(t, err)
	require.Equal(t, "2", v)
}

func TestAgreedPayloadWinsOverLocal(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	agreed, err := StageResult{
		Posts:  []posts.Post{posts.New([]string{"majority"}, periodStart, "x")},
		Writes: map[string]string{"repos": "majority"},
	}.Encode()
	require.NoError(t, err)

	cp := &scriptedCheckpoint{override: agreed}
	seq, _ := newSequencer(store, cp, testConfig(), appendStage("x", "local", map[string]string{"repos": "local"}))
	require.NoError(t, seq.RunPeriod(ctx))

	data, err := store.Read(ctx, KeyPosts, "repos")
	require.NoError(t, err)
	require.Equal(t, "majority", data["repos"])
	require.Contains(t, data[KeyPosts], `"text":"majority"`)
}

func TestFailedRoundsAreReplayedWithBackoff(t *testing.T) {
	ctx := context.Background()
	runs := 0
	stage := StageFunc{StageName: "repos", Fn: func(_ context.Context, env Env) (StageResult, error) {
		runs++
		if runs == 3 {
			return StageResult{}, errors.New("github unavailable")
		}
		return StageResult{Posts: env.Pending}, nil
	}}
	cp := &scriptedCheckpoint{queue: []agreement.Outcome{
		{Event: agreement.NoMajority},
		{Event: agreement.RoundTimeout},
	}}
	seq, slept := newSequencer(newStore(), cp, testConfig(), stage)
	require.NoError(t, seq.RunPeriod(ctx))

	require.Equal(t, 4, runs)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, *slept)
	require.Len(t, cp.rounds, 3)
	for _, r := range cp.rounds {
		require.Equal(t, uint64(1), r.Period)
		require.Equal(t, "repos", r.Stage)
	}
	require.Equal(t, 0, cp.rounds[0].Attempt)
	require.Equal(t, 3, cp.rounds[2].Attempt)
}

func TestStageTimeoutCountsAsRoundTimeout(t *testing.T) {
	ctx := context.Background()
	runs := 0
	stage := StageFunc{StageName: "omen", Fn: func(ctx context.Context, env Env) (StageResult, error) {
		runs++
		if runs == 1 {
			<-ctx.Done()
			return StageResult{}, ctx.Err()
		}
		return StageResult{Posts: env.Pending}, nil
	}}
	cfg := testConfig()
	cfg.StageTimeout = 10 * time.Millisecond
	cp := &scriptedCheckpoint{}
	seq, slept := newSequencer(newStore(), cp, cfg, stage)
	require.NoError(t, seq.RunPeriod(ctx))

	require.Equal(t, 2, runs)
	require.Len(t, *slept, 1)
	require.Len(t, cp.rounds, 1, "timed out attempt must not be proposed")
}

func TestPanickingStageIsReplayed(t *testing.T) {
	runs := 0
	stage := StageFunc{StageName: "suno", Fn: func(_ context.Context, env Env) (StageResult, error) {
		runs++
		if runs == 1 {
			panic("boom")
		}
		return StageResult{}, nil
	}}
	seq, slept := newSequencer(newStore(), agreement.Local{}, testConfig(), stage)
	require.NoError(t, seq.RunPeriod(context.Background()))
	require.Equal(t, 2, runs)
	require.Len(t, *slept, 1)
}

func TestCursorWritesNeverRegress(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	require.NoError(t, store.Write(ctx, map[string]string{"from_block_ethereum": "100"}))

	seq, _ := newSequencer(store, agreement.Local{}, testConfig(),
		appendStage("events", "a", map[string]string{"from_block_ethereum": "90", "from_block_gnosis": "5"}))
	require.NoError(t, seq.RunPeriod(ctx))
	data, err := store.Read(ctx, "from_block_ethereum", "from_block_gnosis")
	require.NoError(t, err)
	require.Equal(t, "100", data["from_block_ethereum"])
	require.Equal(t, "5", data["from_block_gnosis"])

	seq, _ = newSequencer(store, agreement.Local{}, testConfig(),
		appendStage("events", "b", map[string]string{"from_block_ethereum": "120"}))
	require.NoError(t, seq.RunPeriod(ctx))
	v, _, err := store.Get(ctx, "from_block_ethereum")
	require.NoError(t, err)
	require.Equal(t, "120", v)
}

func TestStagesCannotOverwritePostsThroughWrites(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	seq, _ := newSequencer(store, agreement.Local{}, testConfig(),
		appendStage("x", "real", map[string]string{KeyPosts: "[]"}))
	require.NoError(t, seq.RunPeriod(ctx))
	raw, _, err := store.Get(ctx, KeyPosts)
	require.NoError(t, err)
	require.Contains(t, raw, `"text":"real"`)
}

type countingPublisher struct{ calls int }

func (c *countingPublisher) Channel() posts.Channel { return posts.Twitter }

func (c *countingPublisher) Publish(_ context.Context, text []string, sent []string) ([]string, error) {
	c.calls++
	ids := append([]string(nil), sent...)
	for len(ids) < len(text) {
		ids = append(ids, "1")
	}
	return ids, nil
}

func TestFollowerAdoptsLeaderPublication(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	pending := []posts.Post{posts.New([]string{"queued"}, periodStart, "x")}
	raw, err := posts.Encode(pending)
	require.NoError(t, err)
	require.NoError(t, store.Write(ctx, map[string]string{KeyPosts: raw}))

	leaderResult, err := StageResult{Posts: []posts.Post{}}.Encode()
	require.NoError(t, err)
	cp := &scriptedCheckpoint{relayed: leaderResult}

	pub := &countingPublisher{}
	cfg := testConfig()
	cfg.Leader = false
	tracker := publish.NewTracker(publish.DefaultTrackerConfig(), quietLogger(), pub)
	seq, _ := newSequencer(store, cp, cfg, PublishStage{Tracker: tracker})

	// The follower has no clock of its own to offer.
	cp.relayed = []byte(`{"anchors":{},"time":"2024-05-01T09:30:15Z"}`)
	open, err := seq.settleClock(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, periodStart.Truncate(time.Second), open.Time)
	cp.relayed = leaderResult

	require.NoError(t, seq.runStage(ctx, 1, open, PublishStage{Tracker: tracker}))
	require.Zero(t, pub.calls)
	v, _, err := store.Get(ctx, KeyPosts)
	require.NoError(t, err)
	require.Equal(t, "[]", v)
}

func TestLeaderPublishesAndPrunes(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	raw, err := posts.Encode([]posts.Post{posts.New([]string{"queued"}, periodStart, "x")})
	require.NoError(t, err)
	require.NoError(t, store.Write(ctx, map[string]string{KeyPosts: raw}))

	pub := &countingPublisher{}
	tracker := publish.NewTracker(publish.DefaultTrackerConfig(), quietLogger(), pub)
	cp := &scriptedCheckpoint{}
	seq, _ := newSequencer(store, cp, testConfig(), PublishStage{Tracker: tracker})
	require.NoError(t, seq.RunPeriod(ctx))

	require.Equal(t, 1, pub.calls)
	require.Len(t, cp.relays, 2, "clock and publish rounds are relayed")
	require.Empty(t, cp.rounds)
	v, _, err := store.Get(ctx, KeyPosts)
	require.NoError(t, err)
	require.Equal(t, "[]", v)
}

func TestReplayedPublishDoesNotRepost(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	raw, err := posts.Encode([]posts.Post{posts.New([]string{"queued"}, periodStart, "x")})
	require.NoError(t, err)
	require.NoError(t, store.Write(ctx, map[string]string{KeyPosts: raw}))

	pub := &countingPublisher{}
	tracker := publish.NewTracker(publish.DefaultTrackerConfig(), quietLogger(), pub).
		WithJournal(publish.NewStoreJournal(store))
	cp := &scriptedCheckpoint{relayErrs: 1}
	seq, _ := newSequencer(store, cp, testConfig(), PublishStage{Tracker: tracker})
	require.NoError(t, seq.RunPeriod(ctx))

	require.Equal(t, 1, pub.calls)
	v, _, err := store.Get(ctx, KeyPosts)
	require.NoError(t, err)
	require.Equal(t, "[]", v)
}

// slowLeaderStage outlasts the relay timeout before producing its result.
type slowLeaderStage struct{ delay time.Duration }

func (slowLeaderStage) Name() string { return "slow" }

func (slowLeaderStage) LeaderOnly() bool { return true }

func (s slowLeaderStage) Run(ctx context.Context, env Env) (StageResult, error) {
	if err := sleepCtx(ctx, s.delay); err != nil {
		return StageResult{}, err
	}
	return StageResult{Posts: posts.Append(env.Pending, posts.New([]string{"slow"}, env.Now, "slow"))}, nil
}

func TestFollowerSettlesSlowLeaderRound(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()

	newRound := func(id string) agreement.Checkpoint {
		cfg := agreement.DefaultRedisConfig(id, 2)
		cfg.PollInterval = 10 * time.Millisecond
		cfg.RoundTimeout = 300 * time.Millisecond
		r, err := agreement.NewRedisRound(client, cfg, quietLogger())
		require.NoError(t, err)
		return r
	}
	cfg := testConfig()
	cfg.RetryDelay = 10 * time.Millisecond
	cfg.MaxRetryDelay = 50 * time.Millisecond
	followerCfg := cfg
	followerCfg.Leader = false

	stage := slowLeaderStage{delay: 600 * time.Millisecond}
	leaderStore, followerStore := newStore(), newStore()
	leader := NewSequencer(leaderStore, newRound("a"), cfg, quietLogger(), stage)
	follower := NewSequencer(followerStore, newRound("b"), followerCfg, quietLogger(), stage)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errs := make(chan error, 2)
	go func() { errs <- leader.RunPeriod(ctx) }()
	go func() { errs <- follower.RunPeriod(ctx) }()
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	want, _, err := leaderStore.Get(ctx, KeyPosts)
	require.NoError(t, err)
	got, _, err := followerStore.Get(ctx, KeyPosts)
	require.NoError(t, err)
	require.Contains(t, want, `"text":"slow"`)
	require.Equal(t, want, got)
}

// headStage reports the chain head it was anchored to.
type headStage struct {
	head string
	err  error
	seen *string
}

func (headStage) Name() string { return "events_test" }

func (h headStage) Anchor(context.Context) (string, error) { return h.head, h.err }

func (h headStage) Run(_ context.Context, env Env) (StageResult, error) {
	*h.seen = env.Anchor
	return StageResult{Posts: env.Pending, Writes: map[string]string{"from_block_test": env.Anchor}}, nil
}

func TestLeaderAnchorsAreRelayedToStages(t *testing.T) {
	ctx := context.Background()
	var seen string
	cp := &scriptedCheckpoint{}
	seq, _ := newSequencer(newStore(), cp, testConfig(), headStage{head: "1000", seen: &seen})
	require.NoError(t, seq.RunPeriod(ctx))
	require.Equal(t, "1000", seen)

	// A follower ignores its own view of the chain and uses the leader's.
	cfg := testConfig()
	cfg.Leader = false
	follower := &scriptedCheckpoint{relayed: []byte(`{"anchors":{"events_test":"1000"},"time":"2024-05-01T09:30:15Z"}`)}
	store := newStore()
	seq, _ = newSequencer(store, follower, cfg, headStage{head: "1001", seen: &seen})
	require.NoError(t, seq.RunPeriod(ctx))
	require.Equal(t, "1000", seen)
	v, _, err := store.Get(ctx, "from_block_test")
	require.NoError(t, err)
	require.Equal(t, "1000", v)
}

func TestUnreadableAnchorIsLeftEmpty(t *testing.T) {
	var seen = "unset"
	seq, _ := newSequencer(newStore(), agreement.Local{}, testConfig(), headStage{err: errors.New("rpc down"), seen: &seen})
	require.NoError(t, seq.RunPeriod(context.Background()))
	require.Empty(t, seen)
}

func TestPeriodOpeningEncodingIsCanonical(t *testing.T) {
	raw, err := periodOpening{Time: periodStart, Anchors: map[string]string{"b": "2", "a": "1"}}.encode()
	require.NoError(t, err)
	require.Equal(t, `{"anchors":{"a":"1","b":"2"},"time":"2024-05-01T09:30:15Z"}`, string(raw))
	open, err := decodePeriodOpening(raw)
	require.NoError(t, err)
	require.Equal(t, "1", open.Anchors["a"])
}

func TestRunPausesBetweenPeriods(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPeriods = 3
	cfg.ResetPause = time.Minute
	seq, slept := newSequencer(newStore(), agreement.Local{}, cfg, appendStage("x", "a", nil))
	require.NoError(t, seq.Run(context.Background()))
	require.Equal(t, []time.Duration{time.Minute, time.Minute}, *slept)
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	seq := NewSequencer(newStore(), agreement.Local{}, testConfig(), quietLogger(), appendStage("x", "a", nil))
	require.ErrorIs(t, seq.Run(ctx), context.Canceled)
}

func TestStageResultEncodingIsCanonical(t *testing.T) {
	r := StageResult{Writes: map[string]string{"b": "2", "a": "1"}}
	a, err := r.Encode()
	require.NoError(t, err)
	require.Equal(t, `{"posts":[],"writes":{"a":"1","b":"2"}}`, string(a))
}
