package agreement

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestThreshold(t *testing.T) {
	for n, want := range map[int]int{1: 1, 2: 2, 3: 3, 4: 3, 5: 4, 7: 5} {
		require.Equal(t, want, Threshold(n), "n=%d", n)
	}
}

func TestLocalAgreesWithItself(t *testing.T) {
	out, err := Local{}.Propose(context.Background(), Round{Stage: "repos"}, []byte("p"))
	require.NoError(t, err)
	require.Equal(t, Done, out.Event)
	require.Equal(t, []byte("p"), out.Payload)
}

func newRound(t *testing.T, mr *miniredis.Miniredis, id string, replicas int, timeout time.Duration) *RedisRound {
	t.Helper()
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cfg := DefaultRedisConfig(id, replicas)
	cfg.PollInterval = 5 * time.Millisecond
	cfg.RoundTimeout = timeout
	r, err := NewRedisRound(client, cfg, quietLogger())
	require.NoError(t, err)
	return r
}

func TestRedisRoundReachesThreshold(t *testing.T) {
	mr := miniredis.RunT(t)
	round := Round{Period: 1, Stage: "repos", Attempt: 0}

	replicas := []*RedisRound{
		newRound(t, mr, "a", 4, 2*time.Second),
		newRound(t, mr, "b", 4, 2*time.Second),
		newRound(t, mr, "c", 4, 2*time.Second),
	}
	payloads := []string{"x", "x", "x"}

	var wg sync.WaitGroup
	outcomes := make([]Outcome, len(replicas))
	errs := make([]error, len(replicas))
	for i := range replicas {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = replicas[i].Propose(context.Background(), round, []byte(payloads[i]))
		}(i)
	}
	wg.Wait()

	for i := range replicas {
		require.NoError(t, errs[i])
		require.Equal(t, Done, outcomes[i].Event)
		require.Equal(t, "x", string(outcomes[i].Payload))
	}
	require.True(t, mr.Exists("tsunami:round:1:repos:0"))
}

func TestRedisRoundMinorityAdoptsAgreedPayload(t *testing.T) {
	mr := miniredis.RunT(t)
	round := Round{Period: 2, Stage: "omen"}
	mr.HSet("tsunami:round:"+round.String(), "a", "agreed", "b", "agreed", "c", "agreed")

	out, err := newRound(t, mr, "d", 4, time.Second).Propose(context.Background(), round, []byte("mine"))
	require.NoError(t, err)
	require.Equal(t, Done, out.Event)
	require.Equal(t, "agreed", string(out.Payload))
}

func TestRedisRoundNoMajority(t *testing.T) {
	mr := miniredis.RunT(t)
	round := Round{Period: 3, Stage: "suno"}
	mr.HSet("tsunami:round:"+round.String(), "a", "1", "b", "2")

	out, err := newRound(t, mr, "c", 3, time.Second).Propose(context.Background(), round, []byte("3"))
	require.NoError(t, err)
	require.Equal(t, NoMajority, out.Event)
	require.Nil(t, out.Payload)
}

func TestRedisRoundTimesOut(t *testing.T) {
	mr := miniredis.RunT(t)
	out, err := newRound(t, mr, "a", 4, 50*time.Millisecond).Propose(context.Background(), Round{Stage: "governance"}, []byte("p"))
	require.NoError(t, err)
	require.Equal(t, RoundTimeout, out.Event)
}

func TestRedisRoundCancelledIsError(t *testing.T) {
	mr := miniredis.RunT(t)
	r := newRound(t, mr, "a", 4, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := r.Propose(ctx, Round{Stage: "repos"}, []byte("p"))
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewRedisRoundValidates(t *testing.T) {
	_, err := NewRedisRound(nil, RedisConfig{Replicas: 1}, quietLogger())
	require.Error(t, err)
	_, err = NewRedisRound(nil, RedisConfig{ReplicaID: "a"}, quietLogger())
	require.Error(t, err)
}

func TestRedisRoundRelayFollowersAdoptLeader(t *testing.T) {
	mr := miniredis.RunT(t)
	round := Round{Period: 4, Stage: "publish"}
	leader := newRound(t, mr, "a", 3, time.Second)
	follower := newRound(t, mr, "b", 3, time.Second)

	done := make(chan Outcome, 1)
	go func() {
		out, err := follower.Relay(context.Background(), round, nil, false)
		if err == nil {
			done <- out
		}
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	out, err := leader.Relay(context.Background(), round, []byte("published"), true)
	require.NoError(t, err)
	require.Equal(t, "published", string(out.Payload))

	got, ok := <-done
	require.True(t, ok)
	require.Equal(t, Done, got.Event)
	require.Equal(t, "published", string(got.Payload))

	// A replayed leader keeps the first payload.
	out, err = leader.Relay(context.Background(), round, []byte("other"), true)
	require.NoError(t, err)
	require.Equal(t, "published", string(out.Payload))
}

func TestRedisRoundRelayTimesOutWithoutLeader(t *testing.T) {
	mr := miniredis.RunT(t)
	out, err := newRound(t, mr, "b", 3, 50*time.Millisecond).Relay(context.Background(), Round{Stage: "clock"}, nil, false)
	require.NoError(t, err)
	require.Equal(t, RoundTimeout, out.Event)
}

func TestLocalRelay(t *testing.T) {
	out, err := Local{}.Relay(context.Background(), Round{Stage: "clock"}, []byte("t"), true)
	require.NoError(t, err)
	require.Equal(t, "t", string(out.Payload))
}

func TestRedisRoundRelayIgnoresAttempt(t *testing.T) {
	mr := miniredis.RunT(t)
	leader := newRound(t, mr, "a", 2, time.Second)
	follower := newRound(t, mr, "b", 2, time.Second)

	_, err := leader.Relay(context.Background(), Round{Period: 2, Stage: "publish", Attempt: 0}, []byte("sent"), true)
	require.NoError(t, err)

	out, err := follower.Relay(context.Background(), Round{Period: 2, Stage: "publish", Attempt: 3}, nil, false)
	require.NoError(t, err)
	require.Equal(t, Done, out.Event)
	require.Equal(t, "sent", string(out.Payload))

	// Another period is a separate round.
	out, err = newRound(t, mr, "c", 2, 30*time.Millisecond).Relay(context.Background(), Round{Period: 3, Stage: "publish"}, nil, false)
	require.NoError(t, err)
	require.Equal(t, RoundTimeout, out.Event)
}
