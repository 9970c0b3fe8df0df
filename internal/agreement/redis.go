package agreement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dvilelaf/tsunami/pkg/logging"
)

// RedisConfig configures a RedisRound checkpoint.
type RedisConfig struct {
	ReplicaID    string
	Replicas     int
	Prefix       string
	PollInterval time.Duration
	RoundTimeout time.Duration
	TTL          time.Duration
}

func DefaultRedisConfig(replicaID string, replicas int) RedisConfig {
	return RedisConfig{
		ReplicaID:    replicaID,
		Replicas:     replicas,
		Prefix:       "tsunami:round:",
		PollInterval: 250 * time.Millisecond,
		RoundTimeout: 30 * time.Second,
		TTL:          time.Hour,
	}
}

// RedisRound lets replicas sharing a Redis agree on a payload. Each replica
// writes its proposal into a per-round hash keyed by replica ID and polls the
// hash until a payload reaches the threshold, every replica has proposed
// without one doing so, or the round times out.
type RedisRound struct {
	client goredis.UniversalClient
	cfg    RedisConfig
	logger logging.Logger
}

func NewRedisRound(client goredis.UniversalClient, cfg RedisConfig, logger logging.Logger) (*RedisRound, error) {
	if cfg.ReplicaID == "" || strings.HasPrefix(cfg.ReplicaID, "@") {
		return nil, fmt.Errorf("invalid replica id %q", cfg.ReplicaID)
	}
	if cfg.Replicas < 1 {
		return nil, fmt.Errorf("replica count must be positive, got %d", cfg.Replicas)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	return &RedisRound{client: client, cfg: cfg, logger: logger}, nil
}

func (r *RedisRound) key(round Round) string {
	return r.cfg.Prefix + round.String()
}

// relayKey ignores the attempt: replicas count attempts independently, and a
// follower that timed out must still find the value the leader wrote under an
// earlier attempt.
func (r *RedisRound) relayKey(round Round) string {
	return fmt.Sprintf("%s%d:%s:relay", r.cfg.Prefix, round.Period, round.Stage)
}

func (r *RedisRound) Propose(ctx context.Context, round Round, payload []byte) (Outcome, error) {
	if r.cfg.RoundTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.RoundTimeout)
		defer cancel()
	}
	key := r.key(round)
	log := r.logger.WithField("round", round.String())

	_, err := r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, key, r.cfg.ReplicaID, payload)
		if r.cfg.TTL > 0 {
			pipe.Expire(ctx, key, r.cfg.TTL)
		}
		return nil
	})
	if err != nil {
		return r.timeoutOr(ctx, fmt.Errorf("write proposal: %w", err))
	}

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	threshold := Threshold(r.cfg.Replicas)
	for {
		proposals, err := r.client.HGetAll(ctx, key).Result()
		if err != nil {
			return r.timeoutOr(ctx, fmt.Errorf("read proposals: %w", err))
		}
		if out, ok := tally(proposals, r.cfg.Replicas, threshold); ok {
			rounds.WithLabelValues(string(out.Event)).Inc()
			log.WithField("event", out.Event).WithField("proposals", len(proposals)).Debug("Round settled")
			return out, nil
		}

		select {
		case <-ctx.Done():
			return r.timeoutOr(ctx, ctx.Err())
		case <-ticker.C:
		}
	}
}

// leaderField holds the leader's payload in a relayed round. Replica IDs
// never start with '@'.
const leaderField = "@leader"

func (r *RedisRound) Relay(ctx context.Context, round Round, payload []byte, leader bool) (Outcome, error) {
	if r.cfg.RoundTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.RoundTimeout)
		defer cancel()
	}
	key := r.relayKey(round)

	if leader {
		// SETNX keeps a replayed leader from overwriting a value followers
		// may already have adopted; the leader adopts the first value too.
		_, err := r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSetNX(ctx, key, leaderField, payload)
			if r.cfg.TTL > 0 {
				pipe.Expire(ctx, key, r.cfg.TTL)
			}
			return nil
		})
		if err != nil {
			return r.timeoutOr(ctx, fmt.Errorf("write leader payload: %w", err))
		}
	}

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		value, err := r.client.HGet(ctx, key, leaderField).Bytes()
		switch {
		case err == nil:
			rounds.WithLabelValues(string(Done)).Inc()
			return Outcome{Event: Done, Payload: value}, nil
		case !errors.Is(err, goredis.Nil):
			return r.timeoutOr(ctx, fmt.Errorf("read leader payload: %w", err))
		}

		select {
		case <-ctx.Done():
			return r.timeoutOr(ctx, ctx.Err())
		case <-ticker.C:
		}
	}
}

// timeoutOr maps an expired round to ROUND_TIMEOUT and passes other errors
// through.
func (r *RedisRound) timeoutOr(ctx context.Context, err error) (Outcome, error) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		rounds.WithLabelValues(string(RoundTimeout)).Inc()
		return Outcome{Event: RoundTimeout}, nil
	}
	return Outcome{}, err
}

// tally reports a settled outcome once a payload reaches threshold or all
// replicas have proposed.
func tally(proposals map[string]string, replicas, threshold int) (Outcome, bool) {
	delete(proposals, leaderField)
	counts := make(map[string]int, len(proposals))
	for _, p := range proposals {
		counts[p]++
		if counts[p] >= threshold {
			return Outcome{Event: Done, Payload: []byte(p)}, true
		}
	}
	if len(proposals) >= replicas {
		return Outcome{Event: NoMajority}, true
	}
	return Outcome{}, false
}
