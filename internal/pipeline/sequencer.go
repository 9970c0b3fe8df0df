package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dvilelaf/tsunami/internal/agreement"
	"github.com/dvilelaf/tsunami/internal/posts"
	"github.com/dvilelaf/tsunami/pkg/logging"
)

// clockStage names the round that fixes a period's reference time.
const clockStage = "clock"

// Config controls timing of the sequencer.
type Config struct {
	// Leader runs leader-only stages and decides the period clock.
	Leader        bool
	StageTimeout  time.Duration
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	ResetPause    time.Duration
	// MaxPeriods stops Run after that many periods; zero runs forever.
	MaxPeriods int
}

func DefaultConfig() Config {
	return Config{
		Leader:        true,
		StageTimeout:  5 * time.Minute,
		RetryDelay:    5 * time.Second,
		MaxRetryDelay: 2 * time.Minute,
		ResetPause:    time.Hour,
	}
}

// Sequencer runs the stages of each period in order. A stage result only
// reaches the store after the checkpoint settles it as DONE, and then the
// agreed payload is applied rather than the local one.
type Sequencer struct {
	store      Store
	checkpoint agreement.Checkpoint
	stages     []Stage
	cfg        Config
	logger     logging.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	lastPeriod atomic.Int64
}

func NewSequencer(store Store, checkpoint agreement.Checkpoint, cfg Config, logger logging.Logger, stages ...Stage) *Sequencer {
	return &Sequencer{
		store:      store,
		checkpoint: checkpoint,
		stages:     stages,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

// LastPeriodEnd is the wall time the last period completed, or the zero
// time before the first one.
func (s *Sequencer) LastPeriodEnd() time.Time {
	ns := s.lastPeriod.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Run executes periods until ctx ends or MaxPeriods is reached, pausing
// ResetPause between periods.
func (s *Sequencer) Run(ctx context.Context) error {
	for n := 0; s.cfg.MaxPeriods == 0 || n < s.cfg.MaxPeriods; n++ {
		if n > 0 {
			if err := s.sleep(ctx, s.cfg.ResetPause); err != nil {
				return err
			}
		}
		if err := s.RunPeriod(ctx); err != nil {
			return err
		}
	}
	return nil
}

// RunPeriod executes every stage once. It only returns early when ctx ends
// or the store cannot be read; failed stages are replayed until agreed.
func (s *Sequencer) RunPeriod(ctx context.Context) error {
	period, err := s.readPeriod(ctx)
	if err != nil {
		return err
	}
	period++
	log := s.logger.WithField("period", period)

	start, err := s.settleClock(ctx, period)
	if err != nil {
		return err
	}
	log.WithFields(logging.Fields{"period_time": start.Time.Format(time.RFC3339), "anchors": start.Anchors}).Info("Period started")

	for _, stage := range s.stages {
		if err := s.runStage(ctx, period, start, stage); err != nil {
			return err
		}
	}

	if err := s.store.Write(ctx, map[string]string{KeyPeriod: strconv.FormatUint(period, 10)}); err != nil {
		return fmt.Errorf("persist period: %w", err)
	}
	periodGauge.Set(float64(period))
	s.lastPeriod.Store(s.now().UnixNano())
	log.Info("Period complete")
	return nil
}

func (s *Sequencer) readPeriod(ctx context.Context) (uint64, error) {
	raw, ok, err := s.store.Get(ctx, KeyPeriod)
	if err != nil {
		return 0, fmt.Errorf("read period: %w", err)
	}
	if !ok || raw == "" {
		return 0, nil
	}
	period, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		s.logger.WithError(err).WithField("value", raw).Warn("Stored period is not a number, restarting count")
		return 0, nil
	}
	return period, nil
}

// periodOpening is what the leader relays when a period begins.
type periodOpening struct {
	Time    time.Time
	Anchors map[string]string
}

type periodOpeningWire struct {
	Anchors map[string]string `json:"anchors"`
	Time    string            `json:"time"`
}

func (p periodOpening) encode() ([]byte, error) {
	anchors := p.Anchors
	if anchors == nil {
		anchors = map[string]string{}
	}
	return posts.MarshalCanonical(periodOpeningWire{Anchors: anchors, Time: p.Time.UTC().Format(time.RFC3339)})
}

func decodePeriodOpening(raw []byte) (periodOpening, error) {
	var w periodOpeningWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return periodOpening{}, err
	}
	t, err := time.Parse(time.RFC3339, w.Time)
	if err != nil {
		return periodOpening{}, err
	}
	return periodOpening{Time: t, Anchors: w.Anchors}, nil
}

// settleClock agrees on the period's reference time and stage anchors. The
// leader proposes its clock truncated to the second and the anchors it
// could read; followers adopt them.
func (s *Sequencer) settleClock(ctx context.Context, period uint64) (periodOpening, error) {
	for attempt := 0; ; attempt++ {
		var payload []byte
		var err error
		if s.cfg.Leader {
			start := periodOpening{Time: s.now().UTC().Truncate(time.Second), Anchors: s.readAnchors(ctx)}
			if payload, err = start.encode(); err != nil {
				return periodOpening{}, err
			}
		}
		round := agreement.Round{Period: period, Stage: clockStage, Attempt: attempt}
		out, err := s.checkpoint.Relay(ctx, round, payload, s.cfg.Leader)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return periodOpening{}, ctxErr
		}
		if err == nil && out.Event == agreement.Done {
			start, perr := decodePeriodOpening(out.Payload)
			if perr == nil {
				return start, nil
			}
			err = fmt.Errorf("agreed period start %q: %w", out.Payload, perr)
		}
		s.backoff(ctx, clockStage, attempt, out.Event, err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return periodOpening{}, ctxErr
		}
	}
}

// readAnchors collects the leader's anchor values. A stage whose anchor
// cannot be read gets none and skips its work this period.
func (s *Sequencer) readAnchors(ctx context.Context) map[string]string {
	anchors := make(map[string]string)
	for _, stage := range s.stages {
		as, ok := stage.(AnchorStage)
		if !ok {
			continue
		}
		actx, cancel := ctx, context.CancelFunc(func() {})
		if s.cfg.StageTimeout > 0 {
			actx, cancel = context.WithTimeout(ctx, s.cfg.StageTimeout)
		}
		v, err := as.Anchor(actx)
		cancel()
		if err != nil {
			s.logger.WithError(err).WithField("stage", stage.Name()).Warn("Could not read stage anchor")
			continue
		}
		anchors[stage.Name()] = v
	}
	return anchors
}

func (s *Sequencer) runStage(ctx context.Context, period uint64, open periodOpening, stage Stage) error {
	for attempt := 0; ; attempt++ {
		round := agreement.Round{Period: period, Stage: stage.Name(), Attempt: attempt}
		out, err := s.attempt(ctx, round, open, stage)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err == nil && out.Event == agreement.Done {
			err = s.apply(ctx, stage.Name(), out.Payload)
			if err == nil {
				stageAttempts.WithLabelValues(stage.Name(), "applied").Inc()
				return nil
			}
		}
		s.backoff(ctx, stage.Name(), attempt, out.Event, err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
}

// attempt runs the stage against freshly read inputs and settles the
// result.
func (s *Sequencer) attempt(ctx context.Context, round agreement.Round, open periodOpening, stage Stage) (agreement.Outcome, error) {
	leaderOnly := false
	if ls, ok := stage.(LeaderStage); ok {
		leaderOnly = ls.LeaderOnly()
	}
	if leaderOnly && !s.cfg.Leader {
		return s.checkpoint.Relay(ctx, round, nil, false)
	}

	env, err := s.env(ctx, round.Period, open.Time)
	if err != nil {
		return agreement.Outcome{}, err
	}
	env.Anchor = open.Anchors[stage.Name()]

	timeout := s.cfg.StageTimeout
	if ts, ok := stage.(TimeoutStage); ok {
		timeout = ts.Timeout()
	}
	stageCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		stageCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	start := time.Now()
	result, err := safeRun(stageCtx, stage, env)
	expired := errors.Is(stageCtx.Err(), context.DeadlineExceeded)
	cancel()
	stageDuration.WithLabelValues(stage.Name()).Observe(time.Since(start).Seconds())

	if expired {
		return agreement.Outcome{Event: agreement.RoundTimeout}, nil
	}
	if err != nil {
		return agreement.Outcome{}, fmt.Errorf("stage %s: %w", stage.Name(), err)
	}

	payload, err := result.Encode()
	if err != nil {
		return agreement.Outcome{}, err
	}
	if leaderOnly {
		return s.checkpoint.Relay(ctx, round, payload, true)
	}
	return s.checkpoint.Propose(ctx, round, payload)
}

func (s *Sequencer) env(ctx context.Context, period uint64, now time.Time) (Env, error) {
	raw, _, err := s.store.Get(ctx, KeyPosts)
	if err != nil {
		return Env{}, fmt.Errorf("read pending posts: %w", err)
	}
	pending, err := posts.Decode(raw)
	if err != nil {
		s.logger.WithError(err).Warn("Stored pending posts are unreadable, starting from an empty list")
		pending = nil
	}
	return Env{Period: period, Now: now, Pending: pending, State: s.store}, nil
}

// apply writes an agreed stage result. Cursor keys never move backwards.
func (s *Sequencer) apply(ctx context.Context, stage string, payload []byte) error {
	var result StageResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return fmt.Errorf("decode agreed result: %w", err)
	}

	writes := make(map[string]string, len(result.Writes)+1)
	for k, v := range result.Writes {
		if k == KeyPosts {
			continue
		}
		writes[k] = v
	}
	if err := s.keepCursorsMonotonic(ctx, writes); err != nil {
		return err
	}

	encoded, err := posts.Encode(result.Posts)
	if err != nil {
		return err
	}
	writes[KeyPosts] = encoded
	if err := s.store.Write(ctx, writes); err != nil {
		return fmt.Errorf("apply %s result: %w", stage, err)
	}
	pendingGauge.Set(float64(len(result.Posts)))
	s.logger.WithFields(logging.Fields{
		"stage":   stage,
		"pending": len(result.Posts),
		"writes":  len(writes),
	}).Info("Stage result applied")
	return nil
}

func (s *Sequencer) keepCursorsMonotonic(ctx context.Context, writes map[string]string) error {
	var keys []string
	for k := range writes {
		if strings.HasPrefix(k, FromBlockPrefix) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	current, err := s.store.Read(ctx, keys...)
	if err != nil {
		return fmt.Errorf("read cursors: %w", err)
	}
	for _, k := range keys {
		old, ok := current[k]
		if !ok {
			continue
		}
		oldN, err1 := strconv.ParseUint(old, 10, 64)
		newN, err2 := strconv.ParseUint(writes[k], 10, 64)
		if err1 != nil || err2 != nil || newN >= oldN {
			continue
		}
		s.logger.WithFields(logging.Fields{"key": k, "stored": oldN, "proposed": newN}).Warn("Ignoring cursor regression")
		delete(writes, k)
	}
	return nil
}

func (s *Sequencer) backoff(ctx context.Context, stage string, attempt int, event agreement.Event, err error) {
	outcome := string(event)
	if err != nil {
		outcome = "error"
	}
	stageAttempts.WithLabelValues(stage, outcome).Inc()

	delay := s.cfg.RetryDelay << min(attempt, 16)
	if s.cfg.MaxRetryDelay > 0 && (delay > s.cfg.MaxRetryDelay || delay <= 0) {
		delay = s.cfg.MaxRetryDelay
	}
	entry := s.logger.WithFields(logging.Fields{"stage": stage, "attempt": attempt, "outcome": outcome, "retry_in": delay.String()})
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Warn("Stage not agreed, replaying")
	_ = s.sleep(ctx, delay)
}

// safeRun converts a stage panic into an error so one bad unit of work
// cannot take the runner down.
func safeRun(ctx context.Context, stage Stage, env Env) (result StageResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return stage.Run(ctx, env)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
