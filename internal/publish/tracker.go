// Package publish pushes pending posts to the enabled social channels and
// tracks per-channel publication flags.
package publish

import (
	"context"
	"time"

	"github.com/dvilelaf/tsunami/internal/posts"
	"github.com/dvilelaf/tsunami/pkg/logging"
)

// TrackerConfig throttles large batches.
type TrackerConfig struct {
	DelayThreshold int
	Delay          time.Duration
}

func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{DelayThreshold: 10, Delay: 5 * time.Second}
}

// Tracker publishes posts on every enabled channel that has not got them
// yet. Channels without a publisher are disabled.
type Tracker struct {
	publishers []Publisher
	cfg        TrackerConfig
	audit      AuditSink
	journal    Journal
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
	logger     logging.Logger
}

func NewTracker(cfg TrackerConfig, logger logging.Logger, publishers ...Publisher) *Tracker {
	return &Tracker{
		publishers: publishers,
		cfg:        cfg,
		sleep:      sleepCtx,
		now:        time.Now,
		logger:     logger,
	}
}

// WithAudit attaches an audit sink.
func (t *Tracker) WithAudit(sink AuditSink) *Tracker {
	t.audit = sink
	return t
}

// WithJournal makes every pass consult and extend the publication journal.
func (t *Tracker) WithJournal(j Journal) *Tracker {
	t.journal = j
	return t
}

// Enabled lists the channels that have a publisher.
func (t *Tracker) Enabled() []posts.Channel {
	out := make([]posts.Channel, 0, len(t.publishers))
	for _, p := range t.publishers {
		out = append(out, p.Channel())
	}
	return out
}

// Publish attempts every unflagged enabled channel of every post and returns
// the list with updated flags. Failures leave the flag false for a later
// pass. A cancelled context stops the pass early with the flags gathered so
// far. With a journal, messages posted by an earlier pass are never sent
// again, even when that pass's flags were lost.
func (t *Tracker) Publish(ctx context.Context, pending []posts.Post) []posts.Post {
	out := make([]posts.Post, len(pending))
	copy(out, pending)
	throttle := t.cfg.DelayThreshold > 0 && len(out) > t.cfg.DelayThreshold

	for i := range out {
		post := &out[i]
		for _, pub := range t.publishers {
			ch := pub.Channel()
			if post.Published(ch) {
				continue
			}
			log := t.logger.WithField("post_id", post.ID).WithField("channel", ch)
			sent, ok := t.sent(ctx, post.ID, ch, log)
			if !ok {
				continue
			}
			if len(sent) >= len(post.Text) && len(sent) > 0 {
				post.MarkPublished(ch)
				log.Info("Post already published by an earlier pass")
				continue
			}
			if throttle && i >= t.cfg.DelayThreshold {
				if err := t.sleep(ctx, t.cfg.Delay); err != nil {
					t.logger.WithError(err).Warn("Publication pass interrupted")
					return out
				}
			}
			ids, err := pub.Publish(ctx, post.Text, sent)
			if len(ids) > len(sent) {
				t.save(ctx, post.ID, ch, ids, log)
			}
			if err != nil {
				publications.WithLabelValues(string(ch), "error").Inc()
				log.WithError(err).WithField("messages_sent", len(ids)).Error("Publication failed")
				continue
			}
			post.MarkPublished(ch)
			publications.WithLabelValues(string(ch), "success").Inc()
			log.WithField("message_id", ids[0]).Info("Post published")
			t.record(ctx, *post, ch, ids[0])
		}
	}
	pendingPosts.Set(float64(len(posts.Prune(out, t.Enabled()))))
	return out
}

// Prune drops posts that every enabled channel already has.
func (t *Tracker) Prune(pending []posts.Post) []posts.Post {
	return posts.Prune(pending, t.Enabled())
}

// sent reads journal progress. A failed read skips the channel for this pass
// rather than risk posting twice.
func (t *Tracker) sent(ctx context.Context, postID string, ch posts.Channel, log logging.Entry) ([]string, bool) {
	if t.journal == nil {
		return nil, true
	}
	ids, err := t.journal.Sent(ctx, postID, ch)
	if err != nil {
		log.WithError(err).Warn("Publication journal unreadable, skipping channel")
		return nil, false
	}
	return ids, true
}

func (t *Tracker) save(ctx context.Context, postID string, ch posts.Channel, ids []string, log logging.Entry) {
	if t.journal == nil {
		return
	}
	if err := t.journal.Save(ctx, postID, ch, ids); err != nil {
		log.WithError(err).WithField("key", journalKey(postID, ch)).Error("Failed to journal publication")
	}
}

func (t *Tracker) record(ctx context.Context, post posts.Post, ch posts.Channel, messageID string) {
	if t.audit == nil {
		return
	}
	rec := Record{PostID: post.ID, Channel: ch, MessageID: messageID, Source: post.Source, PublishedAt: t.now().UTC()}
	if err := t.audit.Record(ctx, rec); err != nil {
		t.logger.WithError(err).WithField("post_id", post.ID).Warn("Failed to write publication audit record")
	}
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
