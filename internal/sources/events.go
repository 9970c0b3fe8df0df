package sources

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/dvilelaf/tsunami/internal/chain"
	"github.com/dvilelaf/tsunami/internal/pipeline"
	"github.com/dvilelaf/tsunami/internal/posts"
	"github.com/dvilelaf/tsunami/pkg/logging"
)

// EventFetcher reads decoded registry events of one chain.
type EventFetcher interface {
	Chain() string
	Head(ctx context.Context) (uint64, error)
	GetEvents(ctx context.Context, q chain.Query) (chain.Result, error)
}

// WatchedContract is a registry and the events read from it.
type WatchedContract struct {
	Contract chain.Contract
	Events   []string
}

// ChainEventsConfig describes one chain.
type ChainEventsConfig struct {
	// DisplayName is used in post facts; it defaults to the chain name.
	DisplayName  string
	InitialBlock uint64
	Contracts    []WatchedContract
}

// ChainEvents posts one announcement per minted unit.
type ChainEvents struct {
	fetcher  EventFetcher
	cfg      ChainEventsConfig
	composer Composer
	logger   logging.Logger
}

func NewChainEvents(fetcher EventFetcher, cfg ChainEventsConfig, composer Composer, logger logging.Logger) *ChainEvents {
	if cfg.DisplayName == "" {
		cfg.DisplayName = fetcher.Chain()
	}
	return &ChainEvents{fetcher: fetcher, cfg: cfg, composer: composer, logger: logger}
}

func (c *ChainEvents) Name() string { return "events_" + c.fetcher.Chain() }

func (c *ChainEvents) cursorKey() string { return pipeline.FromBlockPrefix + c.fetcher.Chain() }

// Anchor is the block every replica reads up to this period.
func (c *ChainEvents) Anchor(ctx context.Context) (string, error) {
	head, err := c.fetcher.Head(ctx)
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(head, 10), nil
}

func (c *ChainEvents) Run(ctx context.Context, env pipeline.Env) (pipeline.StageResult, error) {
	log := c.logger.WithField("chain", c.fetcher.Chain())
	to, err := strconv.ParseUint(env.Anchor, 10, 64)
	if err != nil {
		log.WithField("anchor", env.Anchor).Warn("No agreed chain head this period, skipping registry events")
		return pipeline.StageResult{Posts: env.Pending}, nil
	}
	from := c.cursor(ctx, env.State, log)

	latest := max(from, to)
	var events []chain.TrackedEvent
	for _, wc := range c.cfg.Contracts {
		for _, name := range wc.Events {
			res, err := c.fetcher.GetEvents(ctx, chain.Query{Contract: wc.Contract, EventName: name, FromBlock: from, ToBlock: &to})
			if err != nil {
				return pipeline.StageResult{}, fmt.Errorf("%s %s events: %w", wc.Contract.Name, name, err)
			}
			events = append(events, res.Events...)
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber < events[j].BlockNumber
		}
		return events[i].LogIndex < events[j].LogIndex
	})

	pending := env.Pending
	for _, ev := range events {
		fact := EventFact(ev.UnitType, ev.UnitID, c.cfg.DisplayName)
		evLog := log.WithFields(logging.Fields{"unit_id": ev.UnitID, "kind": ev.UnitType, "block": ev.BlockNumber})
		post, ok, err := draft(ctx, c.composer, fact, "", "", env, "events", evLog)
		if err != nil {
			return pipeline.StageResult{}, err
		}
		if ok {
			pending = posts.Append(pending, post)
		}
	}
	if len(events) > 0 {
		log.WithFields(logging.Fields{"events": len(events), "from": from, "to": latest}).Info("Registry events processed")
	}

	return pipeline.StageResult{
		Posts:  pending,
		Writes: map[string]string{c.cursorKey(): strconv.FormatUint(latest, 10)},
	}, nil
}

// cursor reads from_block_<chain>, falling back to the configured initial
// block when the key is missing, unreadable or the store read fails. The
// sequencer never lets the written cursor move backwards.
func (c *ChainEvents) cursor(ctx context.Context, state pipeline.State, log logging.Entry) uint64 {
	raw, ok, err := state.Get(ctx, c.cursorKey())
	if err != nil {
		log.WithError(err).WithField("from_block", c.cfg.InitialBlock).Warn("Cursor read failed, using the initial block")
		return c.cfg.InitialBlock
	}
	if !ok {
		log.WithField("from_block", c.cfg.InitialBlock).Info("No cursor stored, starting at the initial block")
		return c.cfg.InitialBlock
	}
	from, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		log.WithError(err).WithField("value", raw).Warn("Stored cursor is not a block number, using the initial block")
		return c.cfg.InitialBlock
	}
	return from
}

// EventFact is the prompt fact for a minted unit.
func EventFact(kind chain.UnitKind, unitID uint64, chainName string) string {
	return fmt.Sprintf("A new %s with id %d has been minted on the Olas protocol on %s.", kind, unitID, chainName)
}
