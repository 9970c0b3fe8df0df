package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/dvilelaf/tsunami/internal/agreement"
	"github.com/dvilelaf/tsunami/internal/chain"
	"github.com/dvilelaf/tsunami/internal/compose"
	"github.com/dvilelaf/tsunami/internal/config"
	"github.com/dvilelaf/tsunami/internal/kvstore"
	"github.com/dvilelaf/tsunami/internal/pipeline"
	"github.com/dvilelaf/tsunami/internal/publish"
	"github.com/dvilelaf/tsunami/internal/sources"
	"github.com/dvilelaf/tsunami/pkg/kafka"
	"github.com/dvilelaf/tsunami/pkg/llm"
	"github.com/dvilelaf/tsunami/pkg/logging"
	"github.com/dvilelaf/tsunami/pkg/monitoring"
	"github.com/dvilelaf/tsunami/pkg/redis"
	"github.com/dvilelaf/tsunami/pkg/version"
)

// app is the wired runtime: the sequencer, its health checks, and whatever
// must be closed on exit.
type app struct {
	sequencer *pipeline.Sequencer
	health    *monitoring.HealthChecker
	closers   []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

func wire(ctx context.Context, cfg config.Config, logger logging.Logger) (_ *app, err error) {
	a := &app{health: monitoring.NewHealthChecker("tsunami", version.Version)}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	store, err := kvstore.Open(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)
	a.health.AddCheck("store", monitoring.PingCheck("store", store.Ping))

	checkpoint, err := wireCheckpoint(ctx, cfg.Agreement, logger, a)
	if err != nil {
		return nil, err
	}

	provider, err := llm.NewProvider(cfg.LLM)
	if err != nil {
		return nil, err
	}
	genCfg := compose.DefaultGeneratorConfig()
	if cfg.LLM.MaxTokens > 0 {
		genCfg.MaxTokens = cfg.LLM.MaxTokens
	}
	generator := compose.NewGenerator(compose.NewCachingProvider(provider, store, logger), genCfg, logger)

	stages, err := wireChainStages(ctx, cfg.Tracking, generator, logger, a)
	if err != nil {
		return nil, err
	}
	stages = append(stages, wireSourceStages(cfg, generator, logger)...)

	tracker, err := wireTracker(cfg, store, logger, a)
	if err != nil {
		return nil, err
	}
	stages = append(stages, pipeline.PublishStage{Tracker: tracker})

	a.sequencer = pipeline.NewSequencer(store, checkpoint, cfg.Pipeline, logger, stages...)
	a.health.AddCheck("pipeline", monitoring.StalenessCheck(a.sequencer.LastPeriodEnd, 3*cfg.Pipeline.ResetPause+cfg.Pipeline.StageTimeout))

	names := make([]string, 0, len(stages))
	for _, s := range stages {
		names = append(names, s.Name())
	}
	logger.WithField("stages", names).Info("Pipeline wired")
	return a, nil
}

func wireCheckpoint(ctx context.Context, cfg config.AgreementConfig, logger logging.Logger, a *app) (agreement.Checkpoint, error) {
	if cfg.Backend != config.AgreementRedis {
		return agreement.Local{}, nil
	}
	rcfg, err := redis.ConfigFromURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	client, err := redis.NewUniversalClient(ctx, rcfg)
	if err != nil {
		return nil, fmt.Errorf("agreement redis: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	a.health.AddCheck("agreement", monitoring.PingCheck("agreement", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}))

	rr := agreement.DefaultRedisConfig(cfg.ReplicaID, cfg.Replicas)
	rr.RoundTimeout = cfg.RoundTimeout
	return agreement.NewRedisRound(client, rr, logger)
}

func wireChainStages(ctx context.Context, tracking config.Tracking, composer sources.Composer, logger logging.Logger, a *app) ([]pipeline.Stage, error) {
	var stages []pipeline.Stage
	for _, spec := range tracking.Chains {
		rpc := os.Getenv(spec.RPCEnv)
		if rpc == "" {
			logger.WithFields(logging.Fields{"chain": spec.Name, "env": spec.RPCEnv}).Warn("No RPC configured, chain events disabled")
			continue
		}
		client, err := ethclient.DialContext(ctx, rpc)
		if err != nil {
			return nil, fmt.Errorf("dial %s rpc: %w", spec.Name, err)
		}
		a.closers = append(a.closers, func() error { client.Close(); return nil })

		fetcher := chain.NewFetcher(chain.FetcherConfig{Chain: spec.Name, MaxBlocks: spec.MaxBlocks}, client, logger)
		ecfg := sources.ChainEventsConfig{DisplayName: spec.DisplayName, InitialBlock: spec.InitialBlock}
		for _, c := range spec.Contracts {
			ecfg.Contracts = append(ecfg.Contracts, sources.WatchedContract{
				Contract: chain.Contract{Name: c.Name, Address: common.HexToAddress(c.Address), ABI: chain.RegistryABI(spec.Name)},
				Events:   c.Events,
			})
		}
		stages = append(stages, sources.NewChainEvents(fetcher, ecfg, composer, logger))
	}
	return stages, nil
}

func wireSourceStages(cfg config.Config, composer sources.Composer, logger logging.Logger) []pipeline.Stage {
	t := cfg.Tracking
	var stages []pipeline.Stage
	if len(t.Repos) > 0 {
		stages = append(stages, sources.NewRepos(sources.NewGitHub("", cfg.Sources.GitHubToken), t.Repos, composer, logger))
	}
	if t.Subgraphs.Omen != "" {
		stages = append(stages, sources.NewOmen(sources.NewSubgraph("omen-subgraph", t.Subgraphs.Omen), t.Omen.MarketCreator, composer, logger))
	}
	if tokens := sunoTokens(cfg.Sources, logger); tokens != nil && t.Subgraphs.Registry != "" {
		stages = append(stages, sources.NewSongs(
			sources.NewSubgraph("registry-subgraph", t.Subgraphs.Registry),
			sources.NewSuno("", tokens),
			sources.SunoConfig{IntervalDays: cfg.Sources.SunoIntervalDays},
			composer, logger))
	} else {
		logger.Info("Suno credentials or registry subgraph not set, songs disabled")
	}
	if cfg.Sources.BoardroomAPIKey != "" {
		stages = append(stages, sources.NewGovernance(sources.NewBoardroom("", t.Governance.Protocol, cfg.Sources.BoardroomAPIKey), composer, logger))
	} else {
		logger.Info("BOARDROOM_API_KEY not set, governance disabled")
	}
	return stages
}

func wireTracker(cfg config.Config, store publish.KV, logger logging.Logger, a *app) (*publish.Tracker, error) {
	var pubs []publish.Publisher
	if c := cfg.Channels.Twitter; c != nil {
		pubs = append(pubs, publish.NewTwitter(*c))
	}
	if c := cfg.Channels.Farcaster; c != nil {
		pubs = append(pubs, publish.NewFarcaster(*c))
	}
	if c := cfg.Channels.Telegram; c != nil {
		pubs = append(pubs, publish.NewTelegram(*c))
	}
	if len(pubs) == 0 {
		logger.Warn("No publication channel enabled, posts are pruned as soon as they are agreed")
	}
	tracker := publish.NewTracker(cfg.Tracker, logger, pubs...).WithJournal(publish.NewStoreJournal(store))

	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, "tsunami-"+cfg.Agreement.ReplicaID, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, producer.Close)
		a.health.AddCheck("kafka", monitoring.PingCheck("kafka", producer.HealthCheck))
		tracker.WithAudit(publish.NewKafkaAudit(producer, cfg.AuditTopic))
	}
	return tracker, nil
}

// sunoTokens prefers a session that mints fresh tokens over a fixed token.
func sunoTokens(cfg config.SourcesConfig, logger logging.Logger) sources.TokenSource {
	if cfg.SunoSessionID != "" || cfg.SunoCookie != "" {
		session, err := sources.NewSunoSession(sources.SunoSessionConfig{SessionID: cfg.SunoSessionID, Cookie: cfg.SunoCookie})
		if err == nil {
			return session
		}
		logger.WithError(err).Warn("Invalid Suno session")
	}
	if cfg.SunoToken != "" {
		return sources.StaticToken(cfg.SunoToken)
	}
	return nil
}
