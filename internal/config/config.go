// Package config assembles the runtime configuration from the environment
// and the tracking file.
package config

import (
	"fmt"
	"time"

	"github.com/dvilelaf/tsunami/internal/kvstore"
	"github.com/dvilelaf/tsunami/internal/pipeline"
	"github.com/dvilelaf/tsunami/internal/publish"
	envconfig "github.com/dvilelaf/tsunami/pkg/config"
	"github.com/dvilelaf/tsunami/pkg/llm"
)

// Agreement backends.
const (
	AgreementLocal = "local"
	AgreementRedis = "redis"
)

type AgreementConfig struct {
	Backend      string
	RedisURL     string
	ReplicaID    string
	Replicas     int
	RoundTimeout time.Duration
}

type ChannelsConfig struct {
	Twitter   *publish.TwitterConfig
	Farcaster *publish.FarcasterConfig
	Telegram  *publish.TelegramConfig
}

type SourcesConfig struct {
	GitHubToken      string
	BoardroomAPIKey  string
	SunoToken        string
	SunoSessionID    string
	SunoCookie       string
	SunoIntervalDays int
}

type Config struct {
	Port         string
	Store        kvstore.Config
	LLM          llm.Config
	Agreement    AgreementConfig
	Pipeline     pipeline.Config
	Channels     ChannelsConfig
	Tracker      publish.TrackerConfig
	KafkaBrokers []string
	AuditTopic   string
	Sources      SourcesConfig
	Tracking     Tracking
}

// Load reads the environment. Call pkg/config.LoadEnv first to pick up .env
// files. A single replica leads by default; with TSUNAMI_REPLICAS above one,
// exactly one replica must set TSUNAMI_LEADER.
func Load() (Config, error) {
	tracking, err := LoadTracking(envconfig.GetEnv("TSUNAMI_TRACKING_FILE", ""))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Port: envconfig.GetEnv("PORT", "8716"),
		Store: kvstore.Config{
			Kind:        envconfig.GetEnv("TSUNAMI_KV_BACKEND", kvstore.KindSQLite),
			SQLitePath:  envconfig.GetEnv("TSUNAMI_DB_PATH", "tsunami.db"),
			PostgresURL: envconfig.GetEnv("DATABASE_URL", ""),
			RedisURL:    envconfig.GetEnv("REDIS_URL", ""),
			RedisPrefix: envconfig.GetEnv("TSUNAMI_REDIS_PREFIX", "tsunami:kv:"),
		},
		LLM: llm.LoadConfig(),
		Agreement: AgreementConfig{
			Backend:      envconfig.GetEnv("TSUNAMI_AGREEMENT", AgreementLocal),
			RedisURL:     envconfig.GetEnv("TSUNAMI_AGREEMENT_REDIS_URL", envconfig.GetEnv("REDIS_URL", "")),
			ReplicaID:    envconfig.GetEnv("TSUNAMI_REPLICA_ID", "replica-0"),
			Replicas:     envconfig.GetEnvInt("TSUNAMI_REPLICAS", 1),
			RoundTimeout: envconfig.GetEnvDuration("TSUNAMI_ROUND_TIMEOUT", 30*time.Second),
		},
		Pipeline: pipeline.Config{
			Leader:        envconfig.GetEnvBool("TSUNAMI_LEADER", envconfig.GetEnvInt("TSUNAMI_REPLICAS", 1) <= 1),
			StageTimeout:  envconfig.GetEnvDuration("TSUNAMI_STAGE_TIMEOUT", 5*time.Minute),
			RetryDelay:    envconfig.GetEnvDuration("TSUNAMI_RETRY_DELAY", 5*time.Second),
			MaxRetryDelay: envconfig.GetEnvDuration("TSUNAMI_MAX_RETRY_DELAY", 2*time.Minute),
			ResetPause:    envconfig.GetEnvDuration("TSUNAMI_RESET_PAUSE", time.Hour),
		},
		Tracker: publish.TrackerConfig{
			DelayThreshold: envconfig.GetEnvInt("TSUNAMI_PUBLISH_DELAY_THRESHOLD", 10),
			Delay:          envconfig.GetEnvDuration("TSUNAMI_PUBLISH_DELAY", 5*time.Second),
		},
		KafkaBrokers: envconfig.GetEnvList("KAFKA_BROKERS", nil),
		AuditTopic:   envconfig.GetEnv("TSUNAMI_AUDIT_TOPIC", publish.DefaultAuditTopic),
		Sources: SourcesConfig{
			GitHubToken:      envconfig.GetEnv("GITHUB_TOKEN", ""),
			BoardroomAPIKey:  envconfig.GetEnv("BOARDROOM_API_KEY", ""),
			SunoToken:        envconfig.GetEnv("SUNO_API_TOKEN", ""),
			SunoSessionID:    envconfig.GetEnv("SUNO_SESSION_ID", ""),
			SunoCookie:       envconfig.GetEnv("SUNO_COOKIE", ""),
			SunoIntervalDays: envconfig.GetEnvInt("SUNO_INTERVAL_DAYS", 7),
		},
		Tracking: tracking,
	}

	if envconfig.GetEnvBool("PUBLISH_TWITTER", false) {
		cfg.Channels.Twitter = &publish.TwitterConfig{
			BaseURL:     envconfig.GetEnv("TWITTER_API_URL", ""),
			BearerToken: envconfig.GetEnv("TWITTER_BEARER_TOKEN", ""),
		}
	}
	if envconfig.GetEnvBool("PUBLISH_FARCASTER", false) {
		cfg.Channels.Farcaster = &publish.FarcasterConfig{
			BaseURL:    envconfig.GetEnv("NEYNAR_API_URL", ""),
			APIKey:     envconfig.GetEnv("NEYNAR_API_KEY", ""),
			SignerUUID: envconfig.GetEnv("NEYNAR_SIGNER_UUID", ""),
		}
	}
	if envconfig.GetEnvBool("PUBLISH_TELEGRAM", false) {
		cfg.Channels.Telegram = &publish.TelegramConfig{
			BaseURL:  envconfig.GetEnv("TELEGRAM_API_URL", ""),
			BotToken: envconfig.GetEnv("TELEGRAM_BOT_TOKEN", ""),
			ChatID:   envconfig.GetEnv("TELEGRAM_CHAT_ID", ""),
		}
	}

	return cfg, cfg.Validate()
}

// Validate reports settings that would fail later at wiring time.
func (c Config) Validate() error {
	switch c.Store.Kind {
	case kvstore.KindPostgres:
		if c.Store.PostgresURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	case kvstore.KindRedis:
		if c.Store.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the redis store")
		}
	}
	switch c.Agreement.Backend {
	case AgreementLocal:
	case AgreementRedis:
		if c.Agreement.RedisURL == "" {
			return fmt.Errorf("TSUNAMI_AGREEMENT_REDIS_URL or REDIS_URL is required for redis agreement")
		}
		if c.Agreement.Replicas < 1 {
			return fmt.Errorf("TSUNAMI_REPLICAS must be positive")
		}
	default:
		return fmt.Errorf("unknown agreement backend %q", c.Agreement.Backend)
	}
	if c.Channels.Twitter != nil && c.Channels.Twitter.BearerToken == "" {
		return fmt.Errorf("TWITTER_BEARER_TOKEN is required when PUBLISH_TWITTER is set")
	}
	if c.Channels.Farcaster != nil && (c.Channels.Farcaster.APIKey == "" || c.Channels.Farcaster.SignerUUID == "") {
		return fmt.Errorf("NEYNAR_API_KEY and NEYNAR_SIGNER_UUID are required when PUBLISH_FARCASTER is set")
	}
	if c.Channels.Telegram != nil && (c.Channels.Telegram.BotToken == "" || c.Channels.Telegram.ChatID == "") {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID are required when PUBLISH_TELEGRAM is set")
	}
	return nil
}
