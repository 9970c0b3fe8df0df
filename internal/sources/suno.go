package sources

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dvilelaf/tsunami/internal/pipeline"
	"github.com/dvilelaf/tsunami/internal/posts"
	"github.com/dvilelaf/tsunami/pkg/clients"
	"github.com/dvilelaf/tsunami/pkg/logging"
)

const (
	KeySunoLastRun        = "suno_last_run_date"
	KeyPreviousSunoAgents = "previous_suno_agents"
)

// MusicGenres is the genre pool songs are drawn from.
var MusicGenres = []string{
	"metal", "rumba", "reggae", "rock", "funky", "edm", "techno",
	"country", "jazz", "bossa nova", "salsa", "tango", "rap",
}

// GenreFor picks a genre from the SHA-256 of the agent id.
func GenreFor(agentID string) string {
	sum := sha256.Sum256([]byte(agentID))
	return MusicGenres[binary.BigEndian.Uint64(sum[:8])%uint64(len(MusicGenres))]
}

// SongHistory lists agents that already have a song, oldest first.
type SongHistory []string

func (h SongHistory) Contains(id string) bool {
	for _, v := range h {
		if v == id {
			return true
		}
	}
	return false
}

// Agent is a registry agent unit.
type Agent struct {
	TokenID     string `json:"tokenId"`
	PublicID    string `json:"publicId"`
	Description string `json:"description"`
}

// Name is the package name of the public id, e.g. "trader" for
// "valory/trader:0.1.0".
func (a Agent) Name() string {
	name := a.PublicID
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.Index(name, ":"); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return "agent " + a.TokenID
	}
	return name
}

const registryAgentsQuery = `query getPackages($package_type: String!) {
  units(where: {packageType: $package_type}) {
    tokenId
    publicId
    description
  }
}`

// SongMaker generates a song for prompt and returns its public URL.
type SongMaker interface {
	MakeSong(ctx context.Context, prompt string) (string, error)
}

// Suno is a client of the song generation API.
type Suno struct {
	http    *clients.Requester
	baseURL string
	songURL string
	tokens  TokenSource
	model   string
}

func NewSuno(baseURL string, tokens TokenSource, opts ...clients.Option) *Suno {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = "https://studio-api.suno.ai"
	}
	return &Suno{
		http:    clients.NewRequester("suno", opts...),
		baseURL: baseURL,
		songURL: "https://suno.com/song/",
		tokens:  tokens,
		model:   "chirp-v3-0",
	}
}

type sunoRequest struct {
	GPTDescriptionPrompt string `json:"gpt_description_prompt"`
	Prompt               string `json:"prompt"`
	MakeInstrumental     bool   `json:"make_instrumental"`
	Model                string `json:"mv"`
}

type sunoResponse struct {
	Clips []struct {
		ID string `json:"id"`
	} `json:"clips"`
}

func (s *Suno) MakeSong(ctx context.Context, prompt string) (string, error) {
	token, err := s.tokens.Token(ctx)
	if err != nil {
		return "", err
	}
	var out sunoResponse
	err = s.http.DoJSON(ctx, http.MethodPost, s.baseURL+"/api/generate/v2/",
		sunoRequest{GPTDescriptionPrompt: prompt, Model: s.model},
		func(h http.Header) { h.Set("Authorization", "Bearer "+token) }, &out)
	var apiErr *clients.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
		if inv, ok := s.tokens.(interface{ Invalidate() }); ok {
			inv.Invalidate()
		}
	}
	if err != nil {
		return "", err
	}
	if len(out.Clips) == 0 || out.Clips[0].ID == "" {
		return "", errors.New("suno returned no clips")
	}
	return s.songURL + out.Clips[0].ID, nil
}

// SunoConfig sets how often a song is made.
type SunoConfig struct {
	IntervalDays int
}

// Songs dedicates a song to a registry agent every IntervalDays. Song
// generation is not reproducible, so only the leader runs this stage.
type Songs struct {
	registry GraphQuerier
	maker    SongMaker
	cfg      SunoConfig
	composer Composer
	logger   logging.Logger
}

func NewSongs(registry GraphQuerier, maker SongMaker, cfg SunoConfig, composer Composer, logger logging.Logger) *Songs {
	if cfg.IntervalDays <= 0 {
		cfg.IntervalDays = 7
	}
	return &Songs{registry: registry, maker: maker, cfg: cfg, composer: composer, logger: logger}
}

func (s *Songs) Name() string { return "suno" }

func (s *Songs) LeaderOnly() bool { return true }

func (s *Songs) Run(ctx context.Context, env pipeline.Env) (pipeline.StageResult, error) {
	last, ok, err := lastRun(ctx, env.State, KeySunoLastRun)
	if err != nil {
		return pipeline.StageResult{}, err
	}
	today, _ := time.Parse(dateLayout, day(env.Now))
	if ok && today.Sub(last) < time.Duration(s.cfg.IntervalDays)*24*time.Hour {
		return unchanged(env), nil
	}

	log := s.logger.WithField("stage", s.Name())
	var history SongHistory
	if err := readJSON(ctx, env.State, KeyPreviousSunoAgents, &history, log); err != nil {
		return pipeline.StageResult{}, err
	}

	agent, found, err := s.nextAgent(ctx, history)
	if err != nil {
		if ctx.Err() != nil {
			return pipeline.StageResult{}, ctx.Err()
		}
		skippedFacts.WithLabelValues("suno", "registry_failed").Inc()
		log.WithError(err).Warn("Skipping song, registry query failed")
		return unchanged(env), nil
	}
	writes := map[string]string{KeySunoLastRun: day(env.Now)}
	if !found {
		log.Info("Every registry agent already has a song")
		return pipeline.StageResult{Posts: env.Pending, Writes: writes}, nil
	}

	genre := GenreFor(agent.TokenID)
	log = log.WithFields(logging.Fields{"agent": agent.Name(), "genre": genre})
	url, err := s.maker.MakeSong(ctx, fmt.Sprintf("Create a %s song about %s, an agent on the Olas network: %s", genre, agent.Name(), agent.Description))
	if err != nil {
		if ctx.Err() != nil {
			return pipeline.StageResult{}, ctx.Err()
		}
		skippedFacts.WithLabelValues("suno", "generation_failed").Inc()
		log.WithError(err).Warn("Skipping song, generation failed")
		return unchanged(env), nil
	}

	pending := env.Pending
	fact := fmt.Sprintf("A new %s song has been created in honor of the %s agent.", genre, agent.Name())
	post, posted, err := draft(ctx, s.composer, fact, "", url, env, "suno", log)
	if err != nil {
		return pipeline.StageResult{}, err
	}
	if posted {
		pending = posts.Append(pending, post)
	}

	encoded, err := encodeJSON(append(history, agent.TokenID))
	if err != nil {
		return pipeline.StageResult{}, fmt.Errorf("encode song history: %w", err)
	}
	writes[KeyPreviousSunoAgents] = encoded
	log.WithField("song_url", url).Info("Song created")
	return pipeline.StageResult{Posts: pending, Writes: writes}, nil
}

// nextAgent returns the lowest-numbered registry agent without a song.
func (s *Songs) nextAgent(ctx context.Context, history SongHistory) (Agent, bool, error) {
	var resp struct {
		Units []Agent `json:"units"`
	}
	if err := s.registry.Query(ctx, registryAgentsQuery, map[string]any{"package_type": "agent"}, &resp); err != nil {
		return Agent{}, false, err
	}
	sort.SliceStable(resp.Units, func(i, j int) bool {
		a, errA := strconv.ParseUint(resp.Units[i].TokenID, 10, 64)
		b, errB := strconv.ParseUint(resp.Units[j].TokenID, 10, 64)
		if errA != nil || errB != nil {
			return resp.Units[i].TokenID < resp.Units[j].TokenID
		}
		return a < b
	})
	for _, a := range resp.Units {
		if a.TokenID != "" && !history.Contains(a.TokenID) {
			return a, true, nil
		}
	}
	return Agent{}, false, nil
}
