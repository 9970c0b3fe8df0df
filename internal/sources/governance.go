package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/dvilelaf/tsunami/internal/pipeline"
	"github.com/dvilelaf/tsunami/internal/posts"
	"github.com/dvilelaf/tsunami/pkg/clients"
	"github.com/dvilelaf/tsunami/pkg/logging"
)

// KeyGovernanceProposals lists proposals announced as active.
const KeyGovernanceProposals = "governance_proposals"

// Proposal is a governance proposal as stored under KeyGovernanceProposals.
type Proposal struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Adapter     string `json:"adapter"`
	ExternalURL string `json:"external_url"`
}

// ProposalState pairs a proposal with its current state.
type ProposalState struct {
	Proposal
	State string
}

func (p ProposalState) Active() bool { return strings.EqualFold(p.State, "active") }

// ProposalSource lists a protocol's recent proposals.
type ProposalSource interface {
	Proposals(ctx context.Context) ([]ProposalState, error)
}

// Boardroom reads proposals from the Boardroom governance API.
type Boardroom struct {
	http     *clients.Requester
	baseURL  string
	protocol string
	apiKey   string
}

func NewBoardroom(baseURL, protocol, apiKey string, opts ...clients.Option) *Boardroom {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.boardroom.info"
	}
	if protocol == "" {
		protocol = "autonolas"
	}
	return &Boardroom{http: clients.NewRequester("boardroom", opts...), baseURL: baseURL, protocol: protocol, apiKey: apiKey}
}

type boardroomResponse struct {
	Data []struct {
		RefID        string `json:"refId"`
		Title        string `json:"title"`
		Adapter      string `json:"adapter"`
		CurrentState string `json:"currentState"`
		ExternalURL  string `json:"externalUrl"`
	} `json:"data"`
}

func (b *Boardroom) Proposals(ctx context.Context) ([]ProposalState, error) {
	endpoint := fmt.Sprintf("%s/v1/protocols/%s/proposals?key=%s", b.baseURL, url.PathEscape(b.protocol), url.QueryEscape(b.apiKey))
	var resp boardroomResponse
	if err := b.http.DoJSON(ctx, http.MethodGet, endpoint, nil, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]ProposalState, 0, len(resp.Data))
	for _, d := range resp.Data {
		out = append(out, ProposalState{
			Proposal: Proposal{ID: d.RefID, Title: d.Title, Adapter: d.Adapter, ExternalURL: d.ExternalURL},
			State:    d.CurrentState,
		})
	}
	return out, nil
}

// Governance announces proposals when they open and when they close.
type Governance struct {
	source   ProposalSource
	composer Composer
	logger   logging.Logger
}

func NewGovernance(source ProposalSource, composer Composer, logger logging.Logger) *Governance {
	return &Governance{source: source, composer: composer, logger: logger}
}

func (g *Governance) Name() string { return "governance" }

func (g *Governance) Run(ctx context.Context, env pipeline.Env) (pipeline.StageResult, error) {
	log := g.logger.WithField("stage", g.Name())
	var tracked []Proposal
	if err := readJSON(ctx, env.State, KeyGovernanceProposals, &tracked, log); err != nil {
		return pipeline.StageResult{}, err
	}

	current, err := g.source.Proposals(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return pipeline.StageResult{}, ctx.Err()
		}
		skippedFacts.WithLabelValues("governance", "lookup_failed").Inc()
		log.WithError(err).Warn("Skipping governance, proposal lookup failed")
		return unchanged(env), nil
	}
	byID := make(map[string]ProposalState, len(current))
	for _, p := range current {
		byID[p.ID] = p
	}

	pending := env.Pending
	add := func(fact string, p Proposal) error {
		post, ok, err := draft(ctx, g.composer, fact, "", p.ExternalURL, env, "governance", log.WithField("proposal", p.ID))
		if ok {
			pending = posts.Append(pending, post)
		}
		return err
	}

	// Tracked proposals that are gone or no longer active have closed.
	still := make([]Proposal, 0, len(tracked))
	known := make(map[string]struct{}, len(tracked))
	for _, p := range tracked {
		known[p.ID] = struct{}{}
		if cur, ok := byID[p.ID]; ok && cur.Active() {
			still = append(still, p)
			continue
		}
		if err := add(fmt.Sprintf("The governance proposal %q on %s has closed.", p.Title, p.Adapter), p); err != nil {
			return pipeline.StageResult{}, err
		}
	}
	for _, p := range current {
		if _, ok := known[p.ID]; ok || !p.Active() {
			continue
		}
		if err := add(fmt.Sprintf("A new governance proposal %q is open for voting on %s.", p.Title, p.Adapter), p.Proposal); err != nil {
			return pipeline.StageResult{}, err
		}
		still = append(still, p.Proposal)
	}

	encoded, err := encodeJSON(still)
	if err != nil {
		return pipeline.StageResult{}, fmt.Errorf("encode proposals: %w", err)
	}
	return pipeline.StageResult{Posts: pending, Writes: map[string]string{KeyGovernanceProposals: encoded}}, nil
}
