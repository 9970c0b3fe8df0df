package sources

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dvilelaf/tsunami/internal/pipeline"
	"github.com/dvilelaf/tsunami/internal/posts"
	"github.com/dvilelaf/tsunami/pkg/logging"
)

// KeyOmenLastRun holds the UTC date of the last omen summary.
const KeyOmenLastRun = "omen_last_run_date"

// DefaultMarketCreator is the Market Creator agent on Omen.
const DefaultMarketCreator = "0x89c5cc945dd550bcffb72fe42bff002429f46fec"

const omenMarketsQuery = `query markets($creator: String!, $since: BigInt!) {
  fixedProductMarketMakers(
    where: {creator: $creator, creationTimestamp_gt: $since}
    orderBy: creationTimestamp
    orderDirection: asc
    first: 1000
  ) {
    id
    creationTimestamp
  }
}`

const omenTradesQuery = `query trades($creator: String!, $since: BigInt!) {
  fpmmTrades(
    where: {type: Buy, fpmm_: {creator: $creator}, creationTimestamp_gt: $since}
    orderBy: creationTimestamp
    orderDirection: asc
    first: 1000
  ) {
    id
    creator { id }
    collateralAmountUSD
  }
}`

// GraphQuerier runs a GraphQL query.
type GraphQuerier interface {
	Query(ctx context.Context, query string, vars map[string]any, out any) error
}

type omenMarkets struct {
	Markets []struct {
		ID string `json:"id"`
	} `json:"fixedProductMarketMakers"`
}

type omenTrades struct {
	Trades []struct {
		ID      string `json:"id"`
		Creator struct {
			ID string `json:"id"`
		} `json:"creator"`
		CollateralAmountUSD string `json:"collateralAmountUSD"`
	} `json:"fpmmTrades"`
}

// OmenStats summarises a day of prediction-market activity.
type OmenStats struct {
	Markets             int
	Trades              int
	Traders             int
	USDAmount           float64
	BiggestTrader       string
	BiggestTraderTrades int
}

// Fact renders the stats as a prompt fact.
func (s OmenStats) Fact() string {
	var b strings.Builder
	fmt.Fprintf(&b, "During the last 24 hours, the Market Creator agent has opened %d markets on Omen.\n", s.Markets)
	fmt.Fprintf(&b, "During the same interval, %d agents have placed %d trades totalling $%.2f.", s.Traders, s.Trades, s.USDAmount)
	if s.BiggestTrader != "" {
		fmt.Fprintf(&b, "\nThe biggest and craziest trader was %s with %d trades.", s.BiggestTrader, s.BiggestTraderTrades)
	}
	return b.String()
}

// Omen posts a daily summary of the Omen subgraph.
type Omen struct {
	graph    GraphQuerier
	creator  string
	composer Composer
	logger   logging.Logger
}

func NewOmen(graph GraphQuerier, creator string, composer Composer, logger logging.Logger) *Omen {
	if creator == "" {
		creator = DefaultMarketCreator
	}
	return &Omen{graph: graph, creator: strings.ToLower(creator), composer: composer, logger: logger}
}

func (o *Omen) Name() string { return "omen" }

func (o *Omen) Run(ctx context.Context, env pipeline.Env) (pipeline.StageResult, error) {
	last, ok, err := lastRun(ctx, env.State, KeyOmenLastRun)
	if err != nil {
		return pipeline.StageResult{}, err
	}
	today := day(env.Now)
	if ok && day(last) == today {
		return unchanged(env), nil
	}

	stats, err := o.collect(ctx, env)
	if err != nil {
		if ctx.Err() != nil {
			return pipeline.StageResult{}, ctx.Err()
		}
		// Leave the date unset so the next period tries again.
		skippedFacts.WithLabelValues("omen", "query_failed").Inc()
		o.logger.WithError(err).Warn("Skipping omen summary, subgraph query failed")
		return unchanged(env), nil
	}

	pending := env.Pending
	post, posted, err := draft(ctx, o.composer, stats.Fact(), "", "", env, "omen", o.logger.WithField("stage", "omen"))
	if err != nil {
		return pipeline.StageResult{}, err
	}
	if posted {
		pending = posts.Append(pending, post)
	}
	return pipeline.StageResult{Posts: pending, Writes: map[string]string{KeyOmenLastRun: today}}, nil
}

func (o *Omen) collect(ctx context.Context, env pipeline.Env) (OmenStats, error) {
	vars := map[string]any{
		"creator": o.creator,
		"since":   strconv.FormatInt(env.Now.Add(-ReleaseWindow).Unix(), 10),
	}
	var markets omenMarkets
	if err := o.graph.Query(ctx, omenMarketsQuery, vars, &markets); err != nil {
		return OmenStats{}, fmt.Errorf("markets: %w", err)
	}
	var trades omenTrades
	if err := o.graph.Query(ctx, omenTradesQuery, vars, &trades); err != nil {
		return OmenStats{}, fmt.Errorf("trades: %w", err)
	}

	stats := OmenStats{Markets: len(markets.Markets), Trades: len(trades.Trades)}
	perTrader := map[string]int{}
	for _, t := range trades.Trades {
		amount, err := strconv.ParseFloat(t.CollateralAmountUSD, 64)
		if err == nil {
			stats.USDAmount += amount
		}
		perTrader[t.Creator.ID]++
	}
	stats.Traders = len(perTrader)

	addrs := make([]string, 0, len(perTrader))
	for a := range perTrader {
		addrs = append(addrs, a)
	}
	// Ties go to the lowest address so every replica picks the same trader.
	sort.Strings(addrs)
	for _, a := range addrs {
		if perTrader[a] > stats.BiggestTraderTrades {
			stats.BiggestTrader, stats.BiggestTraderTrades = a, perTrader[a]
		}
	}
	return stats, nil
}
