// Package chain reads registry events from EVM chains in bounded block
// windows.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/dvilelaf/tsunami/pkg/logging"
)

// DefaultMaxBlocks bounds one eth_getLogs window.
const DefaultMaxBlocks uint64 = 5000

var (
	// ErrFilterNotFound covers providers that drop log filters between calls.
	ErrFilterNotFound = errors.New("filter not found")
	// ErrSignatureMismatch is returned when a log does not decode against the
	// requested event.
	ErrSignatureMismatch = errors.New("event signature mismatch")
)

// LogClient is the part of ethclient.Client the fetcher uses.
type LogClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Contract identifies a deployed registry.
type Contract struct {
	Name    string
	Address common.Address
	ABI     abi.ABI
}

// Query asks for EventName logs in (FromBlock, ToBlock]. A nil ToBlock means
// the block before the current head.
type Query struct {
	Contract  Contract
	EventName string
	FromBlock uint64
	ToBlock   *uint64
}

// Result holds decoded events in ascending block order and the block the
// caller should persist as its next cursor.
type Result struct {
	Events      []TrackedEvent
	LatestBlock uint64
}

// FetcherConfig configures a Fetcher.
type FetcherConfig struct {
	Chain     string
	MaxBlocks uint64
	// RetryDelay and MaxRetryDelay bound the backoff between attempts on
	// transient provider errors. Attempts are unlimited.
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

// Fetcher pages through one chain's logs.
type Fetcher struct {
	chain  string
	client LogClient
	span   uint64
	retry  retrypolicy.RetryPolicy[[]types.Log]
	logger logging.Logger
}

func NewFetcher(cfg FetcherConfig, client LogClient, logger logging.Logger) *Fetcher {
	if cfg.MaxBlocks == 0 {
		cfg.MaxBlocks = DefaultMaxBlocks
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.MaxRetryDelay < cfg.RetryDelay {
		cfg.MaxRetryDelay = 30 * cfg.RetryDelay
	}
	f := &Fetcher{
		chain:  cfg.Chain,
		client: client,
		span:   cfg.MaxBlocks,
		logger: logger,
	}
	f.retry = retrypolicy.NewBuilder[[]types.Log]().
		HandleIf(func(_ []types.Log, err error) bool { return IsTransient(err) }).
		WithMaxRetries(-1).
		WithBackoff(cfg.RetryDelay, cfg.MaxRetryDelay).
		OnRetry(func(e failsafe.ExecutionEvent[[]types.Log]) {
			retriesTotal.WithLabelValues(f.chain).Inc()
			f.logger.WithError(e.LastError()).WithFields(logging.Fields{
				"chain":   f.chain,
				"attempt": e.Attempts(),
			}).Warn("Transient log query failure, retrying window")
		}).
		Build()
	return f
}

// Chain returns the chain name this fetcher reads.
func (f *Fetcher) Chain() string { return f.chain }

// IsTransient reports provider hiccups that succeed when the same window is
// queried again.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrFilterNotFound) || errors.Is(err, ErrSignatureMismatch) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "filter not found") ||
		(strings.Contains(msg, "filter") && strings.Contains(msg, "does not exist"))
}

// Windows splits (from, to] into spans of at most span blocks. Each pair is
// an exclusive lower and inclusive upper bound.
func Windows(from, to, span uint64) [][2]uint64 {
	if from >= to || span == 0 {
		return nil
	}
	var out [][2]uint64
	for lo := from; lo < to; lo += span {
		hi := lo + span
		if hi > to {
			hi = to
		}
		out = append(out, [2]uint64{lo, hi})
	}
	return out
}

// GetEvents returns every matching event in (FromBlock, ToBlock].
func (f *Fetcher) GetEvents(ctx context.Context, q Query) (Result, error) {
	to, err := f.resolveTo(ctx, q.ToBlock)
	if err != nil {
		return Result{}, err
	}
	if q.FromBlock >= to {
		return Result{LatestBlock: max(q.FromBlock, to)}, nil
	}

	ev, ok := q.Contract.ABI.Events[q.EventName]
	if !ok {
		return Result{}, fmt.Errorf("contract %s has no event %s", q.Contract.Name, q.EventName)
	}

	var events []TrackedEvent
	for _, w := range Windows(q.FromBlock, to, f.span) {
		batch, err := f.window(ctx, q, ev.ID, w[0], w[1])
		if err != nil {
			return Result{}, err
		}
		events = append(events, batch...)
	}
	f.logger.WithFields(logging.Fields{
		"chain":    f.chain,
		"contract": q.Contract.Name,
		"event":    q.EventName,
		"from":     q.FromBlock,
		"to":       to,
		"found":    len(events),
	}).Debug("Fetched registry events")
	return Result{Events: events, LatestBlock: to}, nil
}

// Head is the block "latest" resolves to: one below the chain head.
func (f *Fetcher) Head(ctx context.Context) (uint64, error) {
	return f.resolveTo(ctx, nil)
}

func (f *Fetcher) resolveTo(ctx context.Context, to *uint64) (uint64, error) {
	if to != nil {
		return *to, nil
	}
	head, err := f.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s block number: %w", f.chain, err)
	}
	if head == 0 {
		return 0, nil
	}
	return head - 1, nil
}

func (f *Fetcher) window(ctx context.Context, q Query, topic common.Hash, lo, hi uint64) ([]TrackedEvent, error) {
	var decoded []TrackedEvent
	_, err := failsafe.With[[]types.Log](f.retry).WithContext(ctx).Get(func() ([]types.Log, error) {
		logs, err := f.client.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(lo + 1),
			ToBlock:   new(big.Int).SetUint64(hi),
			Addresses: []common.Address{q.Contract.Address},
			Topics:    [][]common.Hash{{topic}},
		})
		if err != nil {
			return nil, err
		}
		decoded = decoded[:0]
		for _, l := range logs {
			if l.Removed {
				continue
			}
			e, err := decodeEvent(q.Contract.ABI, q.EventName, l)
			if err != nil {
				return nil, err
			}
			e.Chain = f.chain
			e.ContractName = q.Contract.Name
			decoded = append(decoded, e)
		}
		return logs, nil
	})
	windowsTotal.WithLabelValues(f.chain).Inc()
	if err != nil {
		return nil, fmt.Errorf("%s logs (%d, %d]: %w", f.chain, lo, hi, err)
	}
	return decoded, nil
}

// GetTokenURI calls tokenURI(unitId) on the registry.
func (f *Fetcher) GetTokenURI(ctx context.Context, contract Contract, unitID uint64) (string, error) {
	input, err := contract.ABI.Pack("tokenURI", new(big.Int).SetUint64(unitID))
	if err != nil {
		return "", fmt.Errorf("pack tokenURI: %w", err)
	}
	to := contract.Address
	out, err := f.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		return "", fmt.Errorf("call tokenURI(%d) on %s: %w", unitID, contract.Name, err)
	}
	values, err := contract.ABI.Unpack("tokenURI", out)
	if err != nil {
		return "", fmt.Errorf("unpack tokenURI: %w", err)
	}
	if len(values) != 1 {
		return "", fmt.Errorf("tokenURI returned %d values", len(values))
	}
	uri, ok := values[0].(string)
	if !ok {
		return "", fmt.Errorf("tokenURI returned %T", values[0])
	}
	return uri, nil
}
