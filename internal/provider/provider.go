// Package provider is the thin capability the rest of the scan engine calls
// to talk to a chain node: fetch logs, fetch the current block height.
// Construction dispatches on the URL scheme (ws, http, ipc) the same way
// go-ethereum's own ethclient.DialContext does, so this package adapts that
// client rather than reimplementing transport selection.
package provider

import (
	"context"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

// Filter is the closed-interval, address/topic query the core issues
// against a Provider. It maps directly onto go-ethereum's FilterQuery.
type Filter struct {
	FromBlock uint64
	ToBlock   uint64
	Addresses []common.Address
	Topics    [][]common.Hash
}

func (f Filter) query() ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(f.FromBlock),
		ToBlock:   new(big.Int).SetUint64(f.ToBlock),
		Addresses: f.Addresses,
		Topics:    f.Topics,
	}
}

// Provider is the capability surface the core depends on. Endpoints hold
// exactly one of these; nothing else in the core talks to the chain
// directly.
type Provider interface {
	GetLogs(ctx context.Context, filter Filter) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Close()
}

// client wraps *ethclient.Client. The wrapped client already picks its
// transport (websocket / http / ipc) from the URL scheme at dial time.
type client struct {
	url string
	eth *ethclient.Client
}

// DialOptions bounds the dial retry policy.
type DialOptions struct {
	MaxAttempts uint64
	InitialWait time.Duration
}

// DefaultDialOptions matches the teacher's retry defaults (3 attempts,
// 1.5s initial delay) expressed as a backoff policy instead of a fixed loop.
func DefaultDialOptions() DialOptions {
	return DialOptions{MaxAttempts: 3, InitialWait: 1500 * time.Millisecond}
}

// Dial connects to url, retrying transient dial failures with exponential
// backoff. url must start with "wss", "http(s)" or "/" (a local socket).
func Dial(ctx context.Context, url string, opts DialOptions) (Provider, error) {
	if opts.MaxAttempts == 0 {
		opts = DefaultDialOptions()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = opts.InitialWait
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, opts.MaxAttempts-1), ctx)

	var eth *ethclient.Client
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		var dialErr error
		eth, dialErr = ethclient.DialContext(ctx, url)
		if dialErr != nil {
			logrus.WithField("url", url).Warnf("provider dial failed (attempt %d/%d): %v", attempt, opts.MaxAttempts, dialErr)
		}
		return dialErr
	}, policy)
	if err != nil {
		return nil, err
	}
	return &client{url: url, eth: eth}, nil
}

func (c *client) GetLogs(ctx context.Context, filter Filter) ([]types.Log, error) {
	return c.eth.FilterLogs(ctx, filter.query())
}

func (c *client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.eth.BlockNumber(ctx)
}

func (c *client) Close() {
	c.eth.Close()
}
