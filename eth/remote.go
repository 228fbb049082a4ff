package eth

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	defaultTimeout = 10 * time.Second
	defaultRetries = 3
	defaultBackoff = time.Second
)

// FetcherConfig bounds every remote call.
type FetcherConfig struct {
	Timeout time.Duration // per attempt
	Retries int
	Backoff time.Duration // multiplied by the attempt number
}

// RemoteFetcher answers Fetcher calls from a JSON-RPC endpoint.
type RemoteFetcher struct {
	client *Client
	cfg    FetcherConfig
	log    *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRemoteFetcher wraps client. Zero config fields take defaults.
func NewRemoteFetcher(client *Client, cfg FetcherConfig, log *logrus.Logger) *RemoteFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Retries <= 0 {
		cfg.Retries = defaultRetries
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RemoteFetcher{client: client, cfg: cfg, log: log, ctx: ctx, cancel: cancel}
}

// Close cancels in-flight calls and rejects new ones.
func (f *RemoteFetcher) Close() {
	f.cancel()
	f.client.Close()
}

// call runs fn with a per-attempt timeout, retrying with linear backoff.
func (f *RemoteFetcher) call(ctx context.Context, what string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(f.ctx, cancel)
	defer stop()

	var lastErr error
	for attempt := 0; attempt < f.cfg.Retries; attempt++ {
		attemptCtx, attemptCancel := context.WithTimeout(ctx, f.cfg.Timeout)
		err := fn(attemptCtx)
		attemptCancel()
		if err == nil {
			return nil
		}
		if errors.Is(err, ethereum.NotFound) {
			return err
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		f.log.Warnf("Fork %s attempt %d failed: %v", what, attempt+1, err)
		if attempt < f.cfg.Retries-1 {
			select {
			case <-time.After(f.cfg.Backoff * time.Duration(attempt+1)):
			case <-ctx.Done():
			}
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrForkUnavailable, what, lastErr)
}

// Account fetches balance, nonce and code concurrently.
func (f *RemoteFetcher) Account(ctx context.Context, addr common.Address, block uint64) (*RemoteAccount, error) {
	number := new(big.Int).SetUint64(block)
	acc := new(RemoteAccount)
	err := f.call(ctx, "account "+addr.Hex(), func(ctx context.Context) error {
		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			acc.Balance, err = f.client.Eth.BalanceAt(ctx, addr, number)
			return err
		})
		g.Go(func() (err error) {
			acc.Nonce, err = f.client.Eth.NonceAt(ctx, addr, number)
			return err
		})
		g.Go(func() (err error) {
			acc.Code, err = f.client.Eth.CodeAt(ctx, addr, number)
			return err
		})
		return g.Wait()
	})
	if err != nil {
		return nil, err
	}
	if acc.Empty() {
		return nil, nil
	}
	return acc, nil
}

// Storage fetches one storage slot.
func (f *RemoteFetcher) Storage(ctx context.Context, addr common.Address, slot common.Hash, block uint64) (common.Hash, error) {
	var value []byte
	err := f.call(ctx, "storage "+addr.Hex(), func(ctx context.Context) (err error) {
		value, err = f.client.Eth.StorageAt(ctx, addr, slot, new(big.Int).SetUint64(block))
		return err
	})
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(value), nil
}

// Code fetches contract code.
func (f *RemoteFetcher) Code(ctx context.Context, addr common.Address, block uint64) ([]byte, error) {
	var code []byte
	err := f.call(ctx, "code "+addr.Hex(), func(ctx context.Context) (err error) {
		code, err = f.client.Eth.CodeAt(ctx, addr, new(big.Int).SetUint64(block))
		return err
	})
	return code, err
}

// Header fetches a block header.
func (f *RemoteFetcher) Header(ctx context.Context, block uint64) (*types.Header, error) {
	var header *types.Header
	err := f.call(ctx, fmt.Sprintf("header %d", block), func(ctx context.Context) (err error) {
		header, err = f.client.Eth.HeaderByNumber(ctx, new(big.Int).SetUint64(block))
		return err
	})
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	return header, err
}

// Logs runs a log filter query.
func (f *RemoteFetcher) Logs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	var logs []types.Log
	err := f.call(ctx, "logs", func(ctx context.Context) (err error) {
		logs, err = f.client.Eth.FilterLogs(ctx, query)
		return err
	})
	return logs, err
}

// BlockNumber returns the remote head number.
func (f *RemoteFetcher) BlockNumber(ctx context.Context) (uint64, error) {
	var number uint64
	err := f.call(ctx, "block number", func(ctx context.Context) (err error) {
		number, err = f.client.Eth.BlockNumber(ctx)
		return err
	})
	return number, err
}

// ChainID returns the remote chain id.
func (f *RemoteFetcher) ChainID(ctx context.Context) (*big.Int, error) {
	var id *big.Int
	err := f.call(ctx, "chain id", func(ctx context.Context) (err error) {
		id, err = f.client.Eth.ChainID(ctx)
		return err
	})
	return id, err
}

// NetworkID returns the remote network id.
func (f *RemoteFetcher) NetworkID(ctx context.Context) (*big.Int, error) {
	var id *big.Int
	err := f.call(ctx, "network id", func(ctx context.Context) (err error) {
		id, err = f.client.Eth.NetworkID(ctx)
		return err
	})
	return id, err
}
