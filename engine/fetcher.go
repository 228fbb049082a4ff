package engine

import (
	"context"
	"errors"
	"math/big"

	"github.com/airchains-network/simnode/eth"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethstate "github.com/ethereum/go-ethereum/core/state"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

// Fetcher exposes the engine as a fork source for another engine.
func (e *Engine) Fetcher() eth.Fetcher {
	return &engineFetcher{e: e}
}

type engineFetcher struct {
	e *Engine
}

var _ eth.Fetcher = (*engineFetcher)(nil)

func blockArg(block uint64) rpc.BlockNumber {
	return rpc.BlockNumber(int64(block))
}

func (f *engineFetcher) Account(ctx context.Context, addr common.Address, block uint64) (*eth.RemoteAccount, error) {
	var acc *eth.RemoteAccount
	err := f.e.read(ctx, blockArg(block), func(sdb *gethstate.StateDB) {
		if !sdb.Exist(addr) {
			return
		}
		acc = &eth.RemoteAccount{
			Balance: sdb.GetBalance(addr).ToBig(),
			Nonce:   sdb.GetNonce(addr),
			Code:    sdb.GetCode(addr),
		}
	})
	return acc, err
}

func (f *engineFetcher) Storage(ctx context.Context, addr common.Address, slot common.Hash, block uint64) (common.Hash, error) {
	return f.e.GetStorageAt(ctx, addr, slot, blockArg(block))
}

func (f *engineFetcher) Code(ctx context.Context, addr common.Address, block uint64) ([]byte, error) {
	return f.e.GetCode(ctx, addr, blockArg(block))
}

func (f *engineFetcher) Header(ctx context.Context, block uint64) (*ethtypes.Header, error) {
	if err := f.e.begin(ctx); err != nil {
		return nil, err
	}
	f.e.mu.RLock()
	number, err := f.e.resolve(blockArg(block))
	f.e.mu.RUnlock()
	if err == nil {
		var header *ethtypes.Header
		header, err = f.e.header(ctx, number)
		if err == nil {
			return header, nil
		}
	}
	if errors.Is(err, ErrBlockNotFound) {
		return nil, nil
	}
	return nil, err
}

func (f *engineFetcher) Logs(ctx context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error) {
	logs, err := f.e.GetLogs(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]ethtypes.Log, len(logs))
	for i, log := range logs {
		out[i] = *log
	}
	return out, nil
}

func (f *engineFetcher) BlockNumber(ctx context.Context) (uint64, error) {
	return f.e.BlockNumber(ctx)
}

func (f *engineFetcher) ChainID(ctx context.Context) (*big.Int, error) {
	return f.e.ChainID(ctx)
}

func (f *engineFetcher) NetworkID(ctx context.Context) (*big.Int, error) {
	id, err := f.e.NetworkID(ctx)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetUint64(id), nil
}
