package engine

import (
	"context"
	"fmt"
	"math/big"

	"github.com/airchains-network/simnode/chain"
	"github.com/airchains-network/simnode/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethstate "github.com/ethereum/go-ethereum/core/state"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

// BlockResult is a block with its transactions, which are only filled in
// when requested in full.
type BlockResult struct {
	Header       *ethtypes.Header
	Hashes       []common.Hash
	Transactions []*types.TxRecord
}

// TxLookup is a transaction by hash. Pending transactions have no block.
type TxLookup struct {
	Record  *types.TxRecord
	Pending bool
}

// ReceiptLookup is a mined receipt with the transaction it belongs to.
type ReceiptLookup struct {
	Receipt *ethtypes.Receipt
	Tx      *types.TxRecord
}

func (e *Engine) headNumber() uint64 {
	number, _, _ := e.index.Head()
	return number
}

// resolve turns a block specifier into a number no later than the head.
func (e *Engine) resolve(n rpc.BlockNumber) (uint64, error) {
	head := e.headNumber()
	switch n {
	case rpc.LatestBlockNumber, rpc.PendingBlockNumber, rpc.SafeBlockNumber, rpc.FinalizedBlockNumber:
		return head, nil
	case rpc.EarliestBlockNumber:
		return 0, nil
	}
	if n < 0 || uint64(n) > head {
		return 0, ErrBlockNotFound
	}
	return uint64(n), nil
}

// header returns the header of block number, local or remote.
func (e *Engine) header(ctx context.Context, number uint64) (*ethtypes.Header, error) {
	if number >= e.genesis {
		block, err := e.index.Block(number)
		if err != nil {
			return nil, err
		}
		if block == nil {
			return nil, ErrBlockNotFound
		}
		return block.Header, nil
	}
	header, err := e.fetcher.Header(ctx, number)
	if err != nil {
		return nil, err
	}
	if header == nil {
		return nil, ErrBlockNotFound
	}
	return header, nil
}

// stateAt opens a private state of block n. Writes to it, including
// cached remote answers, never reach the canonical journal.
func (e *Engine) stateAt(ctx context.Context, n rpc.BlockNumber) (*gethstate.StateDB, *ethtypes.Header, error) {
	e.mu.RLock()
	number, err := e.resolve(n)
	if err != nil {
		e.mu.RUnlock()
		return nil, nil, err
	}
	backend := e.journal.Copy()
	e.mu.RUnlock()

	header, err := e.header(ctx, number)
	if err != nil {
		return nil, nil, err
	}
	root := ethtypes.EmptyRootHash
	if number >= e.genesis {
		root = header.Root
	}
	sdb, err := e.statedb.WithBackend(backend).WithContext(ctx).At(number).State(root)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open state of block #%d: %w", number, err)
	}
	return sdb, header, nil
}

// read runs fn on the state of block n and surfaces any state read error.
func (e *Engine) read(ctx context.Context, n rpc.BlockNumber, fn func(*gethstate.StateDB)) error {
	if err := e.begin(ctx); err != nil {
		return err
	}
	sdb, _, err := e.stateAt(ctx, n)
	if err != nil {
		return err
	}
	fn(sdb)
	return sdb.Error()
}

func (e *Engine) GetBalance(ctx context.Context, addr common.Address, n rpc.BlockNumber) (*big.Int, error) {
	var balance *big.Int
	err := e.read(ctx, n, func(sdb *gethstate.StateDB) {
		balance = sdb.GetBalance(addr).ToBig()
	})
	return balance, err
}

func (e *Engine) GetCode(ctx context.Context, addr common.Address, n rpc.BlockNumber) (hexutil.Bytes, error) {
	var code []byte
	err := e.read(ctx, n, func(sdb *gethstate.StateDB) {
		code = common.CopyBytes(sdb.GetCode(addr))
	})
	return code, err
}

func (e *Engine) GetStorageAt(ctx context.Context, addr common.Address, slot common.Hash, n rpc.BlockNumber) (common.Hash, error) {
	var value common.Hash
	err := e.read(ctx, n, func(sdb *gethstate.StateDB) {
		value = sdb.GetState(addr, slot)
	})
	return value, err
}

// GetTransactionCount returns the nonce of addr. The pending count also
// covers transactions still queued for addr.
func (e *Engine) GetTransactionCount(ctx context.Context, addr common.Address, n rpc.BlockNumber) (uint64, error) {
	var nonce uint64
	err := e.read(ctx, n, func(sdb *gethstate.StateDB) {
		nonce = sdb.GetNonce(addr)
	})
	if err != nil {
		return 0, err
	}
	if n == rpc.PendingBlockNumber {
		if next, ok := e.pool.NonceOf(addr); ok && next > nonce {
			nonce = next
		}
	}
	return nonce, nil
}

func (e *Engine) BlockNumber(ctx context.Context) (uint64, error) {
	if err := e.begin(ctx); err != nil {
		return 0, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.headNumber(), nil
}

func (e *Engine) ChainID(ctx context.Context) (*big.Int, error) {
	if err := e.begin(ctx); err != nil {
		return nil, err
	}
	return new(big.Int).Set(e.chainConfig.ChainID), nil
}

func (e *Engine) NetworkID(ctx context.Context) (uint64, error) {
	if err := e.begin(ctx); err != nil {
		return 0, err
	}
	return e.networkID, nil
}

func (e *Engine) GasPrice(ctx context.Context) (*big.Int, error) {
	if err := e.begin(ctx); err != nil {
		return nil, err
	}
	return new(big.Int).Set(e.gasPrice), nil
}

func (e *Engine) Coinbase(ctx context.Context) (common.Address, error) {
	if err := e.begin(ctx); err != nil {
		return common.Address{}, err
	}
	return e.coinbase, nil
}

// blockBy finds a local block by number or hash; nil when there is none.
func (e *Engine) blockBy(ctx context.Context, ref rpc.BlockNumberOrHash) (*chain.Block, *ethtypes.Header, error) {
	if hash, ok := ref.Hash(); ok {
		block, err := e.index.BlockByHash(hash)
		if err != nil || block == nil {
			return nil, nil, err
		}
		return block, block.Header, nil
	}
	n, _ := ref.Number()
	e.mu.RLock()
	number, err := e.resolve(n)
	e.mu.RUnlock()
	if err == ErrBlockNotFound {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	if number < e.genesis {
		header, err := e.header(ctx, number)
		if err == ErrBlockNotFound {
			return nil, nil, nil
		}
		return nil, header, err
	}
	block, err := e.index.Block(number)
	if err != nil || block == nil {
		return nil, nil, err
	}
	return block, block.Header, nil
}

// GetBlock returns the block ref points at, or nil. Blocks before a fork
// point carry their header only.
func (e *Engine) GetBlock(ctx context.Context, ref rpc.BlockNumberOrHash, fullTx bool) (*BlockResult, error) {
	if err := e.begin(ctx); err != nil {
		return nil, err
	}
	block, header, err := e.blockBy(ctx, ref)
	if err != nil || header == nil {
		return nil, err
	}
	res := &BlockResult{Header: header, Hashes: []common.Hash{}}
	if block == nil {
		return res, nil
	}
	res.Hashes = block.Transactions
	if fullTx {
		for _, h := range block.Transactions {
			rec, err := e.index.Transaction(h)
			if err != nil {
				return nil, err
			}
			res.Transactions = append(res.Transactions, rec)
		}
	}
	return res, nil
}

// GetBlockTransactionCount returns nil when the block does not exist.
func (e *Engine) GetBlockTransactionCount(ctx context.Context, ref rpc.BlockNumberOrHash) (*uint64, error) {
	res, err := e.GetBlock(ctx, ref, false)
	if err != nil || res == nil {
		return nil, err
	}
	n := uint64(len(res.Hashes))
	return &n, nil
}

// GetTransactionByHash returns a mined or queued transaction, or nil.
func (e *Engine) GetTransactionByHash(ctx context.Context, hash common.Hash) (*TxLookup, error) {
	if err := e.begin(ctx); err != nil {
		return nil, err
	}
	rec, err := e.index.Transaction(hash)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		return &TxLookup{Record: rec}, nil
	}
	tx := e.pool.Get(hash)
	if tx == nil {
		return nil, nil
	}
	rec, err = types.NewTxRecord(tx, common.Hash{}, 0, 0)
	if err != nil {
		return nil, err
	}
	return &TxLookup{Record: rec, Pending: true}, nil
}

func (e *Engine) GetTransactionByBlockAndIndex(ctx context.Context, ref rpc.BlockNumberOrHash, index uint64) (*TxLookup, error) {
	res, err := e.GetBlock(ctx, ref, false)
	if err != nil || res == nil || index >= uint64(len(res.Hashes)) {
		return nil, err
	}
	return e.GetTransactionByHash(ctx, res.Hashes[index])
}

// GetTransactionReceipt returns the receipt of a mined transaction, or nil.
func (e *Engine) GetTransactionReceipt(ctx context.Context, hash common.Hash) (*ReceiptLookup, error) {
	if err := e.begin(ctx); err != nil {
		return nil, err
	}
	receipt, err := e.index.Receipt(hash)
	if err != nil || receipt == nil {
		return nil, err
	}
	rec, err := e.index.Transaction(hash)
	if err != nil {
		return nil, err
	}
	return &ReceiptLookup{Receipt: receipt, Tx: rec}, nil
}
