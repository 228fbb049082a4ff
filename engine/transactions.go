package engine

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/airchains-network/simnode/chain"
	"github.com/airchains-network/simnode/config"
	"github.com/airchains-network/simnode/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core"
	gethstate "github.com/ethereum/go-ethereum/core/state"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

// defaultSendGas is the gas limit of a send that does not name one.
const defaultSendGas = 90000

// TxArgs are the transaction fields of send, call and estimate requests.
type TxArgs struct {
	From     *common.Address `json:"from"`
	To       *common.Address `json:"to"`
	Gas      *hexutil.Uint64 `json:"gas"`
	GasPrice *hexutil.Big    `json:"gasPrice"`
	Value    *hexutil.Big    `json:"value"`
	Nonce    *hexutil.Uint64 `json:"nonce"`
	Data     *hexutil.Bytes  `json:"data"`
	Input    *hexutil.Bytes  `json:"input"`
}

func (args *TxArgs) data() []byte {
	if args.Input != nil {
		return *args.Input
	}
	if args.Data != nil {
		return *args.Data
	}
	return nil
}

func (args *TxArgs) value() *big.Int {
	if args.Value == nil {
		return new(big.Int)
	}
	return args.Value.ToInt()
}

// QueueTransaction runs a send, call or estimate request. A send returns
// the transaction hash, a call its output and an estimate the gas limit.
func (e *Engine) QueueTransaction(ctx context.Context, kind types.RequestKind, args TxArgs, n rpc.BlockNumber) (interface{}, error) {
	switch kind {
	case types.KindSend:
		return e.SendTransaction(ctx, args)
	case types.KindCall:
		return e.Call(ctx, args, n)
	case types.KindEstimate:
		return e.EstimateGas(ctx, args, n)
	}
	return nil, fmt.Errorf("unknown request kind %d", kind)
}

// SendTransaction signs args for a managed sender, or sends them on behalf
// of an impersonated one, and queues the result.
func (e *Engine) SendTransaction(ctx context.Context, args TxArgs) (common.Hash, error) {
	if err := e.begin(ctx); err != nil {
		return common.Hash{}, err
	}
	if args.From == nil {
		return common.Hash{}, &types.ValidationError{Op: "eth_sendTransaction", Msg: "from not specified"}
	}
	key, unlocked := e.accounts.key(*args.From)
	if !unlocked {
		return common.Hash{}, types.Admission(types.ErrAccountLocked)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	tx, err := e.buildTx(args, key)
	if err != nil {
		return common.Hash{}, err
	}
	return e.submit(tx)
}

// PersonalSend sends args after checking the sender's passphrase, whether
// or not the account is unlocked.
func (e *Engine) PersonalSend(ctx context.Context, args TxArgs, passphrase string) (common.Hash, error) {
	if err := e.begin(ctx); err != nil {
		return common.Hash{}, err
	}
	if args.From == nil {
		return common.Hash{}, &types.ValidationError{Op: "personal_sendTransaction", Msg: "from not specified"}
	}
	key, err := e.accounts.checkPassphrase(*args.From, passphrase)
	if err != nil {
		return common.Hash{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	tx, err := e.buildTx(args, key)
	if err != nil {
		return common.Hash{}, err
	}
	return e.submit(tx)
}

// SendRawTransaction queues a signed transaction from any sender.
func (e *Engine) SendRawTransaction(ctx context.Context, raw hexutil.Bytes) (common.Hash, error) {
	if err := e.begin(ctx); err != nil {
		return common.Hash{}, err
	}
	inner := new(ethtypes.Transaction)
	if err := inner.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, &types.ValidationError{Op: "eth_sendRawTransaction", Msg: err.Error()}
	}
	tx, err := types.NewSigned(inner, e.signer)
	if err != nil {
		return common.Hash{}, &types.ValidationError{Op: "eth_sendRawTransaction", Msg: err.Error()}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.submit(tx)
}

// buildTx fills send defaults and signs when a key is available. Callers
// hold e.mu.
func (e *Engine) buildTx(args TxArgs, key *ecdsa.PrivateKey) (*types.Transaction, error) {
	from := *args.From
	gas := uint64(defaultSendGas)
	if args.Gas != nil {
		gas = uint64(*args.Gas)
	}
	gasPrice := new(big.Int).Set(e.gasPrice)
	if args.GasPrice != nil {
		gasPrice = args.GasPrice.ToInt()
	}
	var nonce uint64
	if args.Nonce != nil {
		nonce = uint64(*args.Nonce)
	} else {
		sdb, err := e.headState()
		if err != nil {
			return nil, err
		}
		nonce = sdb.GetNonce(from)
		if next, ok := e.pool.NonceOf(from); ok && next > nonce {
			nonce = next
		}
		if err := sdb.Error(); err != nil {
			return nil, err
		}
	}

	if key == nil {
		return types.NewImpersonated(from, nonce, args.To, args.value(), gas, gasPrice, args.data()), nil
	}
	signed, err := ethtypes.SignNewTx(key, e.signer, &ethtypes.LegacyTx{
		Nonce:    nonce,
		To:       args.To,
		Value:    args.value(),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     args.data(),
	})
	if err != nil {
		return nil, err
	}
	return types.NewSigned(signed, e.signer)
}

// headState opens the canonical state at the head. Callers hold e.mu.
func (e *Engine) headState() (*gethstate.StateDB, error) {
	head, err := e.index.Block(e.headNumber())
	if err != nil {
		return nil, err
	}
	if head == nil {
		return nil, ErrBlockNotFound
	}
	return e.statedb.At(head.Number() + 1).State(head.Header.Root)
}

// submit admits tx, queues it and mines it in instant mode. Callers hold e.mu.
func (e *Engine) submit(tx *types.Transaction) (common.Hash, error) {
	if err := e.admit(tx); err != nil {
		return common.Hash{}, err
	}
	if err := e.pool.AddTx(tx); err != nil {
		return common.Hash{}, types.Admission(err)
	}
	e.metrics.SetPending(e.pool.Len())

	if e.cfg.Mining.Mode != config.MiningInstant || !e.miner.Mining() {
		return tx.Hash(), nil
	}
	_, err := e.miner.MinePending()
	e.metrics.SetPending(e.pool.Len())
	return tx.Hash(), err
}

// admit runs the checks a transaction must pass before it is queued.
func (e *Engine) admit(tx *types.Transaction) error {
	if tx.Gas() > e.cfg.Chain.GasLimit {
		return types.Admission(types.ErrExceedsBlockGasLimit)
	}
	sdb, err := e.headState()
	if err != nil {
		return err
	}
	nonce := sdb.GetNonce(tx.From())
	balance := sdb.GetBalance(tx.From()).ToBig()
	if err := sdb.Error(); err != nil {
		return err
	}
	if tx.Nonce() < nonce {
		return types.Admission(fmt.Errorf("%w: address %s, tx: %d state: %d", types.ErrNonceTooLow, tx.From().Hex(), tx.Nonce(), nonce))
	}
	if e.cfg.Mining.IntrinsicGasPolicy != config.IntrinsicGasMine {
		intrinsic, err := e.processor.IntrinsicGas(tx.Data(), tx.To() == nil, new(big.Int).SetUint64(e.headNumber()+1))
		if err != nil {
			return types.Admission(err)
		}
		if tx.Gas() < intrinsic {
			return types.Admission(fmt.Errorf("%w: have %d, want %d", types.ErrIntrinsicGas, tx.Gas(), intrinsic))
		}
	}
	cost := new(big.Int).Mul(new(big.Int).SetUint64(tx.Gas()), tx.GasPrice())
	cost.Add(cost, tx.Value())
	if balance.Cmp(cost) < 0 {
		return types.Admission(fmt.Errorf("%w: address %s have %v want %v", types.ErrInsufficientFunds, tx.From().Hex(), balance, cost))
	}
	return nil
}

// callMessage fills call and estimate defaults from header.
func (e *Engine) callMessage(args TxArgs, header *ethtypes.Header) *core.Message {
	from := e.coinbase
	if args.From != nil {
		from = *args.From
	}
	gas := header.GasLimit
	if args.Gas != nil {
		gas = uint64(*args.Gas)
	}
	gasPrice := new(big.Int)
	if args.GasPrice != nil {
		gasPrice = args.GasPrice.ToInt()
	}
	return &core.Message{
		From:             from,
		To:               args.To,
		Value:            args.value(),
		GasLimit:         gas,
		GasPrice:         gasPrice,
		GasFeeCap:        gasPrice,
		GasTipCap:        gasPrice,
		Data:             args.data(),
		SkipNonceChecks:  true,
		SkipFromEOACheck: true,
	}
}

// Call executes args on a private copy of block n's state.
func (e *Engine) Call(ctx context.Context, args TxArgs, n rpc.BlockNumber) (hexutil.Bytes, error) {
	if err := e.begin(ctx); err != nil {
		return nil, err
	}
	sdb, header, err := e.stateAt(ctx, n)
	if err != nil {
		return nil, err
	}
	out, err := e.processor.CallResult(sdb, header, e.callMessage(args, header))
	if serr := sdb.Error(); serr != nil {
		return nil, serr
	}
	return out, err
}

// EstimateGas returns the smallest gas limit args succeed with.
func (e *Engine) EstimateGas(ctx context.Context, args TxArgs, n rpc.BlockNumber) (hexutil.Uint64, error) {
	if err := e.begin(ctx); err != nil {
		return 0, err
	}
	sdb, header, err := e.stateAt(ctx, n)
	if err != nil {
		return 0, err
	}
	gas, err := e.processor.Estimate(sdb, header, e.callMessage(args, header))
	if serr := sdb.Error(); serr != nil {
		return 0, serr
	}
	return hexutil.Uint64(gas), err
}

// TraceTransaction replays the block of a mined transaction up to it and
// records every opcode it executes.
func (e *Engine) TraceTransaction(ctx context.Context, hash common.Hash) (*chain.TraceResult, error) {
	if err := e.begin(ctx); err != nil {
		return nil, err
	}
	rec, err := e.index.Transaction(hash)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("transaction %s not found", hash.Hex())
	}
	block, err := e.index.Block(uint64(rec.BlockNumber))
	if err != nil {
		return nil, err
	}
	if block == nil || block.Number() == e.genesis {
		return nil, fmt.Errorf("block #%d of transaction %s not found", rec.BlockNumber, hash.Hex())
	}
	parent, err := e.index.Block(block.Number() - 1)
	if err != nil || parent == nil {
		return nil, fmt.Errorf("parent of block #%d not found", block.Number())
	}

	e.mu.RLock()
	backend := e.journal.Copy()
	e.mu.RUnlock()
	sdb, err := e.statedb.WithBackend(backend).WithContext(ctx).At(block.Number()).State(parent.Header.Root)
	if err != nil {
		return nil, err
	}

	var (
		gp      = new(core.GasPool).AddGas(block.Header.GasLimit)
		usedGas uint64
	)
	for i, h := range block.Transactions {
		stored, err := e.index.Transaction(h)
		if err != nil || stored == nil {
			return nil, fmt.Errorf("transaction %s of block #%d not found", h.Hex(), block.Number())
		}
		tx, err := stored.Transaction(e.signer)
		if err != nil {
			return nil, err
		}
		if h != hash {
			if receipt, err := e.processor.Apply(sdb, block.Header, tx, i, gp, &usedGas, nil); receipt == nil {
				return nil, err
			}
			continue
		}
		tracer := chain.NewStructLogger(sdb)
		receipt, err := e.processor.Apply(sdb, block.Header, tx, i, gp, &usedGas, tracer.Hooks())
		if receipt == nil {
			return nil, err
		}
		return tracer.Result(receipt.GasUsed), nil
	}
	return nil, fmt.Errorf("transaction %s not found in block #%d", hash.Hex(), block.Number())
}

