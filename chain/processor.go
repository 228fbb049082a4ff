package chain

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/airchains-network/simnode/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/tracing"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
)

// Processor executes transactions and calls with go-ethereum's state
// transition. Mining, calls and gas estimation all go through ApplyMessage,
// so they share one set of gas and refund rules.
type Processor struct {
	config       *params.ChainConfig
	vmConfig     vm.Config
	getHash      vm.GetHashFunc
	mineFailures bool
	log          *logrus.Logger
}

// NewProcessor returns a Processor for config. With mineFailures set,
// transactions whose gas is below the intrinsic cost are mined as failures
// consuming their whole gas limit instead of being refused.
func NewProcessor(config *params.ChainConfig, mineFailures bool, getHash vm.GetHashFunc, log *logrus.Logger) *Processor {
	return &Processor{
		config:       config,
		vmConfig:     vm.Config{NoBaseFee: true},
		getHash:      getHash,
		mineFailures: mineFailures,
		log:          log,
	}
}

func (p *Processor) ChainConfig() *params.ChainConfig { return p.config }

// BlockContext builds the EVM block context for header.
func (p *Processor) BlockContext(header *ethtypes.Header) vm.BlockContext {
	getHash := p.getHash
	if getHash == nil {
		getHash = func(uint64) common.Hash { return common.Hash{} }
	}
	return vm.BlockContext{
		CanTransfer: core.CanTransfer,
		Transfer:    core.Transfer,
		GetHash:     getHash,
		Coinbase:    header.Coinbase,
		BlockNumber: new(big.Int).Set(header.Number),
		Time:        header.Time,
		Difficulty:  new(big.Int).Set(header.Difficulty),
		GasLimit:    header.GasLimit,
	}
}

// IntrinsicGas returns the gas a transaction pays before executing any code.
func (p *Processor) IntrinsicGas(data []byte, create bool, number *big.Int) (uint64, error) {
	return core.IntrinsicGas(data, nil, nil, create, true, p.config.IsIstanbul(number), false)
}

// Message turns tx into a state transition message. Impersonated senders
// may be contracts.
func Message(tx *types.Transaction) *core.Message {
	return &core.Message{
		From:             tx.From(),
		To:               tx.To(),
		Nonce:            tx.Nonce(),
		Value:            tx.Value(),
		GasLimit:         tx.Gas(),
		GasPrice:         tx.GasPrice(),
		GasFeeCap:        tx.GasPrice(),
		GasTipCap:        tx.GasPrice(),
		Data:             tx.Data(),
		SkipFromEOACheck: tx.Kind() == types.Impersonated,
	}
}

func (p *Processor) newEVM(statedb *state.StateDB, header *ethtypes.Header, hooks *tracing.Hooks) *vm.EVM {
	cfg := p.vmConfig
	cfg.Tracer = hooks
	return vm.NewEVM(p.BlockContext(header), statedb, p.config, cfg)
}

// Apply executes tx as the index'th transaction of the block described by
// header. A returned error means the transaction could not be executed at
// all; the caller must revert the state it touched. A transaction that ran
// and failed returns its failure receipt and an ExecutionError.
func (p *Processor) Apply(statedb *state.StateDB, header *ethtypes.Header, tx *types.Transaction, index int, gp *core.GasPool, usedGas *uint64, hooks *tracing.Hooks) (*ethtypes.Receipt, error) {
	statedb.SetTxContext(tx.Hash(), index)
	msg := Message(tx)

	var (
		result *core.ExecutionResult
		err    error
	)
	if intrinsic, ierr := p.IntrinsicGas(msg.Data, msg.To == nil, header.Number); ierr == nil && msg.GasLimit < intrinsic && p.mineFailures {
		result, err = p.consumeAll(statedb, header, msg, gp)
	} else {
		result, err = core.ApplyMessage(p.newEVM(statedb, header, hooks), msg, gp)
	}
	if err != nil {
		return nil, err
	}
	statedb.Finalise(true)
	*usedGas += result.UsedGas

	receipt := &ethtypes.Receipt{
		Type:              ethtypes.LegacyTxType,
		CumulativeGasUsed: *usedGas,
		TxHash:            tx.Hash(),
		GasUsed:           result.UsedGas,
		EffectiveGasPrice: new(big.Int).Set(msg.GasPrice),
		BlockNumber:       new(big.Int).Set(header.Number),
		TransactionIndex:  uint(index),
	}
	if result.Failed() {
		receipt.Status = ethtypes.ReceiptStatusFailed
	} else {
		receipt.Status = ethtypes.ReceiptStatusSuccessful
	}
	if msg.To == nil {
		receipt.ContractAddress = crypto.CreateAddress(msg.From, msg.Nonce)
	}
	receipt.Logs = statedb.GetLogs(tx.Hash(), header.Number.Uint64(), common.Hash{})
	if receipt.Logs == nil {
		receipt.Logs = []*ethtypes.Log{}
	}
	receipt.Bloom = ethtypes.CreateBloom(ethtypes.Receipts{receipt})

	if result.Failed() {
		return receipt, &types.ExecutionError{TxHash: tx.Hash(), Err: result.Err, Revert: result.Revert()}
	}
	return receipt, nil
}

// consumeAll charges a transaction below its intrinsic gas for its whole gas
// limit and bumps the sender nonce, without running any code.
func (p *Processor) consumeAll(statedb *state.StateDB, header *ethtypes.Header, msg *core.Message, gp *core.GasPool) (*core.ExecutionResult, error) {
	switch nonce := statedb.GetNonce(msg.From); {
	case nonce > msg.Nonce:
		return nil, fmt.Errorf("%w: address %v, tx: %d state: %d", core.ErrNonceTooLow, msg.From.Hex(), msg.Nonce, nonce)
	case nonce < msg.Nonce:
		return nil, fmt.Errorf("%w: address %v, tx: %d state: %d", core.ErrNonceTooHigh, msg.From.Hex(), msg.Nonce, nonce)
	}
	cost := new(big.Int).Mul(new(big.Int).SetUint64(msg.GasLimit), msg.GasPrice)
	fee, overflow := uint256.FromBig(cost)
	if overflow || statedb.GetBalance(msg.From).Cmp(fee) < 0 {
		return nil, fmt.Errorf("%w: address %v", core.ErrInsufficientFunds, msg.From.Hex())
	}
	if err := gp.SubGas(msg.GasLimit); err != nil {
		return nil, err
	}
	statedb.SubBalance(msg.From, fee, tracing.BalanceDecreaseGasBuy)
	statedb.AddBalance(header.Coinbase, fee, tracing.BalanceIncreaseRewardTransactionFee)
	statedb.SetNonce(msg.From, msg.Nonce+1, tracing.NonceChangeEoACall)
	return &core.ExecutionResult{UsedGas: msg.GasLimit, Err: core.ErrIntrinsicGas}, nil
}

// Call runs msg against statedb without a block gas pool. The caller owns
// statedb and discards it afterwards.
func (p *Processor) Call(statedb *state.StateDB, header *ethtypes.Header, msg *core.Message, hooks *tracing.Hooks) (*core.ExecutionResult, error) {
	gp := new(core.GasPool).AddGas(math.MaxUint64)
	return core.ApplyMessage(p.newEVM(statedb, header, hooks), msg, gp)
}

// CallResult runs msg and turns a failed execution into an ExecutionError
// carrying the revert payload.
func (p *Processor) CallResult(statedb *state.StateDB, header *ethtypes.Header, msg *core.Message) ([]byte, error) {
	result, err := p.Call(statedb, header, msg, nil)
	if err != nil {
		return nil, err
	}
	if result.Failed() {
		return result.Return(), &types.ExecutionError{Err: result.Err, Revert: result.Revert()}
	}
	return result.Return(), nil
}

// Estimate returns the smallest gas limit, up to msg.GasLimit, at which msg
// succeeds. Every attempt runs on statedb and is rolled back.
func (p *Processor) Estimate(statedb *state.StateDB, header *ethtypes.Header, msg *core.Message) (uint64, error) {
	attempt := func(gas uint64) (*core.ExecutionResult, error) {
		snapshot := statedb.Snapshot()
		defer statedb.RevertToSnapshot(snapshot)

		m := *msg
		m.GasLimit = gas
		return p.Call(statedb, header, &m, nil)
	}

	hi := msg.GasLimit
	result, err := attempt(hi)
	if err != nil {
		return 0, err
	}
	if result.Failed() {
		return 0, &types.ExecutionError{Err: result.Err, Revert: result.Revert()}
	}

	intrinsic, err := p.IntrinsicGas(msg.Data, msg.To == nil, header.Number)
	if err != nil {
		return 0, err
	}
	lo := intrinsic - 1
	if hi <= lo {
		return hi, nil
	}
	for lo+1 < hi {
		mid := lo + (hi-lo)/2
		result, err := attempt(mid)
		if err != nil && !errors.Is(err, core.ErrIntrinsicGas) {
			return 0, err
		}
		if err == nil && !result.Failed() {
			hi = mid
		} else {
			lo = mid
		}
	}
	p.log.Debugf("Estimated %d gas for call from %s", hi, msg.From.Hex())
	return hi, nil
}
