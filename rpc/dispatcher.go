package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/airchains-network/simnode/engine"
	"github.com/airchains-network/simnode/metrics"
	"github.com/airchains-network/simnode/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/sirupsen/logrus"
)

// ClientVersion is reported by web3_clientVersion.
const ClientVersion = "SimNode/v1.0.0/go"

// Dispatcher decodes JSON-RPC calls and runs them against an engine.
type Dispatcher struct {
	engine  *engine.Engine
	metrics *metrics.Metrics
	log     *logrus.Logger
}

func NewDispatcher(e *engine.Engine, m *metrics.Metrics, log *logrus.Logger) *Dispatcher {
	return &Dispatcher{engine: e, metrics: m, log: log}
}

// arityError reproduces the message clients of other simulators match on.
func arityError(spec opSpec, params []json.RawMessage, injected bool) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Incorrect number of arguments. Method '%s' requires ", spec.Name)
	if spec.MinArgs == spec.MaxArgs {
		fmt.Fprintf(&b, "exactly %d arguments. ", spec.MaxArgs)
	} else {
		fmt.Fprintf(&b, "between %d and %d arguments. ", spec.MinArgs, spec.MaxArgs)
	}
	if injected {
		b.WriteString("Including the implicit block argument, r")
	} else {
		b.WriteString("R")
	}
	raw := make([]string, len(params))
	for i, p := range params {
		raw[i] = string(p)
	}
	fmt.Fprintf(&b, "equest specified %d arguments: [%s].", len(params), strings.Join(raw, ","))
	return &types.ValidationError{Msg: b.String()}
}

// CheckArity validates the number of params of method without running it.
func CheckArity(method string, params []json.RawMessage) error {
	spec, ok := opTable[method]
	if !ok {
		return &MethodNotFoundError{Method: method}
	}
	if len(params) < spec.MinArgs || len(params) > spec.MaxArgs {
		return arityError(spec, params, false)
	}
	return nil
}

// Handle runs method with params and returns a JSON-encodable result.
func (d *Dispatcher) Handle(ctx context.Context, method string, params []json.RawMessage) (result interface{}, err error) {
	spec, ok := opTable[method]
	if !ok {
		d.metrics.ObserveRequest("unknown", &MethodNotFoundError{Method: method})
		return nil, &MethodNotFoundError{Method: method}
	}
	defer func() { d.metrics.ObserveRequest(method, err) }()

	injected := false
	if spec.BlockArg >= 0 && len(params) < spec.MaxArgs {
		params = append(params, json.RawMessage(`"latest"`))
		injected = true
	}
	if len(params) < spec.MinArgs || len(params) > spec.MaxArgs {
		return nil, arityError(spec, params, injected)
	}

	result, err = d.dispatch(ctx, spec, args{op: spec.Name, params: params})
	if err != nil {
		d.log.Debugf("%s failed: %v", method, err)
	}
	return result, err
}

// args decodes positional parameters; absent optional ones are left untouched.
type args struct {
	op     string
	params []json.RawMessage
	err    error
}

func (a *args) at(i int, v interface{}) {
	if a.err != nil || i >= len(a.params) {
		return
	}
	if err := json.Unmarshal(a.params[i], v); err != nil {
		a.err = &types.ValidationError{Op: a.op, Msg: fmt.Sprintf("invalid argument %d: %v", i, err)}
	}
}

func (a *args) has(i int) bool { return i < len(a.params) && string(a.params[i]) != "null" }

func (d *Dispatcher) dispatch(ctx context.Context, spec opSpec, a args) (interface{}, error) {
	e := d.engine
	switch spec.Op {
	case OpClientVersion:
		return ClientVersion, nil
	case OpSha3:
		var data hexutil.Bytes
		if a.at(0, &data); a.err != nil {
			return nil, a.err
		}
		return hexutil.Bytes(crypto.Keccak256(data)), nil
	case OpNetVersion:
		id, err := e.NetworkID(ctx)
		if err != nil {
			return nil, err
		}
		return strconv.FormatUint(id, 10), nil
	case OpNetListening:
		return true, nil
	case OpNetPeerCount:
		return hexutil.Uint(0), nil
	case OpProtocolVersion:
		return "63", nil
	case OpSyncing:
		return false, nil
	case OpCompilers, OpGetWork, OpShhGetFilterChanges, OpBzzHive, OpBzzInfo:
		return []string{}, nil
	case OpSubmitWork, OpSubmitHashrate, OpDBPutString, OpDBPutHex, OpShhPost, OpShhHasIdentity,
		OpShhAddToGroup, OpShhNewFilter, OpShhUninstallFilter, OpShhGetMessages:
		return false, nil
	case OpDBGetString:
		return "", nil
	case OpDBGetHex, OpShhNewIdentity, OpShhNewGroup:
		return "0x00", nil
	case OpShhVersion:
		return "2", nil
	case OpAccounts:
		return e.Accounts(ctx)
	case OpBlockNumber:
		n, err := e.BlockNumber(ctx)
		return hexutil.Uint64(n), err
	case OpChainID:
		id, err := e.ChainID(ctx)
		return (*hexutil.Big)(id), err
	case OpCoinbase:
		return e.Coinbase(ctx)
	case OpMining:
		return e.Mining(ctx)
	case OpHashrate:
		rate, err := e.Hashrate(ctx)
		return hexutil.Uint64(rate), err
	case OpGasPrice:
		price, err := e.GasPrice(ctx)
		return (*hexutil.Big)(price), err

	case OpGetBalance, OpGetCode, OpGetTransactionCount:
		var (
			addr  common.Address
			block gethrpc.BlockNumber
		)
		a.at(0, &addr)
		if a.at(1, &block); a.err != nil {
			return nil, a.err
		}
		switch spec.Op {
		case OpGetBalance:
			balance, err := e.GetBalance(ctx, addr, block)
			return (*hexutil.Big)(balance), err
		case OpGetCode:
			return e.GetCode(ctx, addr, block)
		}
		nonce, err := e.GetTransactionCount(ctx, addr, block)
		if errors.Is(err, engine.ErrBlockNotFound) {
			return nil, nil
		}
		return hexutil.Uint64(nonce), err
	case OpGetStorageAt:
		var (
			addr  common.Address
			slot  string
			block gethrpc.BlockNumber
		)
		a.at(0, &addr)
		a.at(1, &slot)
		if a.at(2, &block); a.err != nil {
			return nil, a.err
		}
		return e.GetStorageAt(ctx, addr, common.HexToHash(slot), block)

	case OpGetBlockByNumber, OpGetBlockByHash:
		ref, err := blockRef(spec.Op == OpGetBlockByHash, &a, 0)
		if err != nil {
			return nil, err
		}
		var fullTx bool
		if a.at(1, &fullTx); a.err != nil {
			return nil, a.err
		}
		block, err := e.GetBlock(ctx, ref, fullTx)
		if err != nil || block == nil {
			return nil, err
		}
		return marshalBlock(block, fullTx), nil
	case OpGetBlockTransactionCountByNumber, OpGetBlockTransactionCountByHash:
		ref, err := blockRef(spec.Op == OpGetBlockTransactionCountByHash, &a, 0)
		if err != nil {
			return nil, err
		}
		n, err := e.GetBlockTransactionCount(ctx, ref)
		if err != nil || n == nil {
			return nil, err
		}
		return hexutil.Uint64(*n), nil
	case OpGetTransactionByHash:
		var hash common.Hash
		if a.at(0, &hash); a.err != nil {
			return nil, a.err
		}
		lookup, err := e.GetTransactionByHash(ctx, hash)
		if err != nil || lookup == nil {
			return nil, err
		}
		return newRPCTransaction(lookup.Record, lookup.Pending), nil
	case OpGetTransactionByBlockHashAndIndex, OpGetTransactionByBlockNumberAndIndex:
		ref, err := blockRef(spec.Op == OpGetTransactionByBlockHashAndIndex, &a, 0)
		if err != nil {
			return nil, err
		}
		var index hexutil.Uint64
		if a.at(1, &index); a.err != nil {
			return nil, a.err
		}
		lookup, err := e.GetTransactionByBlockAndIndex(ctx, ref, uint64(index))
		if err != nil || lookup == nil {
			return nil, err
		}
		return newRPCTransaction(lookup.Record, lookup.Pending), nil
	case OpGetTransactionReceipt:
		var hash common.Hash
		if a.at(0, &hash); a.err != nil {
			return nil, a.err
		}
		lookup, err := e.GetTransactionReceipt(ctx, hash)
		if err != nil || lookup == nil {
			return nil, err
		}
		return marshalReceipt(lookup.Receipt, lookup.Tx), nil
	case OpGetUncleCountByBlockHash, OpGetUncleCountByBlockNumber:
		return hexutil.Uint(0), nil
	case OpGetUncleByBlockHashAndIndex, OpGetUncleByBlockNumberAndIndex:
		return nil, nil

	case OpSign:
		var (
			addr common.Address
			data hexutil.Bytes
		)
		a.at(0, &addr)
		if a.at(1, &data); a.err != nil {
			return nil, a.err
		}
		return e.Sign(ctx, addr, data)
	case OpSignTypedData:
		var (
			addr  common.Address
			typed apitypes.TypedData
		)
		a.at(0, &addr)
		if a.at(1, &typed); a.err != nil {
			return nil, a.err
		}
		return e.SignTypedData(ctx, addr, typed)

	case OpSendTransaction, OpCall, OpEstimateGas:
		var (
			tx    engine.TxArgs
			block = gethrpc.LatestBlockNumber
		)
		a.at(0, &tx)
		if a.at(1, &block); a.err != nil {
			return nil, a.err
		}
		kind := types.KindSend
		switch spec.Op {
		case OpCall:
			kind = types.KindCall
		case OpEstimateGas:
			kind = types.KindEstimate
		}
		out, err := e.QueueTransaction(ctx, kind, tx, block)
		if hash, ok := out.(common.Hash); ok && err != nil && hash != (common.Hash{}) {
			return nil, &sendError{hash: hash, err: err}
		}
		return out, err
	case OpSendRawTransaction:
		var raw hexutil.Bytes
		if a.at(0, &raw); a.err != nil {
			return nil, a.err
		}
		hash, err := e.SendRawTransaction(ctx, raw)
		if err != nil && hash != (common.Hash{}) {
			return nil, &sendError{hash: hash, err: err}
		}
		return hash, err

	case OpNewBlockFilter:
		return e.NewBlockFilter(ctx)
	case OpNewFilter, OpGetLogs:
		var crit FilterArgs
		if a.at(0, &crit); a.err != nil {
			return nil, a.err
		}
		if spec.Op == OpNewFilter {
			return e.NewLogFilter(ctx, crit.Query())
		}
		return e.GetLogs(ctx, crit.Query())
	case OpGetFilterChanges, OpGetFilterLogs, OpUninstallFilter:
		var id string
		if a.at(0, &id); a.err != nil {
			return nil, a.err
		}
		switch spec.Op {
		case OpGetFilterChanges:
			return e.GetFilterChanges(ctx, id)
		case OpGetFilterLogs:
			return e.GetFilterLogs(ctx, id)
		}
		return e.UninstallFilter(ctx, id)
	case OpSubscribe, OpUnsubscribe:
		return nil, gethrpc.ErrNotificationsUnsupported

	case OpMinerStart:
		var threads Quantity
		if a.at(0, &threads); a.err != nil {
			return nil, a.err
		}
		return true, e.MinerStart(ctx)
	case OpMinerStop:
		return true, e.MinerStop(ctx)
	case OpModules:
		return Modules, nil

	case OpPersonalListAccounts:
		return e.ListAccounts(ctx)
	case OpPersonalNewAccount:
		var passphrase string
		if a.at(0, &passphrase); a.err != nil {
			return nil, a.err
		}
		return e.NewAccount(ctx, passphrase)
	case OpPersonalImportRawKey:
		var key, passphrase string
		a.at(0, &key)
		if a.at(1, &passphrase); a.err != nil {
			return nil, a.err
		}
		return e.ImportRawKey(ctx, key, passphrase)
	case OpPersonalLockAccount:
		var addr common.Address
		if a.at(0, &addr); a.err != nil {
			return nil, a.err
		}
		return e.LockAccount(ctx, addr)
	case OpPersonalUnlockAccount:
		var (
			addr       common.Address
			passphrase string
			duration   Quantity
		)
		a.at(0, &addr)
		a.at(1, &passphrase)
		if a.at(2, &duration); a.err != nil {
			return nil, a.err
		}
		return e.UnlockAccount(ctx, addr, passphrase)
	case OpPersonalSendTransaction:
		var (
			tx         engine.TxArgs
			passphrase string
		)
		a.at(0, &tx)
		if a.at(1, &passphrase); a.err != nil {
			return nil, a.err
		}
		hash, err := e.PersonalSend(ctx, tx, passphrase)
		if err != nil && hash != (common.Hash{}) {
			return nil, &sendError{hash: hash, err: err}
		}
		return hash, err

	case OpSnapshot:
		id, err := e.Snapshot(ctx)
		return hexutil.Uint64(id), err
	case OpRevert:
		var id Quantity
		if a.at(0, &id); a.err != nil {
			return nil, a.err
		}
		return e.Revert(ctx, int(id))
	case OpIncreaseTime:
		var seconds Quantity
		if a.at(0, &seconds); a.err != nil {
			return nil, a.err
		}
		return e.IncreaseTime(ctx, int64(seconds))
	case OpSetTime:
		var t Time
		if a.at(0, &t); a.err != nil {
			return nil, a.err
		}
		return e.SetTime(ctx, t.Time)
	case OpMine:
		var timestamp *uint64
		if a.has(0) {
			var ts Quantity
			if a.at(0, &ts); a.err != nil {
				return nil, a.err
			}
			v := uint64(ts)
			timestamp = &v
		}
		if err := e.Mine(ctx, timestamp); err != nil {
			return nil, err
		}
		return "0x0", nil
	case OpTraceTransaction:
		var hash common.Hash
		if a.at(0, &hash); a.err != nil {
			return nil, a.err
		}
		return e.TraceTransaction(ctx, hash)
	}
	return nil, &MethodNotFoundError{Method: spec.Name}
}

// blockRef decodes parameter i as a block hash or as a block number or tag.
func blockRef(byHash bool, a *args, i int) (gethrpc.BlockNumberOrHash, error) {
	if byHash {
		var hash common.Hash
		if a.at(i, &hash); a.err != nil {
			return gethrpc.BlockNumberOrHash{}, a.err
		}
		return gethrpc.BlockNumberOrHashWithHash(hash, false), nil
	}
	var number gethrpc.BlockNumber
	if a.at(i, &number); a.err != nil {
		return gethrpc.BlockNumberOrHash{}, a.err
	}
	return gethrpc.BlockNumberOrHashWithNumber(number), nil
}
