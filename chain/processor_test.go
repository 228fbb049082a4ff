package chain

import (
	"errors"
	"math/big"
	"testing"

	"github.com/airchains-network/simnode/config"
	"github.com/airchains-network/simnode/db"
	"github.com/airchains-network/simnode/state"
	"github.com/airchains-network/simnode/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	gethstate "github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/tracing"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

var (
	sender   = common.HexToAddress("0x1000000000000000000000000000000000000001")
	receiver = common.HexToAddress("0x2000000000000000000000000000000000000002")
	contract = common.HexToAddress("0x3000000000000000000000000000000000000003")
	coinbase = common.HexToAddress("0x4000000000000000000000000000000000000004")

	// sets slot 0 to 1 and clears it again
	setAndClear = common.FromHex("0x600160005560006000550000")
	// sets slot 0 to 1
	setOne = common.FromHex("0x600160005500")
	// reverts with the 32-byte word 0x2a
	revertWord = common.FromHex("0x602a60005260206000fd")
)

func chainRules(t *testing.T, hardfork string) *params.ChainConfig {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Chain.Hardfork = hardfork
	rules, err := cfg.ChainRules()
	require.NoError(t, err)
	return rules
}

func newTestState(t *testing.T) *gethstate.StateDB {
	t.Helper()
	store, err := db.NewMemoryDB()
	require.NoError(t, err)
	tdb, _, err := state.OpenTrieDB("")
	require.NoError(t, err)
	forked := state.NewForked(state.NewJournal(store), nil, 0, nil)
	sdb, err := state.NewForkDatabase(gethstate.NewDatabase(tdb, nil), forked).At(1).State(ethtypes.EmptyRootHash)
	require.NoError(t, err)
	sdb.AddBalance(sender, uint256.NewInt(params.Ether), tracing.BalanceChangeUnspecified)
	return sdb
}

func newTestProcessor(t *testing.T, hardfork string, mineFailures bool) *Processor {
	logger, _ := logtest.NewNullLogger()
	return NewProcessor(chainRules(t, hardfork), mineFailures, nil, logger)
}

func testHeader() *ethtypes.Header {
	return &ethtypes.Header{
		Number:     big.NewInt(1),
		Time:       1000,
		GasLimit:   6721975,
		Difficulty: new(big.Int),
		Coinbase:   coinbase,
	}
}

func apply(t *testing.T, p *Processor, sdb *gethstate.StateDB, tx *types.Transaction) (*ethtypes.Receipt, error) {
	t.Helper()
	var used uint64
	gp := new(core.GasPool).AddGas(testHeader().GasLimit)
	return p.Apply(sdb, testHeader(), tx, 0, gp, &used, nil)
}

func TestProcessor_ApplyTransfer(t *testing.T) {
	require := require.New(t)
	p := newTestProcessor(t, "petersburg", false)
	sdb := newTestState(t)

	tx := types.NewImpersonated(sender, 0, &receiver, big.NewInt(5), 90000, big.NewInt(2), nil)
	receipt, err := apply(t, p, sdb, tx)
	require.NoError(err)
	require.Equal(ethtypes.ReceiptStatusSuccessful, receipt.Status)
	require.Equal(uint64(params.TxGas), receipt.GasUsed)
	require.Equal(tx.Hash(), receipt.TxHash)
	require.NotNil(receipt.Logs)

	require.Equal(uint256.NewInt(5), sdb.GetBalance(receiver))
	require.Equal(uint256.NewInt(2*params.TxGas), sdb.GetBalance(coinbase))
	require.Equal(uint64(1), sdb.GetNonce(sender))
}

func TestProcessor_ImpersonatedContractSender(t *testing.T) {
	require := require.New(t)
	p := newTestProcessor(t, "petersburg", false)
	sdb := newTestState(t)
	sdb.SetCode(contract, setOne)
	sdb.AddBalance(contract, uint256.NewInt(params.Ether), tracing.BalanceChangeUnspecified)

	tx := types.NewImpersonated(contract, 0, &receiver, big.NewInt(7), 90000, big.NewInt(1), nil)
	receipt, err := apply(t, p, sdb, tx)
	require.NoError(err)
	require.Equal(ethtypes.ReceiptStatusSuccessful, receipt.Status)
	require.Equal(uint256.NewInt(7), sdb.GetBalance(receiver))
	require.Equal(uint64(1), sdb.GetNonce(contract))
}

func TestProcessor_ApplyRefusesBadNonce(t *testing.T) {
	p := newTestProcessor(t, "petersburg", false)
	sdb := newTestState(t)

	tx := types.NewImpersonated(sender, 3, &receiver, big.NewInt(1), 90000, big.NewInt(1), nil)
	_, err := apply(t, p, sdb, tx)
	require.ErrorIs(t, err, core.ErrNonceTooHigh)
}

func TestProcessor_ApplyRevertKeepsReceipt(t *testing.T) {
	require := require.New(t)
	p := newTestProcessor(t, "petersburg", false)
	sdb := newTestState(t)
	sdb.SetCode(contract, revertWord)

	tx := types.NewImpersonated(sender, 0, &contract, nil, 90000, big.NewInt(1), nil)
	receipt, err := apply(t, p, sdb, tx)
	require.NotNil(receipt)
	require.Equal(ethtypes.ReceiptStatusFailed, receipt.Status)

	var execErr *types.ExecutionError
	require.True(errors.As(err, &execErr))
	require.ErrorIs(err, vm.ErrExecutionReverted)
	require.Equal(common.LeftPadBytes([]byte{0x2a}, 32), execErr.Revert)
	require.Equal(tx.Hash(), execErr.TxHash)
	require.Equal(uint64(1), sdb.GetNonce(sender))
}

func TestProcessor_IntrinsicGasPolicy(t *testing.T) {
	tx := types.NewImpersonated(sender, 0, &receiver, big.NewInt(1), 20000, big.NewInt(1), nil)

	t.Run("reject", func(t *testing.T) {
		_, err := apply(t, newTestProcessor(t, "petersburg", false), newTestState(t), tx)
		require.ErrorIs(t, err, core.ErrIntrinsicGas)
	})
	t.Run("mine", func(t *testing.T) {
		sdb := newTestState(t)
		receipt, err := apply(t, newTestProcessor(t, "petersburg", true), sdb, tx)
		require.ErrorIs(t, err, core.ErrIntrinsicGas)
		require.Equal(t, ethtypes.ReceiptStatusFailed, receipt.Status)
		require.Equal(t, uint64(20000), receipt.GasUsed)
		require.Equal(t, uint64(1), sdb.GetNonce(sender))
		require.True(t, sdb.GetBalance(receiver).IsZero())
		require.Equal(t, uint256.NewInt(20000), sdb.GetBalance(coinbase))
	})
}

func TestProcessor_RefundsFollowHardfork(t *testing.T) {
	tests := []struct {
		hardfork string
		gasUsed  uint64
	}{
		// 46012 spent, 15000 refunded for the clear
		{"petersburg", 31012},
		// net metering: 41212 spent, 19800 refunded for restoring the original value
		{"constantinople", 21412},
	}
	for _, tt := range tests {
		t.Run(tt.hardfork, func(t *testing.T) {
			p := newTestProcessor(t, tt.hardfork, false)
			sdb := newTestState(t)
			sdb.SetCode(contract, setAndClear)

			tx := types.NewImpersonated(sender, 0, &contract, nil, 200000, big.NewInt(1), nil)
			receipt, err := apply(t, p, sdb, tx)
			require.NoError(t, err)
			require.Equal(t, tt.gasUsed, receipt.GasUsed)
		})
	}
}

func TestProcessor_EstimateIsMinimal(t *testing.T) {
	require := require.New(t)
	p := newTestProcessor(t, "petersburg", false)
	sdb := newTestState(t)
	sdb.SetCode(contract, setAndClear)

	msg := &core.Message{From: sender, To: &contract, Value: new(big.Int), GasLimit: 6721975, GasPrice: new(big.Int), GasFeeCap: new(big.Int), GasTipCap: new(big.Int), SkipNonceChecks: true}
	gas, err := p.Estimate(sdb, testHeader(), msg)
	require.NoError(err)
	require.True(sdb.GetState(contract, common.Hash{}) == common.Hash{})

	run := func(limit uint64) bool {
		m := *msg
		m.GasLimit = limit
		snap := sdb.Snapshot()
		defer sdb.RevertToSnapshot(snap)
		result, err := p.Call(sdb, testHeader(), &m, nil)
		return err == nil && !result.Failed()
	}
	require.True(run(gas))
	require.False(run(gas - 1))
	// refunds are paid after execution, so the estimate covers the gross cost
	require.Greater(gas, uint64(31012))
}

func TestProcessor_EstimateFailureCarriesRevert(t *testing.T) {
	p := newTestProcessor(t, "petersburg", false)
	sdb := newTestState(t)
	sdb.SetCode(contract, revertWord)

	msg := &core.Message{From: sender, To: &contract, Value: new(big.Int), GasLimit: 100000, GasPrice: new(big.Int), GasFeeCap: new(big.Int), GasTipCap: new(big.Int), SkipNonceChecks: true}
	_, err := p.Estimate(sdb, testHeader(), msg)
	var execErr *types.ExecutionError
	require.True(t, errors.As(err, &execErr))
	require.Equal(t, common.LeftPadBytes([]byte{0x2a}, 32), execErr.Revert)
}

func TestProcessor_CallResult(t *testing.T) {
	p := newTestProcessor(t, "istanbul", false)
	sdb := newTestState(t)
	sdb.SetCode(contract, setOne)

	msg := &core.Message{From: sender, To: &contract, Value: new(big.Int), GasLimit: 100000, GasPrice: new(big.Int), GasFeeCap: new(big.Int), GasTipCap: new(big.Int), SkipNonceChecks: true}
	out, err := p.CallResult(sdb, testHeader(), msg)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestStructLogger_RecordsSteps(t *testing.T) {
	require := require.New(t)
	p := newTestProcessor(t, "petersburg", false)
	sdb := newTestState(t)
	sdb.SetCode(contract, setOne)

	tracer := NewStructLogger(sdb)
	tx := types.NewImpersonated(sender, 0, &contract, nil, 90000, big.NewInt(1), nil)
	var used uint64
	gp := new(core.GasPool).AddGas(testHeader().GasLimit)
	receipt, err := p.Apply(sdb, testHeader(), tx, 0, gp, &used, tracer.Hooks())
	require.NoError(err)

	res := tracer.Result(receipt.GasUsed)
	require.False(res.Failed)
	require.Equal(receipt.GasUsed, res.Gas)
	require.Len(res.StructLogs, 4)
	require.Equal("PUSH1", res.StructLogs[0].Op)
	require.Equal("SSTORE", res.StructLogs[2].Op)
	require.Len(res.StructLogs[2].Stack, 2)
	require.Equal(uint64(params.SstoreSetGas), res.StructLogs[2].GasCost)
	slot := common.Hash{}.Hex()[2:]
	require.Equal(common.BigToHash(big.NewInt(1)).Hex()[2:], res.StructLogs[2].Storage[slot])
	require.Equal("STOP", res.StructLogs[3].Op)
}
