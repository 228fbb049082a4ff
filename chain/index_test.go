package chain

import (
	"math/big"
	"testing"

	"github.com/airchains-network/simnode/db"
	"github.com/airchains-network/simnode/state"
	"github.com/airchains-network/simnode/types"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T) (*Index, *state.Journal) {
	t.Helper()
	store, err := db.NewMemoryDB()
	require.NoError(t, err)
	journal := state.NewJournal(store)
	return NewIndex(journal), journal
}

func testBlock(number uint64, txs []*types.Transaction) (*Block, []*ethtypes.Receipt) {
	header := &ethtypes.Header{
		Number:     new(big.Int).SetUint64(number),
		Difficulty: new(big.Int),
		GasLimit:   6721975,
		Time:       1000 + number,
	}
	block := &Block{Header: header}
	receipts := make([]*ethtypes.Receipt, len(txs))
	for i, tx := range txs {
		block.Transactions = append(block.Transactions, tx.Hash())
		receipts[i] = &ethtypes.Receipt{
			Type:              ethtypes.LegacyTxType,
			Status:            ethtypes.ReceiptStatusSuccessful,
			CumulativeGasUsed: uint64(21000 * (i + 1)),
			TxHash:            tx.Hash(),
			GasUsed:           21000,
			Logs:              []*ethtypes.Log{},
			BlockHash:         header.Hash(),
			BlockNumber:       header.Number,
			TransactionIndex:  uint(i),
		}
	}
	return block, receipts
}

func TestIndex_WriteAndRead(t *testing.T) {
	require := require.New(t)
	x, _ := newTestIndex(t)

	_, ok, err := x.Head()
	require.NoError(err)
	require.False(ok)

	tx := types.NewImpersonated(sender, 0, &receiver, big.NewInt(1), 21000, big.NewInt(1), nil)
	block, receipts := testBlock(0, []*types.Transaction{tx})
	require.NoError(x.WriteBlock(block, []*types.Transaction{tx}, receipts))

	head, ok, err := x.Head()
	require.NoError(err)
	require.True(ok)
	require.Equal(uint64(0), head)

	got, err := x.Block(0)
	require.NoError(err)
	require.Equal(block.Hash(), got.Hash())
	require.Equal(block.Transactions, got.Transactions)

	byHash, err := x.BlockByHash(block.Hash())
	require.NoError(err)
	require.Equal(uint64(0), byHash.Number())

	rec, err := x.Transaction(tx.Hash())
	require.NoError(err)
	require.Equal(block.Hash(), rec.BlockHash)

	stored, err := x.Receipts(got)
	require.NoError(err)
	require.Len(stored, 1)
	require.Equal(tx.Hash(), stored[0].TxHash)
	require.Equal(uint64(21000), stored[0].GasUsed)

	missing, err := x.Block(7)
	require.NoError(err)
	require.Nil(missing)
	none, err := x.BlockByHash(common.HexToHash("0x01"))
	require.NoError(err)
	require.Nil(none)
}

func TestIndex_RevertForgetsBlocks(t *testing.T) {
	require := require.New(t)
	x, journal := newTestIndex(t)

	genesis, _ := testBlock(0, nil)
	require.NoError(x.WriteBlock(genesis, nil, nil))

	journal.Checkpoint()
	tx := types.NewImpersonated(sender, 0, &receiver, big.NewInt(1), 21000, big.NewInt(1), nil)
	block, receipts := testBlock(1, []*types.Transaction{tx})
	require.NoError(x.WriteBlock(block, []*types.Transaction{tx}, receipts))
	head, _, _ := x.Head()
	require.Equal(uint64(1), head)

	require.NoError(journal.Revert())
	head, _, _ = x.Head()
	require.Equal(uint64(0), head)

	got, err := x.Block(1)
	require.NoError(err)
	require.Nil(got)
	receipt, err := x.Receipt(tx.Hash())
	require.NoError(err)
	require.Nil(receipt)
}

func TestIndex_RejectsMismatchedReceipts(t *testing.T) {
	x, _ := newTestIndex(t)
	tx := types.NewImpersonated(sender, 0, &receiver, big.NewInt(1), 21000, big.NewInt(1), nil)
	block, _ := testBlock(1, []*types.Transaction{tx})
	require.Error(t, x.WriteBlock(block, []*types.Transaction{tx}, nil))
}
