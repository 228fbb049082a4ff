package state

import (
	"context"
	"math/big"
	"testing"

	"github.com/airchains-network/simnode/eth"
	"github.com/ethereum/go-ethereum/common"
	gethstate "github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newTestForkDatabase(t *testing.T, forkBlock uint64) (*ForkDatabase, *eth.MockFetcher) {
	t.Helper()
	tdb, _, err := OpenTrieDB("")
	require.NoError(t, err)
	forked, fetcher := newTestForked(t, forkBlock)
	return NewForkDatabase(gethstate.NewDatabase(tdb, nil), forked), fetcher
}

func TestForkDatabase_ReadsRemoteState(t *testing.T) {
	require := require.New(t)
	fdb, fetcher := newTestForkDatabase(t, 10)
	code := []byte{0x60, 0x01, 0x60, 0x00, 0x55}

	fetcher.EXPECT().Account(gomock.Any(), testAddr, uint64(10)).
		Return(&eth.RemoteAccount{Balance: big.NewInt(1000), Nonce: 4, Code: code}, nil).Times(1)
	fetcher.EXPECT().Storage(gomock.Any(), testAddr, testSlot, uint64(10)).
		Return(common.HexToHash("0x2a"), nil).Times(1)

	sdb, err := fdb.At(10).State(types.EmptyRootHash)
	require.NoError(err)
	require.Equal(uint256.NewInt(1000), sdb.GetBalance(testAddr))
	require.Equal(uint64(4), sdb.GetNonce(testAddr))
	require.Equal(code, sdb.GetCode(testAddr))
	require.Equal(common.HexToHash("0x2a"), sdb.GetState(testAddr, testSlot))
	require.NoError(sdb.Error())
}

func TestForkDatabase_CommitLocalizesWrites(t *testing.T) {
	require := require.New(t)
	fdb, fetcher := newTestForkDatabase(t, 10)
	other := common.HexToHash("0x02")

	fetcher.EXPECT().Account(gomock.Any(), testAddr, uint64(10)).
		Return(&eth.RemoteAccount{Balance: big.NewInt(1000)}, nil).Times(1)
	fetcher.EXPECT().Storage(gomock.Any(), testAddr, testSlot, uint64(10)).
		Return(common.HexToHash("0x2a"), nil).Times(1)
	fetcher.EXPECT().Storage(gomock.Any(), testAddr, other, uint64(10)).
		Return(common.HexToHash("0x07"), nil).Times(1)

	sdb, err := fdb.At(11).State(types.EmptyRootHash)
	require.NoError(err)
	sdb.AddBalance(testAddr, uint256.NewInt(1), tracing.BalanceChangeUnspecified)
	sdb.SetState(testAddr, testSlot, common.HexToHash("0x05"))
	root, err := sdb.Commit(11, true, false)
	require.NoError(err)

	for _, key := range []Key{AccountKey(testAddr), StorageKey(testAddr, testSlot)} {
		local, err := fdb.Forked().IsLocal(key, 11)
		require.NoError(err)
		require.True(local, key.Kind.String())
	}

	sdb, err = fdb.At(11).State(root)
	require.NoError(err)
	require.Equal(uint256.NewInt(1001), sdb.GetBalance(testAddr))
	require.Equal(common.HexToHash("0x05"), sdb.GetState(testAddr, testSlot))
	require.Equal(common.HexToHash("0x07"), sdb.GetState(testAddr, other))

	// The block before the write still reads the remote.
	sdb, err = fdb.At(10).State(types.EmptyRootHash)
	require.NoError(err)
	require.Equal(uint256.NewInt(1000), sdb.GetBalance(testAddr))
	require.Equal(common.HexToHash("0x2a"), sdb.GetState(testAddr, testSlot))
}

func TestForkDatabase_ClearedSlotDoesNotFallBack(t *testing.T) {
	require := require.New(t)
	fdb, fetcher := newTestForkDatabase(t, 10)

	fetcher.EXPECT().Account(gomock.Any(), testAddr, uint64(10)).
		Return(&eth.RemoteAccount{Balance: big.NewInt(1)}, nil).Times(1)
	fetcher.EXPECT().Storage(gomock.Any(), testAddr, testSlot, uint64(10)).
		Return(common.HexToHash("0x2a"), nil).Times(1)

	sdb, err := fdb.At(11).State(types.EmptyRootHash)
	require.NoError(err)
	sdb.SetState(testAddr, testSlot, common.Hash{})
	root, err := sdb.Commit(11, true, false)
	require.NoError(err)

	sdb, err = fdb.At(11).State(root)
	require.NoError(err)
	require.Equal(common.Hash{}, sdb.GetState(testAddr, testSlot))
}

func TestForkDatabase_DeleteAccountWipesStorage(t *testing.T) {
	require := require.New(t)
	fdb, _ := newTestForkDatabase(t, 10)

	tr, err := fdb.At(12).OpenTrie(types.EmptyRootHash)
	require.NoError(err)
	require.NoError(tr.DeleteAccount(testAddr))

	for _, key := range []Key{AccountKey(testAddr), WipeKey(testAddr)} {
		local, err := fdb.Forked().IsLocal(key, 12)
		require.NoError(err)
		require.True(local, key.Kind.String())
	}
	value, err := fdb.Forked().Storage(context.Background(), testAddr, testSlot, 12)
	require.NoError(err)
	require.Equal(common.Hash{}, value)
}

func TestForkDatabase_WithBackendIsolatesSpeculativeWrites(t *testing.T) {
	require := require.New(t)
	fdb, fetcher := newTestForkDatabase(t, 10)
	fetcher.EXPECT().Account(gomock.Any(), testAddr, uint64(10)).
		Return(&eth.RemoteAccount{Balance: big.NewInt(1)}, nil).AnyTimes()

	scratch := fdb.WithBackend(fdb.Forked().Backend().Copy()).At(11)
	sdb, err := scratch.State(types.EmptyRootHash)
	require.NoError(err)
	sdb.AddBalance(testAddr, uint256.NewInt(1), tracing.BalanceChangeUnspecified)
	_, err = sdb.Commit(11, true, false)
	require.NoError(err)

	local, err := fdb.Forked().IsLocal(AccountKey(testAddr), 11)
	require.NoError(err)
	require.False(local)
}
