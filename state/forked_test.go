package state

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/airchains-network/simnode/eth"
	"github.com/airchains-network/simnode/metrics"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var (
	testAddr = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testSlot = common.HexToHash("0x01")
)

func newTestForked(t *testing.T, forkBlock uint64) (*Forked, *eth.MockFetcher) {
	t.Helper()
	j, _ := newTestJournal(t)
	fetcher := eth.NewMockFetcher(gomock.NewController(t))
	return NewForked(j, fetcher, forkBlock, metrics.New()), fetcher
}

func TestForked_WithoutForkMissIsAbsent(t *testing.T) {
	j, _ := newTestJournal(t)
	f := NewForked(j, nil, 0, nil)

	value, err := f.Get(context.Background(), AccountKey(testAddr), 10)
	require.NoError(t, err)
	require.Nil(t, value)
	require.False(t, f.Forking())
}

func TestForked_ClampsReadsToForkBlock(t *testing.T) {
	f, fetcher := newTestForked(t, 100)
	ctx := context.Background()

	fetcher.EXPECT().Storage(gomock.Any(), testAddr, testSlot, uint64(100)).Return(common.HexToHash("0x2a"), nil).Times(1)
	fetcher.EXPECT().Storage(gomock.Any(), testAddr, testSlot, uint64(50)).Return(common.HexToHash("0x07"), nil).Times(1)

	value, err := f.Storage(ctx, testAddr, testSlot, 150)
	require.NoError(t, err)
	require.Equal(t, common.HexToHash("0x2a"), value)

	// Cached at the clamped block, so a later head reuses it.
	value, err = f.Storage(ctx, testAddr, testSlot, 180)
	require.NoError(t, err)
	require.Equal(t, common.HexToHash("0x2a"), value)

	value, err = f.Storage(ctx, testAddr, testSlot, 50)
	require.NoError(t, err)
	require.Equal(t, common.HexToHash("0x07"), value)
}

func TestForked_AccountCachesCode(t *testing.T) {
	f, fetcher := newTestForked(t, 10)
	ctx := context.Background()
	code := []byte{0x60, 0x00, 0x60, 0x00}

	fetcher.EXPECT().Account(gomock.Any(), testAddr, uint64(10)).
		Return(&eth.RemoteAccount{Balance: big.NewInt(5), Nonce: 2, Code: code}, nil).Times(1)

	acct, err := f.Account(ctx, testAddr, 10)
	require.NoError(t, err)
	require.Equal(t, uint64(2), acct.Nonce)
	require.Equal(t, big.NewInt(5), acct.Balance)
	require.Equal(t, crypto.Keccak256Hash(code), acct.CodeHash)

	got, err := f.Code(ctx, testAddr, 10)
	require.NoError(t, err)
	require.Equal(t, code, got)
}

func TestForked_EmptyRemoteAccountIsAbsent(t *testing.T) {
	f, fetcher := newTestForked(t, 10)
	fetcher.EXPECT().Account(gomock.Any(), testAddr, uint64(10)).
		Return(&eth.RemoteAccount{Balance: new(big.Int)}, nil).Times(1)

	for i := 0; i < 2; i++ {
		acct, err := f.Account(context.Background(), testAddr, 20)
		require.NoError(t, err)
		require.Nil(t, acct)
	}
}

func TestForked_FetchFailureIsForkUnavailable(t *testing.T) {
	f, fetcher := newTestForked(t, 10)
	fetcher.EXPECT().Storage(gomock.Any(), testAddr, testSlot, uint64(10)).Return(common.Hash{}, errors.New("connection refused"))

	_, err := f.Storage(context.Background(), testAddr, testSlot, 10)
	require.ErrorIs(t, err, eth.ErrForkUnavailable)

	// Failures are not cached.
	fetcher.EXPECT().Storage(gomock.Any(), testAddr, testSlot, uint64(10)).Return(common.HexToHash("0x01"), nil)
	value, err := f.Storage(context.Background(), testAddr, testSlot, 10)
	require.NoError(t, err)
	require.Equal(t, common.HexToHash("0x01"), value)
}

func TestForked_LocalWritesWinFromTheirBlock(t *testing.T) {
	f, fetcher := newTestForked(t, 10)
	ctx := context.Background()
	require.NoError(t, f.Put(StorageKey(testAddr, testSlot), common.HexToHash("0xff").Bytes(), 12))

	value, err := f.Storage(ctx, testAddr, testSlot, 12)
	require.NoError(t, err)
	require.Equal(t, common.HexToHash("0xff"), value)

	// Before the write the remote is still authoritative.
	fetcher.EXPECT().Storage(gomock.Any(), testAddr, testSlot, uint64(10)).Return(common.HexToHash("0x01"), nil)
	value, err = f.Storage(ctx, testAddr, testSlot, 11)
	require.NoError(t, err)
	require.Equal(t, common.HexToHash("0x01"), value)

	// A later write keeps the earliest localization block.
	require.NoError(t, f.Put(StorageKey(testAddr, testSlot), common.HexToHash("0xee").Bytes(), 15))
	local, err := f.IsLocal(StorageKey(testAddr, testSlot), 12)
	require.NoError(t, err)
	require.True(t, local)
	value, err = f.Storage(ctx, testAddr, testSlot, 13)
	require.NoError(t, err)
	require.Equal(t, common.HexToHash("0xee"), value)
}

func TestForked_DeleteAndWipeHideRemote(t *testing.T) {
	f, _ := newTestForked(t, 10)
	ctx := context.Background()

	require.NoError(t, f.Del(AccountKey(testAddr), 11))
	acct, err := f.Account(ctx, testAddr, 11)
	require.NoError(t, err)
	require.Nil(t, acct)

	require.NoError(t, f.Put(WipeKey(testAddr), nil, 11))
	value, err := f.Storage(ctx, testAddr, testSlot, 11)
	require.NoError(t, err)
	require.Equal(t, common.Hash{}, value)
}

func TestForked_RevertDropsCachedAnswers(t *testing.T) {
	f, fetcher := newTestForked(t, 10)
	ctx := context.Background()

	fetcher.EXPECT().Storage(gomock.Any(), testAddr, testSlot, uint64(10)).Return(common.HexToHash("0x01"), nil).Times(2)

	f.Checkpoint()
	_, err := f.Storage(ctx, testAddr, testSlot, 10)
	require.NoError(t, err)
	require.NoError(t, f.Put(StorageKey(testAddr, testSlot), common.HexToHash("0x05").Bytes(), 11))
	require.NoError(t, f.Revert())

	value, err := f.Storage(ctx, testAddr, testSlot, 11)
	require.NoError(t, err)
	require.Equal(t, common.HexToHash("0x01"), value)
}

func TestForked_CopyDoesNotLeak(t *testing.T) {
	f, _ := newTestForked(t, 10)
	c := f.Copy()
	require.NoError(t, c.Put(CodeKey(testAddr), []byte{0x01}, 11))

	local, err := f.IsLocal(CodeKey(testAddr), 11)
	require.NoError(t, err)
	require.False(t, local)
}
