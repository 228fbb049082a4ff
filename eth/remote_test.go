package eth

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

type fakeEthService struct {
	failures atomic.Int32 // calls to fail before answering
	delay    time.Duration
	blocks   []string
}

func (s *fakeEthService) wait(ctx context.Context) error {
	if s.failures.Add(-1) >= 0 {
		return errors.New("temporarily unavailable")
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *fakeEthService) BlockNumber(ctx context.Context) (hexutil.Uint64, error) {
	if err := s.wait(ctx); err != nil {
		return 0, err
	}
	return 42, nil
}

func (s *fakeEthService) GetBalance(ctx context.Context, addr common.Address, block string) (*hexutil.Big, error) {
	s.blocks = append(s.blocks, block)
	return (*hexutil.Big)(big.NewInt(1000)), nil
}

func (s *fakeEthService) GetTransactionCount(ctx context.Context, addr common.Address, block string) (hexutil.Uint64, error) {
	return 3, nil
}

func (s *fakeEthService) GetCode(ctx context.Context, addr common.Address, block string) (hexutil.Bytes, error) {
	return hexutil.Bytes{0x60, 0x00}, nil
}

func newTestFetcher(t *testing.T, svc *fakeEthService, cfg FetcherConfig) *RemoteFetcher {
	t.Helper()
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("eth", svc))
	rpcClient := rpc.DialInProc(server)
	log, _ := test.NewNullLogger()
	f := NewRemoteFetcher(&Client{Rpc: rpcClient, Eth: ethclient.NewClient(rpcClient)}, cfg, log)
	t.Cleanup(f.Close)
	return f
}

func TestRemoteFetcher_AccountAtPinnedBlock(t *testing.T) {
	svc := new(fakeEthService)
	f := newTestFetcher(t, svc, FetcherConfig{})

	acc, err := f.Account(context.Background(), common.HexToAddress("0x01"), 42)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1000), acc.Balance)
	require.Equal(t, uint64(3), acc.Nonce)
	require.Equal(t, []byte{0x60, 0x00}, acc.Code)
	require.Equal(t, []string{"0x2a"}, svc.blocks)
}

func TestRemoteFetcher_RetriesTransientFailures(t *testing.T) {
	svc := new(fakeEthService)
	svc.failures.Store(2)
	f := newTestFetcher(t, svc, FetcherConfig{Retries: 3, Backoff: time.Millisecond})

	number, err := f.BlockNumber(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(42), number)
}

func TestRemoteFetcher_GivesUpWithForkUnavailable(t *testing.T) {
	svc := new(fakeEthService)
	svc.failures.Store(10)
	f := newTestFetcher(t, svc, FetcherConfig{Retries: 2, Backoff: time.Millisecond})

	_, err := f.BlockNumber(context.Background())
	require.ErrorIs(t, err, ErrForkUnavailable)
}

func TestRemoteFetcher_TimeoutIsForkUnavailable(t *testing.T) {
	svc := &fakeEthService{delay: time.Second}
	f := newTestFetcher(t, svc, FetcherConfig{Timeout: 20 * time.Millisecond, Retries: 1})

	start := time.Now()
	_, err := f.BlockNumber(context.Background())
	require.ErrorIs(t, err, ErrForkUnavailable)
	require.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRemoteFetcher_CloseCancelsInFlightCalls(t *testing.T) {
	svc := &fakeEthService{delay: 5 * time.Second}
	f := newTestFetcher(t, svc, FetcherConfig{Timeout: 10 * time.Second, Retries: 1})

	done := make(chan error, 1)
	go func() {
		_, err := f.BlockNumber(context.Background())
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	f.cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrForkUnavailable)
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight fetch was not cancelled")
	}
}
