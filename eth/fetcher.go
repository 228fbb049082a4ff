package eth

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrForkUnavailable is returned when the remote chain could not answer in time.
// It is distinct from data that is genuinely absent, which is reported as a nil
// result with a nil error.
var ErrForkUnavailable = errors.New("fork unavailable")

// RemoteAccount is the account data a remote chain reports at a block.
type RemoteAccount struct {
	Balance *big.Int
	Nonce   uint64
	Code    []byte
}

// Empty reports whether the account carries nothing, which remote nodes use
// to answer for addresses that do not exist.
func (a *RemoteAccount) Empty() bool {
	return a.Nonce == 0 && len(a.Code) == 0 && (a.Balance == nil || a.Balance.Sign() == 0)
}

// Fetcher reads chain data pinned at a block from another chain.
//
//go:generate mockgen -source=fetcher.go -destination=mock_fetcher.go -package=eth
type Fetcher interface {
	// Account returns nil when the account does not exist at block.
	Account(ctx context.Context, addr common.Address, block uint64) (*RemoteAccount, error)
	Storage(ctx context.Context, addr common.Address, slot common.Hash, block uint64) (common.Hash, error)
	Code(ctx context.Context, addr common.Address, block uint64) ([]byte, error)
	// Header returns nil when the block is unknown.
	Header(ctx context.Context, block uint64) (*types.Header, error)
	Logs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
	NetworkID(ctx context.Context) (*big.Int, error)
}
