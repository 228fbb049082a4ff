package state

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/airchains-network/simnode/eth"
	"github.com/airchains-network/simnode/metrics"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Forked layers local writes over a remote chain pinned at a block. Remote
// answers are cached in the backend under block-scoped keys, so they follow
// the backend's checkpoints like any other write.
type Forked struct {
	backend   Backend
	fetcher   eth.Fetcher
	forkBlock uint64
	metrics   *metrics.Metrics
}

// NewForked returns a Forked over backend. A nil fetcher disables remote
// reads and every miss is reported as absent.
func NewForked(backend Backend, fetcher eth.Fetcher, forkBlock uint64, m *metrics.Metrics) *Forked {
	return &Forked{backend: backend, fetcher: fetcher, forkBlock: forkBlock, metrics: m}
}

// Forking reports whether a remote chain backs this state.
func (f *Forked) Forking() bool { return f.fetcher != nil }

func (f *Forked) ForkBlock() uint64 { return f.forkBlock }

func (f *Forked) Fetcher() eth.Fetcher { return f.fetcher }

func (f *Forked) Backend() Backend { return f.backend }

// WithBackend returns a Forked sharing the fork reference over another backend.
func (f *Forked) WithBackend(b Backend) *Forked {
	c := *f
	c.backend = b
	return &c
}

// Copy returns a Forked over a copy of the backend, safe to mutate speculatively.
func (f *Forked) Copy() *Forked {
	return f.WithBackend(f.backend.Copy())
}

func (f *Forked) Checkpoint() int { return f.backend.Checkpoint() }
func (f *Forked) Commit() error   { return f.backend.Commit() }
func (f *Forked) Revert() error   { return f.backend.Revert() }
func (f *Forked) Depth() int      { return f.backend.Depth() }

// Get returns the value of key as of atBlock. A key written locally at or
// before atBlock is served locally; anything else comes from the remote at
// min(atBlock, forkBlock). A missing key is nil with a nil error, a failed
// remote read wraps eth.ErrForkUnavailable.
func (f *Forked) Get(ctx context.Context, key Key, atBlock uint64) ([]byte, error) {
	m, ok, err := f.local(key)
	if err != nil {
		return nil, err
	}
	if ok && m.block <= atBlock {
		if m.deleted {
			return nil, nil
		}
		return m.value, nil
	}
	if key.Kind == KindStorage {
		wiped, err := f.IsLocal(WipeKey(key.Address), atBlock)
		if err != nil || wiped {
			return nil, err
		}
	}
	if f.fetcher == nil || key.Kind == KindWipe {
		return nil, nil
	}
	return f.remote(ctx, key, min(atBlock, f.forkBlock))
}

// Put makes value the local value of key from block on. The earliest block a
// key was localized at is kept, so older reads still reach the remote.
func (f *Forked) Put(key Key, value []byte, block uint64) error {
	return f.localize(key, marker{block: block, value: value})
}

// Del records key as deleted locally from block on.
func (f *Forked) Del(key Key, block uint64) error {
	return f.localize(key, marker{block: block, deleted: true})
}

// IsLocal reports whether key was localized at or before block.
func (f *Forked) IsLocal(key Key, block uint64) (bool, error) {
	m, ok, err := f.local(key)
	if err != nil {
		return false, err
	}
	return ok && m.block <= block, nil
}

func (f *Forked) localize(key Key, m marker) error {
	prev, ok, err := f.local(key)
	if err != nil {
		return err
	}
	if ok && prev.block < m.block {
		m.block = prev.block
	}
	if err := f.backend.Put(localKey(key), m.encode()); err != nil {
		return fmt.Errorf("failed to localize %s of %s: %w", key.Kind, key.Address.Hex(), err)
	}
	return nil
}

func (f *Forked) local(key Key) (marker, bool, error) {
	data, err := f.backend.Get(localKey(key))
	if err != nil || data == nil {
		return marker{}, false, err
	}
	m, err := decodeMarker(data)
	if err != nil {
		return marker{}, false, err
	}
	return m, true, nil
}

func (f *Forked) remote(ctx context.Context, key Key, block uint64) ([]byte, error) {
	ck := cacheKey(key, block)
	cached, err := f.backend.Get(ck)
	if err != nil {
		return nil, err
	}
	if len(cached) > 0 {
		if cached[0] == cacheAbsent {
			return nil, nil
		}
		return cached[1:], nil
	}

	value, err := f.fetch(ctx, key, block)
	f.metrics.ObserveForkFetch(key.Kind.String(), err)
	if err != nil {
		if !errors.Is(err, eth.ErrForkUnavailable) {
			err = fmt.Errorf("%w: %v", eth.ErrForkUnavailable, err)
		}
		return nil, err
	}
	if err := f.cache(ck, value); err != nil {
		return nil, err
	}
	return value, nil
}

func (f *Forked) cache(ck []byte, value []byte) error {
	if value == nil {
		return f.backend.Put(ck, []byte{cacheAbsent})
	}
	return f.backend.Put(ck, append([]byte{cachePresent}, value...))
}

func (f *Forked) fetch(ctx context.Context, key Key, block uint64) ([]byte, error) {
	switch key.Kind {
	case KindAccount:
		acct, err := f.fetcher.Account(ctx, key.Address, block)
		if err != nil || acct == nil || acct.Empty() {
			return nil, err
		}
		codeHash := types.EmptyCodeHash
		if len(acct.Code) > 0 {
			codeHash = crypto.Keccak256Hash(acct.Code)
		}
		// The code came along with the account, so remember it as well.
		if err := f.cache(cacheKey(CodeKey(key.Address), block), acct.Code); err != nil {
			return nil, err
		}
		balance := acct.Balance
		if balance == nil {
			balance = new(big.Int)
		}
		return encodeAccount(&Account{Nonce: acct.Nonce, Balance: balance, CodeHash: codeHash})
	case KindStorage:
		value, err := f.fetcher.Storage(ctx, key.Address, key.Slot, block)
		if err != nil || value == (common.Hash{}) {
			return nil, err
		}
		return value.Bytes(), nil
	case KindCode:
		code, err := f.fetcher.Code(ctx, key.Address, block)
		if err != nil || len(code) == 0 {
			return nil, err
		}
		return code, nil
	default:
		return nil, fmt.Errorf("unknown key kind %s", key.Kind)
	}
}

// Account returns the account at addr as of block, or nil.
func (f *Forked) Account(ctx context.Context, addr common.Address, block uint64) (*Account, error) {
	data, err := f.Get(ctx, AccountKey(addr), block)
	if err != nil || data == nil {
		return nil, err
	}
	return decodeAccount(data)
}

// Storage returns the slot value as of block; absent slots are zero.
func (f *Forked) Storage(ctx context.Context, addr common.Address, slot common.Hash, block uint64) (common.Hash, error) {
	data, err := f.Get(ctx, StorageKey(addr, slot), block)
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(data), nil
}

// Code returns the contract code at addr as of block, or nil.
func (f *Forked) Code(ctx context.Context, addr common.Address, block uint64) ([]byte, error) {
	return f.Get(ctx, CodeKey(addr), block)
}
