package engine

import (
	"context"
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/airchains-network/simnode/config"
	"github.com/airchains-network/simnode/types"
	gethaccounts "github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"golang.org/x/crypto/sha3"
)

var (
	errUnknownAccount = errors.New("no key for given address or file")
	errBadPassphrase  = errors.New("could not decrypt key with given password")
)

type account struct {
	key        *ecdsa.PrivateKey // nil for impersonated addresses
	passphrase string
}

// accountManager keeps the managed keys and the unlocked set.
type accountManager struct {
	mu       sync.RWMutex
	accounts map[common.Address]*account
	order    []common.Address
	unlocked map[common.Address]bool
}

// deriveKey returns the index'th key of seed. Candidates outside the curve
// order are skipped by rehashing.
func deriveKey(seed string, index int) (*ecdsa.PrivateKey, error) {
	buf := binary.BigEndian.AppendUint64([]byte(seed), uint64(index))
	for i := 0; i < 16; i++ {
		h := sha3.NewLegacyKeccak256()
		h.Write(buf)
		sum := h.Sum(nil)
		if key, err := crypto.ToECDSA(sum); err == nil {
			return key, nil
		}
		buf = sum
	}
	return nil, fmt.Errorf("failed to derive account %d", index)
}

// GeneratedKeys returns the keys of the accounts created from cfg.Seed.
func GeneratedKeys(cfg config.AccountsConfig) ([]*ecdsa.PrivateKey, error) {
	if cfg.Count < 0 {
		return nil, fmt.Errorf("invalid account count %d", cfg.Count)
	}
	keys := make([]*ecdsa.PrivateKey, cfg.Count)
	for i := range keys {
		key, err := deriveKey(cfg.Seed, i)
		if err != nil {
			return nil, err
		}
		keys[i] = key
	}
	return keys, nil
}

func newAccountManager(cfg config.AccountsConfig) (*accountManager, error) {
	m := &accountManager{
		accounts: make(map[common.Address]*account),
		unlocked: make(map[common.Address]bool),
	}
	keys, err := GeneratedKeys(cfg)
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		addr := m.add(key, "")
		if !cfg.Secure {
			m.unlocked[addr] = true
		}
	}
	for _, entry := range cfg.Unlocked {
		switch {
		case common.IsHexAddress(entry):
			// addresses without a key become impersonated senders
			m.unlocked[common.HexToAddress(entry)] = true
		default:
			idx, err := strconv.Atoi(strings.TrimSpace(entry))
			if err != nil || idx < 0 || idx >= len(m.order) {
				return nil, fmt.Errorf("invalid accounts.unlocked entry: %s", entry)
			}
			m.unlocked[m.order[idx]] = true
		}
	}
	return m, nil
}

func (m *accountManager) add(key *ecdsa.PrivateKey, passphrase string) common.Address {
	addr := crypto.PubkeyToAddress(key.PublicKey)
	if _, ok := m.accounts[addr]; !ok {
		m.order = append(m.order, addr)
	}
	m.accounts[addr] = &account{key: key, passphrase: passphrase}
	return addr
}

func (m *accountManager) list() []common.Address {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]common.Address(nil), m.order...)
}

// key returns the key of addr and whether addr may send.
func (m *accountManager) key(addr common.Address) (*ecdsa.PrivateKey, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var key *ecdsa.PrivateKey
	if acc, ok := m.accounts[addr]; ok {
		key = acc.key
	}
	return key, m.unlocked[addr]
}

func (m *accountManager) checkPassphrase(addr common.Address, passphrase string) (*ecdsa.PrivateKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc, ok := m.accounts[addr]
	if !ok {
		return nil, errUnknownAccount
	}
	if acc.passphrase != passphrase {
		return nil, errBadPassphrase
	}
	return acc.key, nil
}

func (e *Engine) Accounts(ctx context.Context) ([]common.Address, error) {
	if err := e.begin(ctx); err != nil {
		return nil, err
	}
	return e.accounts.list(), nil
}

// ListAccounts is the personal namespace view of Accounts.
func (e *Engine) ListAccounts(ctx context.Context) ([]common.Address, error) {
	return e.Accounts(ctx)
}

// NewAccount creates a locked account protected by passphrase.
func (e *Engine) NewAccount(ctx context.Context, passphrase string) (common.Address, error) {
	if err := e.begin(ctx); err != nil {
		return common.Address{}, err
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		return common.Address{}, err
	}
	e.accounts.mu.Lock()
	defer e.accounts.mu.Unlock()
	return e.accounts.add(key, passphrase), nil
}

// ImportRawKey adds a locked account for a hex private key.
func (e *Engine) ImportRawKey(ctx context.Context, rawKey, passphrase string) (common.Address, error) {
	if err := e.begin(ctx); err != nil {
		return common.Address{}, err
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(rawKey, "0x"))
	if err != nil {
		return common.Address{}, &types.ValidationError{Op: "personal_importRawKey", Msg: err.Error()}
	}
	e.accounts.mu.Lock()
	defer e.accounts.mu.Unlock()
	return e.accounts.add(key, passphrase), nil
}

// UnlockAccount unlocks a managed account. Unlocking lasts until LockAccount.
func (e *Engine) UnlockAccount(ctx context.Context, addr common.Address, passphrase string) (bool, error) {
	if err := e.begin(ctx); err != nil {
		return false, err
	}
	if _, err := e.accounts.checkPassphrase(addr, passphrase); err != nil {
		return false, err
	}
	e.accounts.mu.Lock()
	defer e.accounts.mu.Unlock()
	e.accounts.unlocked[addr] = true
	return true, nil
}

func (e *Engine) LockAccount(ctx context.Context, addr common.Address) (bool, error) {
	if err := e.begin(ctx); err != nil {
		return false, err
	}
	e.accounts.mu.Lock()
	defer e.accounts.mu.Unlock()
	if _, ok := e.accounts.accounts[addr]; !ok {
		return false, nil
	}
	delete(e.accounts.unlocked, addr)
	return true, nil
}

func (e *Engine) signingKey(addr common.Address) (*ecdsa.PrivateKey, error) {
	key, unlocked := e.accounts.key(addr)
	switch {
	case key == nil && unlocked:
		return nil, types.ErrNoPrivateKey
	case key == nil:
		return nil, errUnknownAccount
	case !unlocked:
		return nil, types.ErrAccountLocked
	}
	return key, nil
}

func signHash(key *ecdsa.PrivateKey, hash []byte) (hexutil.Bytes, error) {
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// Sign signs data with the personal message prefix.
func (e *Engine) Sign(ctx context.Context, addr common.Address, data hexutil.Bytes) (hexutil.Bytes, error) {
	if err := e.begin(ctx); err != nil {
		return nil, err
	}
	key, err := e.signingKey(addr)
	if err != nil {
		return nil, err
	}
	return signHash(key, gethaccounts.TextHash(data))
}

// SignTypedData signs an EIP-712 message.
func (e *Engine) SignTypedData(ctx context.Context, addr common.Address, typed apitypes.TypedData) (hexutil.Bytes, error) {
	if err := e.begin(ctx); err != nil {
		return nil, err
	}
	key, err := e.signingKey(addr)
	if err != nil {
		return nil, err
	}
	hash, _, err := apitypes.TypedDataAndHash(typed)
	if err != nil {
		return nil, &types.ValidationError{Op: "eth_signTypedData", Msg: err.Error()}
	}
	return signHash(key, hash)
}
