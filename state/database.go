package state

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	gethstate "github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/holiman/uint256"
)

// OpenTrieDB opens the trie node store under dir, or an in-memory one when
// dir is empty.
func OpenTrieDB(dir string) (*triedb.Database, ethdb.Database, error) {
	var disk ethdb.Database
	if dir == "" {
		disk = rawdb.NewMemoryDatabase()
	} else {
		kv, err := leveldb.New(filepath.Join(dir, "chaindata"), 16, 16, "simnode/chaindata/", false)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open trie database: %w", err)
		}
		disk = rawdb.NewDatabase(kv)
	}
	return triedb.NewDatabase(disk, triedb.HashDefaults), disk, nil
}

// ForkDatabase is a go-ethereum state database whose reads fall back to a
// Forked overlay and whose trie writes localize keys in it. It is bound to
// the number of the block whose state it serves.
type ForkDatabase struct {
	gethstate.Database
	forked *Forked
	block  uint64
	ctx    context.Context
}

// NewForkDatabase wraps inner, which must be a go-ethereum caching database.
func NewForkDatabase(inner gethstate.Database, forked *Forked) *ForkDatabase {
	return &ForkDatabase{Database: inner, forked: forked, ctx: context.Background()}
}

// At rebinds the database to another block number.
func (d *ForkDatabase) At(block uint64) *ForkDatabase {
	c := *d
	c.block = block
	return &c
}

// WithBackend rebinds the database to another backend, normally a copy.
func (d *ForkDatabase) WithBackend(b Backend) *ForkDatabase {
	c := *d
	c.forked = d.forked.WithBackend(b)
	return &c
}

// WithContext bounds remote reads made through the database by ctx.
func (d *ForkDatabase) WithContext(ctx context.Context) *ForkDatabase {
	c := *d
	c.ctx = ctx
	return &c
}

func (d *ForkDatabase) Block() uint64 { return d.block }

func (d *ForkDatabase) Forked() *Forked { return d.forked }

// State opens a StateDB at root through the fork layer.
func (d *ForkDatabase) State(root common.Hash) (*gethstate.StateDB, error) {
	return gethstate.New(root, d)
}

func (d *ForkDatabase) Reader(root common.Hash) (gethstate.Reader, error) {
	local, err := d.Database.Reader(root)
	if err != nil {
		return nil, err
	}
	return &forkReader{local: local, db: d}, nil
}

func (d *ForkDatabase) OpenTrie(root common.Hash) (gethstate.Trie, error) {
	tr, err := d.Database.OpenTrie(root)
	if err != nil {
		return nil, err
	}
	return &accountTrie{Trie: tr, db: d}, nil
}

func (d *ForkDatabase) OpenStorageTrie(stateRoot common.Hash, addr common.Address, root common.Hash, self gethstate.Trie) (gethstate.Trie, error) {
	if at, ok := self.(*accountTrie); ok {
		self = at.Trie
	}
	tr, err := d.Database.OpenStorageTrie(stateRoot, addr, root, self)
	if err != nil {
		return nil, err
	}
	return &storageTrie{Trie: tr, db: d}, nil
}

type forkReader struct {
	local gethstate.Reader
	db    *ForkDatabase
}

func (r *forkReader) Account(addr common.Address) (*types.StateAccount, error) {
	acct, err := r.local.Account(addr)
	if err != nil || acct != nil {
		return acct, err
	}
	if local, err := r.db.forked.IsLocal(AccountKey(addr), r.db.block); err != nil || local {
		return nil, err
	}
	remote, err := r.db.forked.Account(r.db.ctx, addr, r.db.block)
	if err != nil || remote == nil {
		return nil, err
	}
	balance, overflow := uint256.FromBig(remote.Balance)
	if overflow {
		return nil, fmt.Errorf("balance of %s overflows", addr.Hex())
	}
	return &types.StateAccount{
		Nonce:    remote.Nonce,
		Balance:  balance,
		Root:     types.EmptyRootHash,
		CodeHash: remote.CodeHash.Bytes(),
	}, nil
}

func (r *forkReader) Storage(addr common.Address, slot common.Hash) (common.Hash, error) {
	value, err := r.local.Storage(addr, slot)
	if err != nil || value != (common.Hash{}) {
		return value, err
	}
	if local, err := r.db.forked.IsLocal(StorageKey(addr, slot), r.db.block); err != nil || local {
		return common.Hash{}, err
	}
	return r.db.forked.Storage(r.db.ctx, addr, slot, r.db.block)
}

func (r *forkReader) Code(addr common.Address, codeHash common.Hash) ([]byte, error) {
	code, err := r.local.Code(addr, codeHash)
	if err != nil || len(code) > 0 || codeHash == types.EmptyCodeHash {
		return code, err
	}
	return r.db.forked.Code(r.db.ctx, addr, r.db.block)
}

func (r *forkReader) CodeSize(addr common.Address, codeHash common.Hash) (int, error) {
	code, err := r.Code(addr, codeHash)
	return len(code), err
}

// accountTrie localizes every account the trie writes or deletes.
type accountTrie struct {
	gethstate.Trie
	db *ForkDatabase
}

func (t *accountTrie) UpdateAccount(addr common.Address, acct *types.StateAccount, codeLen int) error {
	if err := t.Trie.UpdateAccount(addr, acct, codeLen); err != nil {
		return err
	}
	value, err := encodeAccount(&Account{
		Nonce:    acct.Nonce,
		Balance:  acct.Balance.ToBig(),
		CodeHash: common.BytesToHash(acct.CodeHash),
	})
	if err != nil {
		return err
	}
	return t.db.forked.Put(AccountKey(addr), value, t.db.block)
}

func (t *accountTrie) DeleteAccount(addr common.Address) error {
	if err := t.Trie.DeleteAccount(addr); err != nil {
		return err
	}
	if err := t.db.forked.Del(AccountKey(addr), t.db.block); err != nil {
		return err
	}
	return t.db.forked.Put(WipeKey(addr), nil, t.db.block)
}

func (t *accountTrie) UpdateContractCode(addr common.Address, codeHash common.Hash, code []byte) error {
	if err := t.Trie.UpdateContractCode(addr, codeHash, code); err != nil {
		return err
	}
	return t.db.forked.Put(CodeKey(addr), code, t.db.block)
}

// storageTrie localizes every slot the trie writes or deletes.
type storageTrie struct {
	gethstate.Trie
	db *ForkDatabase
}

func (t *storageTrie) UpdateStorage(addr common.Address, key, value []byte) error {
	if err := t.Trie.UpdateStorage(addr, key, value); err != nil {
		return err
	}
	return t.db.forked.Put(StorageKey(addr, common.BytesToHash(key)), common.LeftPadBytes(value, 32), t.db.block)
}

func (t *storageTrie) DeleteStorage(addr common.Address, key []byte) error {
	if err := t.Trie.DeleteStorage(addr, key); err != nil {
		return err
	}
	return t.db.forked.Del(StorageKey(addr, common.BytesToHash(key)), t.db.block)
}
