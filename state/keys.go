package state

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
)

// Kind tells what a Key addresses.
type Kind byte

const (
	KindAccount Kind = iota + 1
	KindStorage
	KindCode
	// KindWipe marks the whole storage of an account as cleared locally.
	KindWipe
)

func (k Kind) String() string {
	switch k {
	case KindAccount:
		return "account"
	case KindStorage:
		return "storage"
	case KindCode:
		return "code"
	case KindWipe:
		return "wipe"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// Key addresses one piece of forkable state.
type Key struct {
	Kind    Kind
	Address common.Address
	Slot    common.Hash // storage keys only
}

func AccountKey(addr common.Address) Key {
	return Key{Kind: KindAccount, Address: addr}
}

func StorageKey(addr common.Address, slot common.Hash) Key {
	return Key{Kind: KindStorage, Address: addr, Slot: slot}
}

func CodeKey(addr common.Address) Key {
	return Key{Kind: KindCode, Address: addr}
}

func WipeKey(addr common.Address) Key {
	return Key{Kind: KindWipe, Address: addr}
}

// Bytes is the key's stable binary encoding.
func (k Key) Bytes() []byte {
	out := make([]byte, 0, 1+common.AddressLength+common.HashLength)
	out = append(out, byte(k.Kind))
	out = append(out, k.Address.Bytes()...)
	if k.Kind == KindStorage {
		out = append(out, k.Slot.Bytes()...)
	}
	return out
}

var (
	localPrefix = []byte("fork-local:")
	cachePrefix = []byte("fork-cache:")
)

// localKey holds the local value of a key together with the block it was
// first written at.
func localKey(k Key) []byte {
	return append(append([]byte{}, localPrefix...), k.Bytes()...)
}

// cacheKey scopes a remote answer to the block it was fetched at.
func cacheKey(k Key, block uint64) []byte {
	out := append([]byte{}, cachePrefix...)
	out = binary.BigEndian.AppendUint64(out, block)
	return append(out, k.Bytes()...)
}

// Account is the forkable view of an account.
type Account struct {
	Nonce    uint64
	Balance  *big.Int
	CodeHash common.Hash
}

func encodeAccount(a *Account) ([]byte, error) {
	return rlp.EncodeToBytes(a)
}

func decodeAccount(data []byte) (*Account, error) {
	a := new(Account)
	if err := rlp.DecodeBytes(data, a); err != nil {
		return nil, fmt.Errorf("failed to decode account: %w", err)
	}
	return a, nil
}

const markerDeleted byte = 1

type marker struct {
	block   uint64
	deleted bool
	value   []byte
}

func (m marker) encode() []byte {
	out := binary.BigEndian.AppendUint64(nil, m.block)
	var flags byte
	if m.deleted {
		flags |= markerDeleted
	}
	out = append(out, flags)
	return append(out, m.value...)
}

func decodeMarker(data []byte) (marker, error) {
	if len(data) < 9 {
		return marker{}, fmt.Errorf("short fork marker: %d bytes", len(data))
	}
	return marker{
		block:   binary.BigEndian.Uint64(data[:8]),
		deleted: data[8]&markerDeleted != 0,
		value:   data[9:],
	}, nil
}

// Cached remote answers carry a presence byte so that "absent on the remote"
// is remembered too.
const (
	cacheAbsent  byte = 0
	cachePresent byte = 1
)
