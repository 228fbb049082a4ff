package chain

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/airchains-network/simnode/state"
	"github.com/airchains-network/simnode/types"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

const headKey = "head_block"

// Block is a mined block: its header and the hashes of its transactions in
// execution order.
type Block struct {
	Header       *ethtypes.Header `json:"header"`
	Transactions []common.Hash    `json:"transactions"`
}

func (b *Block) Hash() common.Hash { return b.Header.Hash() }
func (b *Block) Number() uint64    { return b.Header.Number.Uint64() }

// NewBlockEvent is posted for every block written to the chain.
type NewBlockEvent struct {
	Block    *Block
	Receipts []*ethtypes.Receipt
}

// Index stores blocks, receipts and transaction lookups in a state.Backend,
// so all of it follows the backend's checkpoints.
type Index struct {
	backend state.Backend
}

func NewIndex(backend state.Backend) *Index {
	return &Index{backend: backend}
}

// WithBackend returns an Index over another backend, normally a copy.
func (x *Index) WithBackend(b state.Backend) *Index {
	return &Index{backend: b}
}

func blockKey(number uint64) []byte {
	return []byte(fmt.Sprintf("block_%d", number))
}

func blockHashKey(hash common.Hash) []byte {
	return []byte("block_hash_" + hash.Hex())
}

func txKey(hash common.Hash) []byte {
	return []byte("tx_" + hash.Hex())
}

func receiptKey(hash common.Hash) []byte {
	return []byte("receipt_" + hash.Hex())
}

// WriteBlock stores block with its transactions and receipts and makes it the head.
func (x *Index) WriteBlock(block *Block, txs []*types.Transaction, receipts []*ethtypes.Receipt) error {
	if len(txs) != len(receipts) {
		return fmt.Errorf("block #%d has %d transactions but %d receipts", block.Number(), len(txs), len(receipts))
	}
	hash := block.Hash()
	for i, tx := range txs {
		rec, err := types.NewTxRecord(tx, hash, block.Number(), i)
		if err != nil {
			return err
		}
		if err := x.putJSON(txKey(tx.Hash()), rec); err != nil {
			return fmt.Errorf("failed to save transaction %s: %w", tx.Hash().Hex(), err)
		}
		if err := x.putJSON(receiptKey(tx.Hash()), receipts[i]); err != nil {
			return fmt.Errorf("failed to save receipt %s: %w", tx.Hash().Hex(), err)
		}
	}
	if err := x.putJSON(blockKey(block.Number()), block); err != nil {
		return fmt.Errorf("failed to save block #%d: %w", block.Number(), err)
	}
	if err := x.backend.Put(blockHashKey(hash), encodeNumber(block.Number())); err != nil {
		return fmt.Errorf("failed to save block #%d hash: %w", block.Number(), err)
	}
	return x.SetHead(block.Number())
}

// SetHead moves the head pointer.
func (x *Index) SetHead(number uint64) error {
	return x.backend.Put([]byte(headKey), encodeNumber(number))
}

// Head returns the head block number and false when no block was written yet.
func (x *Index) Head() (uint64, bool, error) {
	data, err := x.backend.Get([]byte(headKey))
	if err != nil || data == nil {
		return 0, false, err
	}
	return binary.BigEndian.Uint64(data), true, nil
}

// Block returns block number, or nil when it does not exist.
func (x *Index) Block(number uint64) (*Block, error) {
	block := new(Block)
	ok, err := x.getJSON(blockKey(number), block)
	if err != nil || !ok {
		return nil, err
	}
	return block, nil
}

// BlockByHash returns the block with hash, or nil.
func (x *Index) BlockByHash(hash common.Hash) (*Block, error) {
	data, err := x.backend.Get(blockHashKey(hash))
	if err != nil || data == nil {
		return nil, err
	}
	return x.Block(binary.BigEndian.Uint64(data))
}

// Transaction returns the stored record of a mined transaction, or nil.
func (x *Index) Transaction(hash common.Hash) (*types.TxRecord, error) {
	rec := new(types.TxRecord)
	ok, err := x.getJSON(txKey(hash), rec)
	if err != nil || !ok {
		return nil, err
	}
	return rec, nil
}

// Receipt returns the receipt of a mined transaction, or nil.
func (x *Index) Receipt(hash common.Hash) (*ethtypes.Receipt, error) {
	receipt := new(ethtypes.Receipt)
	ok, err := x.getJSON(receiptKey(hash), receipt)
	if err != nil || !ok {
		return nil, err
	}
	return receipt, nil
}

// Receipts returns the receipts of block in transaction order.
func (x *Index) Receipts(block *Block) ([]*ethtypes.Receipt, error) {
	receipts := make([]*ethtypes.Receipt, 0, len(block.Transactions))
	for _, h := range block.Transactions {
		r, err := x.Receipt(h)
		if err != nil {
			return nil, err
		}
		if r == nil {
			return nil, fmt.Errorf("missing receipt %s of block #%d", h.Hex(), block.Number())
		}
		receipts = append(receipts, r)
	}
	return receipts, nil
}

func encodeNumber(n uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, n)
}

func (x *Index) putJSON(key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return x.backend.Put(key, data)
}

func (x *Index) getJSON(key []byte, v interface{}) (bool, error) {
	data, err := x.backend.Get(key)
	if err != nil || data == nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}
