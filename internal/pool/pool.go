package pool

import (
	"errors"
	"sync"

	"github.com/airchains-network/simnode/types"
	"github.com/ethereum/go-ethereum/common"
)

// ErrAlreadyKnown is returned when a transaction with the same hash is queued.
var ErrAlreadyKnown = errors.New("already known")

// TxPool holds queued transactions in arrival order
type TxPool struct {
	txs   []*types.Transaction
	index map[common.Hash]*types.Transaction
	mutex sync.Mutex
}

// NewTxPool initializes a new transaction pool
func NewTxPool() *TxPool {
	return &TxPool{index: make(map[common.Hash]*types.Transaction)}
}

// AddTx queues a transaction behind everything already queued
func (p *TxPool) AddTx(tx *types.Transaction) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if _, ok := p.index[tx.Hash()]; ok {
		return ErrAlreadyKnown
	}
	p.txs = append(p.txs, tx)
	p.index[tx.Hash()] = tx
	return nil
}

// Len returns the number of queued transactions
func (p *TxPool) Len() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.txs)
}

// Get returns the queued transaction with hash, or nil
func (p *TxPool) Get(hash common.Hash) *types.Transaction {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.index[hash]
}

// Pending returns the queued transactions in arrival order
func (p *TxPool) Pending() []*types.Transaction {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return append([]*types.Transaction(nil), p.txs...)
}

// Remove drops the given transactions, keeping the order of the rest
func (p *TxPool) Remove(hashes ...common.Hash) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	drop := make(map[common.Hash]struct{}, len(hashes))
	for _, h := range hashes {
		drop[h] = struct{}{}
		delete(p.index, h)
	}
	kept := p.txs[:0]
	for _, tx := range p.txs {
		if _, ok := drop[tx.Hash()]; !ok {
			kept = append(kept, tx)
		}
	}
	for i := len(kept); i < len(p.txs); i++ {
		p.txs[i] = nil
	}
	p.txs = kept
}

// Contents returns a copy of the pool that Restore can bring back
func (p *TxPool) Contents() []*types.Transaction {
	return p.Pending()
}

// Restore replaces the pool with txs, in the given order
func (p *TxPool) Restore(txs []*types.Transaction) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.txs = append([]*types.Transaction(nil), txs...)
	p.index = make(map[common.Hash]*types.Transaction, len(txs))
	for _, tx := range txs {
		p.index[tx.Hash()] = tx
	}
}

// NonceOf returns one past the highest nonce queued for sender, and false
// when nothing is queued for it.
func (p *TxPool) NonceOf(sender common.Address) (uint64, bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	var (
		next  uint64
		found bool
	)
	for _, tx := range p.txs {
		if tx.From() != sender {
			continue
		}
		if !found || tx.Nonce()+1 > next {
			next = tx.Nonce() + 1
		}
		found = true
	}
	return next, found
}

// Count returns how many transactions are queued for sender
func (p *TxPool) Count(sender common.Address) int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	n := 0
	for _, tx := range p.txs {
		if tx.From() == sender {
			n++
		}
	}
	return n
}
