package miner

import (
	"cmp"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/airchains-network/simnode/chain"
	"github.com/airchains-network/simnode/internal/pool"
	"github.com/airchains-network/simnode/metrics"
	"github.com/airchains-network/simnode/state"
	"github.com/airchains-network/simnode/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	gethstate "github.com/ethereum/go-ethereum/core/state"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/sirupsen/logrus"
)

// Config holds the block parameters the miner stamps on every block.
type Config struct {
	GasLimit uint64
	Coinbase common.Address
}

// Miner closes blocks from the transaction pool and publishes them.
// Callers serialize Mine, MineAll, MinePending and Seed.
type Miner struct {
	cfg       Config
	processor *chain.Processor
	pool      *pool.TxPool
	index     *chain.Index
	db        *state.ForkDatabase
	triedb    *triedb.Database
	clock     *Clock
	metrics   *metrics.Metrics
	log       *logrus.Logger

	feed   event.Feed
	mining atomic.Bool

	quit   chan struct{}
	wg     sync.WaitGroup
	errMu  sync.Mutex
	bgErr  error
	closed atomic.Bool
}

// New creates a miner writing blocks to index and trie nodes to tdb.
func New(cfg Config, processor *chain.Processor, txPool *pool.TxPool, index *chain.Index, db *state.ForkDatabase, tdb *triedb.Database, clk *Clock, m *metrics.Metrics, log *logrus.Logger) *Miner {
	miner := &Miner{
		cfg:       cfg,
		processor: processor,
		pool:      txPool,
		index:     index,
		db:        db,
		triedb:    tdb,
		clock:     clk,
		metrics:   m,
		log:       log,
		quit:      make(chan struct{}),
	}
	miner.mining.Store(true)
	return miner
}

func (m *Miner) Clock() *Clock { return m.clock }

// SubscribeNewBlock registers ch for every block the miner writes.
func (m *Miner) SubscribeNewBlock(ch chan<- chain.NewBlockEvent) event.Subscription {
	return m.feed.Subscribe(ch)
}

func (m *Miner) Start()       { m.mining.Store(true) }
func (m *Miner) Stop()        { m.mining.Store(false) }
func (m *Miner) Mining() bool { return m.mining.Load() }

// Seed writes block number on top of parentHash with state produced by
// alloc. It starts a chain: the genesis block, or the first local block of
// a fork.
func (m *Miner) Seed(parentHash common.Hash, number, timestamp uint64, alloc func(*gethstate.StateDB) error) (*chain.Block, error) {
	statedb, err := m.db.At(number).State(ethtypes.EmptyRootHash)
	if err != nil {
		return nil, fmt.Errorf("failed to open genesis state: %w", err)
	}
	if alloc != nil {
		if err := alloc(statedb); err != nil {
			return nil, err
		}
	}
	header := &ethtypes.Header{
		ParentHash: parentHash,
		Number:     new(big.Int).SetUint64(number),
		Time:       timestamp,
	}
	return m.seal(statedb, header, nil, nil)
}

// Mine closes one block from the pool, empty if nothing is executable.
func (m *Miner) Mine(timestamp *uint64) (*chain.Block, error) {
	block, outcomes, err := m.pass(timestamp, true)
	if err != nil {
		return nil, err
	}
	return block, outcomeError(outcomes)
}

// MineAll closes one block and keeps closing blocks while executable
// transactions remain in the pool.
func (m *Miner) MineAll(timestamp *uint64) ([]*chain.Block, error) {
	block, outcomes, err := m.pass(timestamp, true)
	if err != nil {
		return nil, err
	}
	blocks := []*chain.Block{block}
	more, rest, err := m.drain()
	blocks = append(blocks, more...)
	if err != nil {
		return blocks, err
	}
	return blocks, outcomeError(append(outcomes, rest...))
}

// MinePending closes blocks while executable transactions remain. Nothing
// is mined when the pool holds no executable transaction.
func (m *Miner) MinePending() ([]*chain.Block, error) {
	blocks, outcomes, err := m.drain()
	if err != nil {
		return blocks, err
	}
	return blocks, outcomeError(outcomes)
}

func (m *Miner) drain() ([]*chain.Block, []types.TxOutcome, error) {
	var (
		blocks   []*chain.Block
		outcomes []types.TxOutcome
	)
	for m.pool.Len() > 0 {
		block, out, err := m.pass(nil, false)
		if err != nil {
			return blocks, outcomes, err
		}
		outcomes = append(outcomes, out...)
		if block == nil {
			break
		}
		blocks = append(blocks, block)
	}
	return blocks, outcomes, nil
}

// outcomeError reports a lone failed transaction as itself and any failure
// among several participants as an aggregate.
func outcomeError(outcomes []types.TxOutcome) error {
	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}
	switch {
	case failed == 0:
		return nil
	case len(outcomes) == 1:
		return outcomes[0].Err
	default:
		return &types.AggregateExecutionError{Outcomes: outcomes}
	}
}

// pass packs and executes one block. With force unset nothing is written
// when no transaction could be executed, and the returned block is nil.
func (m *Miner) pass(timestamp *uint64, force bool) (*chain.Block, []types.TxOutcome, error) {
	parent, err := m.head()
	if err != nil {
		return nil, nil, err
	}
	number := parent.Number() + 1
	ts, err := m.clock.Timestamp(parent.Header.Time, timestamp)
	if err != nil {
		return nil, nil, err
	}
	statedb, err := m.db.At(number).State(parent.Header.Root)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open state of block #%d: %w", parent.Number(), err)
	}
	header := &ethtypes.Header{
		ParentHash: parent.Hash(),
		Number:     new(big.Int).SetUint64(number),
		Time:       ts,
		GasLimit:   m.cfg.GasLimit,
		Coinbase:   m.cfg.Coinbase,
		Difficulty: new(big.Int),
	}

	var (
		included []*types.Transaction
		receipts []*ethtypes.Receipt
		outcomes []types.TxOutcome
		dropped  []common.Hash
		blocked  = make(map[common.Address]bool)
		gp       = new(core.GasPool).AddGas(m.cfg.GasLimit)
		usedGas  uint64
		budget   = m.cfg.GasLimit
	)
	for _, tx := range offerOrder(m.pool.Pending()) {
		from := tx.From()
		if blocked[from] {
			continue
		}
		if tx.Nonce() > statedb.GetNonce(from) || tx.Gas() > budget {
			blocked[from] = true
			continue
		}
		snapshot, gas := statedb.Snapshot(), gp.Gas()
		receipt, err := m.processor.Apply(statedb, header, tx, len(included), gp, &usedGas, nil)
		if receipt == nil {
			statedb.RevertToSnapshot(snapshot)
			gp.SetGas(gas)
			m.log.Warnf("Dropped transaction %s: %v", tx.Hash().Hex(), err)
			outcomes = append(outcomes, types.TxOutcome{TxHash: tx.Hash(), Err: types.Admission(err)})
			dropped = append(dropped, tx.Hash())
			blocked[from] = true
			continue
		}
		if err != nil {
			m.log.Warnf("Transaction %s failed: %v", tx.Hash().Hex(), err)
		}
		budget -= tx.Gas()
		included = append(included, tx)
		receipts = append(receipts, receipt)
		outcomes = append(outcomes, types.TxOutcome{TxHash: tx.Hash(), Err: err})
	}
	m.pool.Remove(dropped...)
	if len(included) == 0 && !force {
		return nil, outcomes, nil
	}

	header.GasUsed = usedGas
	block, err := m.seal(statedb, header, included, receipts)
	if err != nil {
		return nil, nil, err
	}
	m.clock.Advance()
	hashes := make([]common.Hash, len(included))
	for i, tx := range included {
		hashes[i] = tx.Hash()
	}
	m.pool.Remove(hashes...)
	m.metrics.SetPending(m.pool.Len())
	return block, outcomes, nil
}

// seal commits statedb, completes header and writes the block.
func (m *Miner) seal(statedb *gethstate.StateDB, header *ethtypes.Header, txs []*types.Transaction, receipts []*ethtypes.Receipt) (*chain.Block, error) {
	number := header.Number.Uint64()
	root, err := statedb.Commit(number, true, false)
	if err != nil {
		return nil, fmt.Errorf("failed to commit state of block #%d: %w", number, err)
	}
	if err := m.triedb.Commit(root, false); err != nil {
		return nil, fmt.Errorf("failed to commit trie of block #%d: %w", number, err)
	}
	if receipts == nil {
		receipts = []*ethtypes.Receipt{}
	}
	header.Root = root
	header.UncleHash = ethtypes.EmptyUncleHash
	header.TxHash = ethtypes.DeriveSha(types.Transactions(txs), trie.NewStackTrie(nil))
	header.ReceiptHash = ethtypes.DeriveSha(ethtypes.Receipts(receipts), trie.NewStackTrie(nil))
	header.Bloom = ethtypes.CreateBloom(receipts)
	if header.Difficulty == nil {
		header.Difficulty = new(big.Int)
	}
	if header.GasLimit == 0 {
		header.GasLimit = m.cfg.GasLimit
	}
	header.Coinbase = m.cfg.Coinbase

	block := &chain.Block{Header: header, Transactions: make([]common.Hash, len(txs))}
	hash := block.Hash()
	for i, tx := range txs {
		block.Transactions[i] = tx.Hash()
		receipts[i].BlockHash = hash
		for _, l := range receipts[i].Logs {
			l.BlockHash = hash
		}
	}
	if err := m.index.WriteBlock(block, txs, receipts); err != nil {
		return nil, err
	}

	failed := 0
	for _, r := range receipts {
		if r.Status == ethtypes.ReceiptStatusFailed {
			failed++
		}
	}
	m.metrics.ObserveBlock(number, len(receipts)-failed, failed)
	m.log.Infof("Mined block #%d (%d txs, gas %d)", number, len(txs), header.GasUsed)
	m.feed.Send(chain.NewBlockEvent{Block: block, Receipts: receipts})
	return block, nil
}

func (m *Miner) head() (*chain.Block, error) {
	number, ok, err := m.index.Head()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("chain has no head block")
	}
	block, err := m.index.Block(number)
	if err != nil {
		return nil, err
	}
	if block == nil {
		return nil, fmt.Errorf("head block #%d is missing", number)
	}
	return block, nil
}

// offerOrder keeps the arrival slots of txs but hands each sender's
// transactions out in nonce order.
func offerOrder(txs []*types.Transaction) []*types.Transaction {
	queues := make(map[common.Address][]*types.Transaction)
	for _, tx := range txs {
		queues[tx.From()] = append(queues[tx.From()], tx)
	}
	for _, q := range queues {
		slices.SortStableFunc(q, func(a, b *types.Transaction) int {
			return cmp.Compare(a.Nonce(), b.Nonce())
		})
	}
	out := make([]*types.Transaction, 0, len(txs))
	for _, tx := range txs {
		q := queues[tx.From()]
		out = append(out, q[0])
		queues[tx.From()] = q[1:]
	}
	return out
}

// StartInterval closes a block on every tick of the clock. tick must take
// the same lock as other mutations. The loop stops on the first error that
// is not a transaction failure and keeps it for TakeError.
func (m *Miner) StartInterval(tick func() error) {
	ticker := m.clock.Ticker(time.Second)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-m.quit:
				return
			case <-ticker.C:
				if !m.Mining() {
					continue
				}
				err := tick()
				var (
					execErr *types.ExecutionError
					aggErr  *types.AggregateExecutionError
				)
				if err == nil || errors.As(err, &execErr) || errors.As(err, &aggErr) {
					continue
				}
				m.log.Errorf("Interval mining stopped: %v", err)
				m.errMu.Lock()
				m.bgErr = err
				m.errMu.Unlock()
				return
			}
		}
	}()
}

// TakeError returns the error that stopped the interval loop, once.
func (m *Miner) TakeError() error {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	err := m.bgErr
	m.bgErr = nil
	return err
}

// Close stops the interval loop and waits for it to exit.
func (m *Miner) Close() {
	if m.closed.Swap(true) {
		return
	}
	close(m.quit)
	m.wg.Wait()
}
