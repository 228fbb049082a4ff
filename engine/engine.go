package engine

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/airchains-network/simnode/chain"
	"github.com/airchains-network/simnode/config"
	"github.com/airchains-network/simnode/db"
	"github.com/airchains-network/simnode/eth"
	"github.com/airchains-network/simnode/internal/pool"
	"github.com/airchains-network/simnode/metrics"
	"github.com/airchains-network/simnode/miner"
	"github.com/airchains-network/simnode/state"
	"github.com/airchains-network/simnode/tracker"
	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	gethstate "github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/tracing"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
)

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("engine closed")
	// ErrBlockNotFound is returned for block numbers past the head.
	ErrBlockNotFound = errors.New("header not found")
)

const forkBlockKey = "fork_block"

// Options carries the collaborators an engine does not build from config.
type Options struct {
	Log     *logrus.Logger
	Metrics *metrics.Metrics
	// Clock drives timestamps and interval mining. Defaults to the wall clock.
	Clock clock.Clock
	// Fetcher forks from an already-open source, such as another engine,
	// instead of dialing Fork.URL.
	Fetcher eth.Fetcher
}

// Engine owns the chain, its state and everything that mutates them.
type Engine struct {
	cfg     config.Config
	log     *logrus.Logger
	metrics *metrics.Metrics

	ready   chan struct{}
	initErr error

	mu          sync.RWMutex
	chainConfig *params.ChainConfig
	signer      ethtypes.Signer
	coinbase    common.Address
	gasPrice    *big.Int
	networkID   uint64
	genesis     uint64 // number of the first local block

	store     db.DB
	journal   *state.Journal
	forked    *state.Forked
	diskdb    ethdb.Database
	triedb    *triedb.Database
	statedb   *state.ForkDatabase
	index     *chain.Index
	processor *chain.Processor
	pool      *pool.TxPool
	miner     *miner.Miner
	tracker   *tracker.Tracker
	fetcher   eth.Fetcher
	remote    *eth.RemoteFetcher

	accounts  *accountManager
	filters   *filterSet
	snapshots []snapshot
	snapshot  int

	closeOnce sync.Once
	closed    atomic.Bool
}

// New returns an engine at once and initializes it in the background.
// Operations wait for initialization and fail with its error if it failed.
func New(cfg config.Config, opts Options) *Engine {
	if opts.Log == nil {
		opts.Log = logrus.New()
	}
	e := &Engine{
		cfg:     cfg,
		log:     opts.Log,
		metrics: opts.Metrics,
		ready:   make(chan struct{}),
	}
	go func() {
		defer close(e.ready)
		if err := e.init(opts); err != nil {
			e.initErr = err
			e.log.Errorf("Failed to initialize engine: %v", err)
		}
	}()
	return e
}

func (e *Engine) init(opts Options) error {
	cfg := e.cfg
	if err := cfg.Validate(); err != nil {
		return err
	}
	rules, err := cfg.ChainRules()
	if err != nil {
		return err
	}
	e.chainConfig = rules
	e.signer = ethtypes.LatestSignerForChainID(rules.ChainID)
	e.coinbase = common.HexToAddress(cfg.Chain.Coinbase)
	e.gasPrice = new(big.Int).SetUint64(cfg.Chain.GasPrice)

	accounts, err := newAccountManager(cfg.Accounts)
	if err != nil {
		return err
	}
	e.accounts = accounts

	indexPath := ""
	if cfg.Database.Path != "" {
		indexPath = filepath.Join(cfg.Database.Path, "index")
	}
	if e.store, err = db.Open(indexPath); err != nil {
		return fmt.Errorf("failed to open index database: %w", err)
	}
	if e.triedb, e.diskdb, err = state.OpenTrieDB(cfg.Database.Path); err != nil {
		return err
	}
	e.journal = state.NewJournal(e.store)

	ctx := context.Background()
	forkBlock, err := e.openFork(ctx, opts)
	if err != nil {
		return err
	}
	e.forked = state.NewForked(e.journal, e.fetcher, forkBlock, e.metrics)
	e.statedb = state.NewForkDatabase(gethstate.NewDatabase(e.triedb, nil), e.forked)
	e.index = chain.NewIndex(e.journal)
	e.pool = pool.NewTxPool()
	if e.fetcher != nil {
		e.genesis = forkBlock + 1
	}

	mineFailures := cfg.Mining.IntrinsicGasPolicy == config.IntrinsicGasMine
	e.processor = chain.NewProcessor(rules, mineFailures, e.blockHash, e.log)

	clk := miner.NewClock(opts.Clock, cfg.Mining.BlockTime)
	if cfg.Chain.StartTime != 0 {
		clk.Set(time.Unix(cfg.Chain.StartTime, 0))
	}
	e.miner = miner.New(miner.Config{GasLimit: cfg.Chain.GasLimit, Coinbase: e.coinbase},
		e.processor, e.pool, e.index, e.statedb, e.triedb, clk, e.metrics, e.log)

	e.tracker = tracker.New(e.log)
	if err := e.tracker.Start(e.miner); err != nil {
		return err
	}
	e.filters = newFilterSet(e.tracker)

	if err := e.openChain(ctx, clk); err != nil {
		return err
	}
	if e.networkID, err = e.resolveNetworkID(ctx); err != nil {
		return err
	}
	if cfg.Mining.Mode == config.MiningInterval {
		e.miner.StartInterval(e.intervalTick)
	}
	e.log.Infof("Engine ready at block #%d (chain id %d, %s)", e.headNumber(), rules.ChainID, cfg.Chain.Hardfork)
	return nil
}

// openFork sets up the remote source and returns the pinned block.
func (e *Engine) openFork(ctx context.Context, opts Options) (uint64, error) {
	e.fetcher = opts.Fetcher
	if e.fetcher == nil && e.cfg.Fork.URL != "" {
		timeout, err := e.cfg.ForkTimeout()
		if err != nil {
			return 0, err
		}
		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		client, err := eth.NewClient(dialCtx, e.cfg.Fork.URL)
		if err != nil {
			return 0, fmt.Errorf("%w: failed to dial %s: %v", eth.ErrForkUnavailable, e.cfg.Fork.URL, err)
		}
		e.remote = eth.NewRemoteFetcher(client, eth.FetcherConfig{Timeout: timeout, Retries: e.cfg.Fork.Retries}, e.log)
		e.fetcher = e.remote
	}
	if e.fetcher == nil {
		return 0, nil
	}

	if data, err := e.journal.Get([]byte(forkBlockKey)); err != nil {
		return 0, err
	} else if data != nil {
		return binary.BigEndian.Uint64(data), nil
	}
	number := e.cfg.Fork.BlockNumber
	if number == 0 {
		latest, err := e.fetcher.BlockNumber(ctx)
		if err != nil {
			return 0, err
		}
		number = latest
	}
	if err := e.journal.Put([]byte(forkBlockKey), binary.BigEndian.AppendUint64(nil, number)); err != nil {
		return 0, err
	}
	e.log.Infof("Forking from block #%d", number)
	return number, nil
}

// openChain resumes a stored chain or seeds its first block.
func (e *Engine) openChain(ctx context.Context, clk *miner.Clock) error {
	if number, ok, err := e.index.Head(); err != nil {
		return err
	} else if ok {
		head, err := e.index.Block(number)
		if err != nil {
			return err
		}
		if head == nil {
			return fmt.Errorf("stored head block #%d is missing", number)
		}
		e.tracker.Reset(head)
		e.metrics.SetHeight(number)
		e.log.Infof("Resumed chain at block #%d", number)
		return nil
	}

	parent := common.Hash{}
	if e.fetcher != nil {
		header, err := e.fetcher.Header(ctx, e.forked.ForkBlock())
		if err != nil {
			return err
		}
		if header == nil {
			return fmt.Errorf("fork block #%d not found", e.forked.ForkBlock())
		}
		parent = header.Hash()
	}
	balance := new(big.Int).Mul(new(big.Int).SetUint64(e.cfg.Accounts.DefaultBalanceEther), big.NewInt(params.Ether))
	amount, overflow := uint256.FromBig(balance)
	if overflow {
		return fmt.Errorf("invalid accounts.default_balance_ether: %d", e.cfg.Accounts.DefaultBalanceEther)
	}
	_, err := e.miner.Seed(parent, e.genesis, clk.Now(), func(sdb *gethstate.StateDB) error {
		for _, addr := range e.accounts.list() {
			sdb.SetBalance(addr, amount, tracing.BalanceIncreaseGenesisBalance)
		}
		return sdb.Error()
	})
	return err
}

func (e *Engine) resolveNetworkID(ctx context.Context) (uint64, error) {
	if e.cfg.Chain.NetworkID != 0 {
		return e.cfg.Chain.NetworkID, nil
	}
	if e.fetcher != nil {
		id, err := e.fetcher.NetworkID(ctx)
		if err != nil {
			return 0, err
		}
		return id.Uint64(), nil
	}
	return e.chainConfig.ChainID.Uint64(), nil
}

func (e *Engine) intervalTick() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed.Load() {
		return nil
	}
	_, err := e.miner.Mine(nil)
	e.metrics.SetPending(e.pool.Len())
	return err
}

// blockHash serves the BLOCKHASH opcode.
func (e *Engine) blockHash(number uint64) common.Hash {
	if number >= e.genesis {
		block, err := e.index.Block(number)
		if err != nil || block == nil {
			return common.Hash{}
		}
		return block.Hash()
	}
	header, err := e.fetcher.Header(context.Background(), number)
	if err != nil || header == nil {
		return common.Hash{}
	}
	return header.Hash()
}

// begin waits for initialization and reports a pending background failure.
func (e *Engine) begin(ctx context.Context) error {
	select {
	case <-e.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	if e.initErr != nil {
		return e.initErr
	}
	if e.closed.Load() {
		return ErrClosed
	}
	return e.miner.TakeError()
}

// Ready blocks until initialization finished and returns its error.
func (e *Engine) Ready(ctx context.Context) error {
	select {
	case <-e.ready:
		return e.initErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels remote fetches, stops mining and the tracker, flushes open
// checkpoints and releases the stores. Later calls do nothing.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		<-e.ready
		e.closed.Store(true)
		// a tick blocked on the fork must fail before the miner can stop
		if e.remote != nil {
			e.remote.Close()
		}
		if e.miner != nil {
			e.miner.Close()
		}

		e.mu.Lock()
		defer e.mu.Unlock()
		if e.tracker != nil {
			e.tracker.Stop()
		}
		if e.filters != nil {
			e.filters.close()
		}
		if e.journal != nil {
			for e.journal.Depth() > 0 {
				if cerr := e.journal.Commit(); cerr != nil {
					err = cerr
					break
				}
			}
		}
		if e.triedb != nil {
			err = errors.Join(err, e.triedb.Close())
		}
		if e.diskdb != nil {
			err = errors.Join(err, e.diskdb.Close())
		}
		if e.store != nil {
			err = errors.Join(err, e.store.Close())
		}
	})
	return err
}
