package engine

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/airchains-network/simnode/chain"
	"github.com/airchains-network/simnode/tracker"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"
)

type filterKind uint8

const (
	blockFilter filterKind = iota
	logFilter
)

type filter struct {
	kind   filterKind
	query  ethereum.FilterQuery
	hashes []common.Hash
	logs   []*ethtypes.Log
}

// filterSet holds installed polling filters and the log feed, both fed from
// the tracker's block feed.
type filterSet struct {
	mu      sync.Mutex
	filters map[string]*filter
	next    uint64
	logFeed event.Feed

	sub  event.Subscription
	quit chan struct{}
	wg   sync.WaitGroup
}

func newFilterSet(t *tracker.Tracker) *filterSet {
	s := &filterSet{
		filters: make(map[string]*filter),
		quit:    make(chan struct{}),
	}
	ch := make(chan chain.NewBlockEvent, 16)
	s.sub = t.SubscribeBlock(ch)
	s.wg.Add(1)
	go s.loop(ch)
	return s
}

func (s *filterSet) loop(ch <-chan chain.NewBlockEvent) {
	defer s.wg.Done()
	for {
		select {
		case ev := <-ch:
			s.deliver(ev)
		case <-s.sub.Err():
			return
		case <-s.quit:
			return
		}
	}
}

func (s *filterSet) deliver(ev chain.NewBlockEvent) {
	var logs []*ethtypes.Log
	for _, r := range ev.Receipts {
		logs = append(logs, r.Logs...)
	}

	s.mu.Lock()
	for _, f := range s.filters {
		switch f.kind {
		case blockFilter:
			f.hashes = append(f.hashes, ev.Block.Hash())
		case logFilter:
			f.logs = append(f.logs, filterLogs(logs, f.query)...)
		}
	}
	s.mu.Unlock()

	if len(logs) > 0 {
		s.logFeed.Send(logs)
	}
}

func (s *filterSet) install(f *filter) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	id := hexutil.EncodeUint64(s.next)
	s.filters[id] = f
	return id
}

func (s *filterSet) get(id string) (*filter, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.filters[id]
	return f, ok
}

func (s *filterSet) close() {
	s.sub.Unsubscribe()
	close(s.quit)
	s.wg.Wait()
}

// matchLog reports whether log passes the address and topic criteria of q.
// An empty topic position matches anything.
func matchLog(log *ethtypes.Log, q ethereum.FilterQuery) bool {
	if len(q.Addresses) > 0 {
		found := false
		for _, addr := range q.Addresses {
			if addr == log.Address {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(q.Topics) > len(log.Topics) {
		return false
	}
	for i, alternatives := range q.Topics {
		if len(alternatives) == 0 {
			continue
		}
		found := false
		for _, topic := range alternatives {
			if topic == log.Topics[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func filterLogs(logs []*ethtypes.Log, q ethereum.FilterQuery) []*ethtypes.Log {
	var out []*ethtypes.Log
	for _, log := range logs {
		if matchLog(log, q) {
			out = append(out, log)
		}
	}
	return out
}

// NewBlockFilter installs a filter that collects the hashes of new blocks.
func (e *Engine) NewBlockFilter(ctx context.Context) (string, error) {
	if err := e.begin(ctx); err != nil {
		return "", err
	}
	return e.filters.install(&filter{kind: blockFilter}), nil
}

// NewLogFilter installs a filter that collects matching logs of new blocks.
func (e *Engine) NewLogFilter(ctx context.Context, q ethereum.FilterQuery) (string, error) {
	if err := e.begin(ctx); err != nil {
		return "", err
	}
	return e.filters.install(&filter{kind: logFilter, query: q}), nil
}

// GetFilterChanges drains what filter id collected since the last poll. The
// result is a []common.Hash for block filters and a []*ethtypes.Log for log
// filters.
func (e *Engine) GetFilterChanges(ctx context.Context, id string) (interface{}, error) {
	if err := e.begin(ctx); err != nil {
		return nil, err
	}
	e.filters.mu.Lock()
	defer e.filters.mu.Unlock()
	f, ok := e.filters.filters[id]
	if !ok {
		return nil, fmt.Errorf("filter %s not found", id)
	}
	switch f.kind {
	case blockFilter:
		hashes := f.hashes
		f.hashes = nil
		if hashes == nil {
			hashes = []common.Hash{}
		}
		return hashes, nil
	default:
		logs := f.logs
		f.logs = nil
		if logs == nil {
			logs = []*ethtypes.Log{}
		}
		return logs, nil
	}
}

// GetFilterLogs returns every log matching the criteria of log filter id.
func (e *Engine) GetFilterLogs(ctx context.Context, id string) ([]*ethtypes.Log, error) {
	if err := e.begin(ctx); err != nil {
		return nil, err
	}
	f, ok := e.filters.get(id)
	if !ok || f.kind != logFilter {
		return nil, fmt.Errorf("filter %s not found", id)
	}
	return e.GetLogs(ctx, f.query)
}

func (e *Engine) UninstallFilter(ctx context.Context, id string) (bool, error) {
	if err := e.begin(ctx); err != nil {
		return false, err
	}
	e.filters.mu.Lock()
	defer e.filters.mu.Unlock()
	if _, ok := e.filters.filters[id]; !ok {
		return false, nil
	}
	delete(e.filters.filters, id)
	return true, nil
}

// rangeBound turns a query bound into a block number. Negative bounds carry
// an rpc block tag and nil means latest.
func (e *Engine) rangeBound(b *big.Int) (uint64, error) {
	if b == nil {
		return e.headNumber(), nil
	}
	if b.Sign() < 0 {
		return e.resolve(rpc.BlockNumber(b.Int64()))
	}
	if !b.IsUint64() {
		return 0, ErrBlockNotFound
	}
	if head := e.headNumber(); b.Uint64() > head {
		return head, nil
	}
	return b.Uint64(), nil
}

// GetLogs returns the logs matching q. Ranges reaching before a fork point
// are answered by the fork source for the blocks it owns.
func (e *Engine) GetLogs(ctx context.Context, q ethereum.FilterQuery) ([]*ethtypes.Log, error) {
	if err := e.begin(ctx); err != nil {
		return nil, err
	}
	out := []*ethtypes.Log{}
	if q.BlockHash != nil {
		block, err := e.index.BlockByHash(*q.BlockHash)
		if err != nil || block == nil {
			return out, err
		}
		receipts, err := e.index.Receipts(block)
		if err != nil {
			return nil, err
		}
		for _, r := range receipts {
			out = append(out, filterLogs(r.Logs, q)...)
		}
		return out, nil
	}

	e.mu.RLock()
	from, err := e.rangeBound(q.FromBlock)
	if err == nil {
		var to uint64
		to, err = e.rangeBound(q.ToBlock)
		q.FromBlock, q.ToBlock = new(big.Int).SetUint64(from), new(big.Int).SetUint64(to)
	}
	e.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	to := q.ToBlock.Uint64()
	if from > to {
		return out, nil
	}

	if from < e.genesis {
		remote := q
		remote.ToBlock = new(big.Int).SetUint64(min(to, e.genesis-1))
		logs, err := e.fetcher.Logs(ctx, remote)
		if err != nil {
			return nil, err
		}
		for i := range logs {
			out = append(out, &logs[i])
		}
		from = e.genesis
	}
	for number := from; number <= to; number++ {
		block, err := e.index.Block(number)
		if err != nil {
			return nil, err
		}
		if block == nil {
			break
		}
		receipts, err := e.index.Receipts(block)
		if err != nil {
			return nil, err
		}
		for _, r := range receipts {
			out = append(out, filterLogs(r.Logs, q)...)
		}
	}
	return out, nil
}

// SubscribeNewHeads delivers the header of every new head block.
func (e *Engine) SubscribeNewHeads(ctx context.Context, ch chan<- *ethtypes.Header) (event.Subscription, error) {
	if err := e.begin(ctx); err != nil {
		return nil, err
	}
	return e.tracker.SubscribeLatest(ch), nil
}

// SubscribeLogs delivers the logs of new blocks that match q.
func (e *Engine) SubscribeLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- []*ethtypes.Log) (event.Subscription, error) {
	if err := e.begin(ctx); err != nil {
		return nil, err
	}
	return event.NewSubscription(func(quit <-chan struct{}) error {
		in := make(chan []*ethtypes.Log, 16)
		sub := e.filters.logFeed.Subscribe(in)
		defer sub.Unsubscribe()
		for {
			select {
			case logs := <-in:
				matched := filterLogs(logs, q)
				if len(matched) == 0 {
					continue
				}
				select {
				case ch <- matched:
				case <-quit:
					return nil
				}
			case err := <-sub.Err():
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}
