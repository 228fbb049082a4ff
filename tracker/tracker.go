package tracker

import (
	"context"
	"errors"
	"sync"

	"github.com/airchains-network/simnode/chain"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/sirupsen/logrus"
)

// ErrStarted is returned by Start on a running tracker.
var ErrStarted = errors.New("block tracker already started")

// Source publishes new blocks.
type Source interface {
	SubscribeNewBlock(ch chan<- chain.NewBlockEvent) event.Subscription
}

// SyncEvent pairs the previous current block with the new one. Old is nil
// for the first block seen.
type SyncEvent struct {
	Old *chain.Block
	New *chain.Block
}

// Tracker follows a block source, ignores repeated blocks and fans new
// blocks out on three feeds.
type Tracker struct {
	mu      sync.Mutex
	current *chain.Block
	known   chan struct{}

	latestFeed event.Feed
	syncFeed   event.Feed
	blockFeed  event.Feed

	sub  event.Subscription
	quit chan struct{}
	wg   sync.WaitGroup
	log  *logrus.Logger
}

func New(log *logrus.Logger) *Tracker {
	return &Tracker{known: make(chan struct{}), log: log}
}

// Start attaches the tracker to source.
func (t *Tracker) Start(source Source) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sub != nil {
		return ErrStarted
	}
	ch := make(chan chain.NewBlockEvent, 16)
	t.sub = source.SubscribeNewBlock(ch)
	t.quit = make(chan struct{})

	t.wg.Add(1)
	go t.loop(ch, t.sub, t.quit)
	return nil
}

func (t *Tracker) loop(ch <-chan chain.NewBlockEvent, sub event.Subscription, quit <-chan struct{}) {
	defer t.wg.Done()
	for {
		select {
		case ev := <-ch:
			t.Update(ev)
		case err := <-sub.Err():
			if err != nil {
				t.log.Errorf("Block tracker subscription failed: %v", err)
			}
			return
		case <-quit:
			return
		}
	}
}

// Stop detaches the tracker. It may be called any number of times.
func (t *Tracker) Stop() {
	t.mu.Lock()
	sub, quit := t.sub, t.quit
	t.sub, t.quit = nil, nil
	t.mu.Unlock()

	if sub == nil {
		return
	}
	sub.Unsubscribe()
	close(quit)
	t.wg.Wait()
}

// Update makes ev's block current and notifies subscribers, unless it is
// already the current block.
func (t *Tracker) Update(ev chain.NewBlockEvent) {
	t.mu.Lock()
	old := t.current
	if old != nil && old.Hash() == ev.Block.Hash() {
		t.mu.Unlock()
		return
	}
	t.setCurrent(ev.Block)
	t.mu.Unlock()

	t.latestFeed.Send(ev.Block.Header)
	t.syncFeed.Send(SyncEvent{Old: old, New: ev.Block})
	t.blockFeed.Send(ev)
}

// Reset makes block current without notifying anyone. A reverted chain
// uses it to step back.
func (t *Tracker) Reset(block *chain.Block) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setCurrent(block)
}

func (t *Tracker) setCurrent(block *chain.Block) {
	t.current = block
	select {
	case <-t.known:
	default:
		close(t.known)
	}
}

// Current returns the current block, or nil before the first one.
func (t *Tracker) Current() *chain.Block {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// AwaitCurrentBlock returns the current block, waiting for the first one
// if none has been seen yet.
func (t *Tracker) AwaitCurrentBlock(ctx context.Context) (*chain.Block, error) {
	select {
	case <-t.known:
		return t.Current(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SubscribeLatest delivers the header of every new current block.
func (t *Tracker) SubscribeLatest(ch chan<- *ethtypes.Header) event.Subscription {
	return t.latestFeed.Subscribe(ch)
}

// SubscribeSync delivers every change of the current block.
func (t *Tracker) SubscribeSync(ch chan<- SyncEvent) event.Subscription {
	return t.syncFeed.Subscribe(ch)
}

// SubscribeBlock delivers every new block with its receipts.
func (t *Tracker) SubscribeBlock(ch chan<- chain.NewBlockEvent) event.Subscription {
	return t.blockFeed.Subscribe(ch)
}
