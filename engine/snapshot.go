package engine

import (
	"context"
	"time"

	"github.com/airchains-network/simnode/config"
	"github.com/airchains-network/simnode/miner"
	"github.com/airchains-network/simnode/types"
)

// snapshot is everything Revert puts back. The chain index, the head
// pointer and the fork layer all live in the journal, so depth covers them.
type snapshot struct {
	id    int
	depth int
	head  uint64
	time  miner.TimeState
	pool  []*types.Transaction
}

// Snapshot opens a checkpoint and returns its id. Ids start at 1.
func (e *Engine) Snapshot(ctx context.Context) (int, error) {
	if err := e.begin(ctx); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.snapshot++
	snap := snapshot{
		id:    e.snapshot,
		depth: e.journal.Checkpoint(),
		head:  e.headNumber(),
		time:  e.miner.Clock().State(),
		pool:  e.pool.Contents(),
	}
	e.snapshots = append(e.snapshots, snap)
	e.metrics.SetSnapshots(len(e.snapshots))
	e.log.Debugf("Saved snapshot #%d at block #%d", snap.id, snap.head)
	return snap.id, nil
}

// Revert restores the chain to snapshot id and invalidates id and every
// later snapshot. It returns false for ids never issued or already invalid.
func (e *Engine) Revert(ctx context.Context, id int) (bool, error) {
	if err := e.begin(ctx); err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	pos := -1
	for i, s := range e.snapshots {
		if s.id == id {
			pos = i
			break
		}
	}
	if pos < 0 {
		return false, nil
	}
	snap := e.snapshots[pos]
	for e.journal.Depth() >= snap.depth {
		if err := e.journal.Revert(); err != nil {
			return false, err
		}
	}
	e.snapshots = e.snapshots[:pos]
	e.miner.Clock().Restore(snap.time)
	e.pool.Restore(snap.pool)

	head, err := e.index.Block(snap.head)
	if err != nil {
		return false, err
	}
	if head != nil {
		e.tracker.Reset(head)
	}
	e.metrics.SetSnapshots(len(e.snapshots))
	e.metrics.SetPending(e.pool.Len())
	e.metrics.SetHeight(snap.head)
	e.log.Infof("Reverted to snapshot #%d at block #%d", id, snap.head)
	return true, nil
}

// IncreaseTime moves block time forward and returns the total adjustment.
func (e *Engine) IncreaseTime(ctx context.Context, seconds int64) (int64, error) {
	if err := e.begin(ctx); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.miner.Clock().Increase(seconds), nil
}

// SetTime makes the adjusted clock read t and returns the adjustment.
func (e *Engine) SetTime(ctx context.Context, t time.Time) (int64, error) {
	if err := e.begin(ctx); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.miner.Clock().Set(t), nil
}

// Mine closes a block, at timestamp when given, and keeps mining while
// executable transactions remain.
func (e *Engine) Mine(ctx context.Context, timestamp *uint64) error {
	if err := e.begin(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.miner.MineAll(timestamp)
	e.metrics.SetPending(e.pool.Len())
	return err
}

// MinerStart resumes mining. Instant mining catches up on queued work.
func (e *Engine) MinerStart(ctx context.Context) error {
	if err := e.begin(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.miner.Start()
	if e.cfg.Mining.Mode == config.MiningInstant {
		_, err := e.miner.MinePending()
		e.metrics.SetPending(e.pool.Len())
		return err
	}
	return nil
}

func (e *Engine) MinerStop(ctx context.Context) error {
	if err := e.begin(ctx); err != nil {
		return err
	}
	e.miner.Stop()
	return nil
}

func (e *Engine) Mining(ctx context.Context) (bool, error) {
	if err := e.begin(ctx); err != nil {
		return false, err
	}
	return e.miner.Mining(), nil
}

func (e *Engine) Hashrate(ctx context.Context) (uint64, error) {
	if err := e.begin(ctx); err != nil {
		return 0, err
	}
	return 0, nil
}
