package state

import (
	"errors"
	"fmt"
	"sync"

	"github.com/airchains-network/simnode/db"
	"github.com/syndtr/goleveldb/leveldb"
)

// ErrNoCheckpoint is returned by Commit and Revert when no checkpoint is open.
var ErrNoCheckpoint = errors.New("no open checkpoint")

// Backend is a key/value store with a stack of checkpoints.
type Backend interface {
	// Get returns nil, nil when the key is absent.
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	// Checkpoint opens a new checkpoint and returns the resulting depth.
	Checkpoint() int
	// Commit folds the newest checkpoint into its parent.
	Commit() error
	// Revert discards every write made since the newest checkpoint.
	Revert() error
	Depth() int
	// Copy returns an independent handle over the same store. Writes made
	// through the copy are never visible to the original.
	Copy() Backend
}

type entry struct {
	value   []byte
	deleted bool
}

type layer map[string]entry

// Journal is a Backend over a db.DB. With no open checkpoint writes go
// straight to the store.
type Journal struct {
	mu     sync.RWMutex
	store  db.DB
	base   layer // private layer of a copy, nil for the canonical journal
	layers []layer
}

// NewJournal returns the canonical journal over store.
func NewJournal(store db.DB) *Journal {
	return &Journal{store: store}
}

func (j *Journal) Get(key []byte) ([]byte, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	for i := len(j.layers) - 1; i >= 0; i-- {
		if e, ok := j.layers[i][string(key)]; ok {
			return e.get(), nil
		}
	}
	if e, ok := j.base[string(key)]; ok {
		return e.get(), nil
	}
	data, err := j.store.Get(key)
	if err != nil {
		return nil, fmt.Errorf("failed to read %x: %w", key, err)
	}
	return data, nil
}

func (j *Journal) Put(key, value []byte) error {
	return j.write(key, entry{value: append([]byte{}, value...)})
}

func (j *Journal) Delete(key []byte) error {
	return j.write(key, entry{deleted: true})
}

func (j *Journal) write(key []byte, e entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if n := len(j.layers); n > 0 {
		j.layers[n-1][string(key)] = e
		return nil
	}
	if j.base != nil {
		j.base[string(key)] = e
		return nil
	}
	if e.deleted {
		return j.store.Delete(key)
	}
	return j.store.Put(key, e.value)
}

func (j *Journal) Checkpoint() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.layers = append(j.layers, make(layer))
	return len(j.layers)
}

func (j *Journal) Commit() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	n := len(j.layers)
	if n == 0 {
		return ErrNoCheckpoint
	}
	top := j.layers[n-1]
	j.layers = j.layers[:n-1]

	switch {
	case n > 1:
		top.foldInto(j.layers[n-2])
	case j.base != nil:
		top.foldInto(j.base)
	default:
		batch := new(leveldb.Batch)
		for k, e := range top {
			if e.deleted {
				batch.Delete([]byte(k))
			} else {
				batch.Put([]byte(k), e.value)
			}
		}
		if err := j.store.Write(batch); err != nil {
			return fmt.Errorf("failed to flush checkpoint: %w", err)
		}
	}
	return nil
}

func (j *Journal) Revert() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	n := len(j.layers)
	if n == 0 {
		return ErrNoCheckpoint
	}
	j.layers = j.layers[:n-1]
	return nil
}

func (j *Journal) Depth() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.layers)
}

func (j *Journal) Copy() Backend {
	j.mu.RLock()
	defer j.mu.RUnlock()

	flat := make(layer, len(j.base))
	j.base.foldInto(flat)
	for _, l := range j.layers {
		l.foldInto(flat)
	}
	return &Journal{store: j.store, base: flat}
}

func (e entry) get() []byte {
	if e.deleted {
		return nil
	}
	return append([]byte{}, e.value...)
}

func (l layer) foldInto(dst layer) {
	for k, e := range l {
		dst[k] = e
	}
}
