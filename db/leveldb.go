package db

import (
	"errors"
	"sync/atomic"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

// LevelDB wraps a LevelDB instance
type LevelDB struct {
	db     *leveldb.DB
	closed atomic.Bool
}

// NewLevelDB creates a new LevelDB instance
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{ErrorIfMissing: false})
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// NewMemoryDB creates a LevelDB instance backed by memory only.
func NewMemoryDB() (*LevelDB, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// Put stores a key-value pair in the database
func (l *LevelDB) Put(key, value []byte) error {
	if l.closed.Load() {
		return ErrClosed
	}
	return l.db.Put(key, value, nil)
}

// Get retrieves a value by key from the database
func (l *LevelDB) Get(key []byte) ([]byte, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}
	data, err := l.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

// Has reports whether key is present.
func (l *LevelDB) Has(key []byte) (bool, error) {
	if l.closed.Load() {
		return false, ErrClosed
	}
	return l.db.Has(key, nil)
}

// Delete removes key; deleting a missing key is not an error.
func (l *LevelDB) Delete(key []byte) error {
	if l.closed.Load() {
		return ErrClosed
	}
	return l.db.Delete(key, nil)
}

// Write applies a batch atomically.
func (l *LevelDB) Write(batch *leveldb.Batch) error {
	if l.closed.Load() {
		return ErrClosed
	}
	return l.db.Write(batch, nil)
}

// Close shuts down the database connection
func (l *LevelDB) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	return l.db.Close()
}
