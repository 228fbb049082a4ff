package db

import (
	"errors"

	"github.com/syndtr/goleveldb/leveldb"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("database closed")

// DB defines the interface for database operations
type DB interface {
	Put(key, value []byte) error
	// Get returns nil, nil when the key is absent.
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Delete(key []byte) error
	Write(batch *leveldb.Batch) error
	Close() error
}

// Open returns a LevelDB at path, or an in-memory one when path is empty.
func Open(path string) (DB, error) {
	if path == "" {
		return NewMemoryDB()
	}
	return NewLevelDB(path)
}
