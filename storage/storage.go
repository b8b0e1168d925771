package storage

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

// Common errors
var (
	// ErrNotFound is returned when a key is not found
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when an insert would violate a unique key
	// (block height, block hash or transaction hash). Stored data is untouched.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidData is returned when data cannot be decoded
	ErrInvalidData = errors.New("invalid data")

	// ErrClosed is returned when operating on a closed storage
	ErrClosed = errors.New("storage closed")

	// ErrReadOnly is returned when attempting to write to a read-only storage
	ErrReadOnly = errors.New("storage is read-only")
)

// Reader provides read-only access to indexed data
type Reader interface {
	// GetLatestHeight returns the highest block height present
	GetLatestHeight(ctx context.Context) (uint64, error)

	// GetBlock returns a block by height
	GetBlock(ctx context.Context, height uint64) (*Block, error)

	// GetBlockByHash returns a block by hash
	GetBlockByHash(ctx context.Context, hash common.Hash) (*Block, error)

	// GetBlocks returns the stored blocks within [start, end], ascending
	GetBlocks(ctx context.Context, start, end uint64) ([]*Block, error)

	// GetTransaction returns a transaction by hash
	GetTransaction(ctx context.Context, hash common.Hash) (*Transaction, error)

	// HasBlock checks if a block exists at given height
	HasBlock(ctx context.Context, height uint64) (bool, error)

	// HasTransaction checks if a transaction exists
	HasTransaction(ctx context.Context, hash common.Hash) (bool, error)

	// GetStats returns the block and transaction counters
	GetStats(ctx context.Context) (*Stats, error)
}

// Writer provides insert-if-absent access. Records are never updated.
type Writer interface {
	// PutBlock stores a block unless its height or hash is already present
	PutBlock(ctx context.Context, block *Block) error

	// PutTransaction stores a transaction unless its hash is already present
	PutTransaction(ctx context.Context, tx *Transaction) error
}

// Storage combines Reader and Writer interfaces
type Storage interface {
	Reader
	Writer

	// Close closes the storage and releases resources
	Close() error
}

// Config holds storage configuration
type Config struct {
	// Path to the database directory
	Path string

	// Cache size in MB (default: 128)
	Cache int

	// MaxOpenFiles is the maximum number of open files (default: 1000)
	MaxOpenFiles int

	// WriteBuffer size in MB (default: 64)
	WriteBuffer int

	// DisableWAL disables write-ahead log (not recommended)
	DisableWAL bool

	// ReadOnly opens the database in read-only mode
	ReadOnly bool

	// CompactionConcurrency for background compaction (default: 1)
	CompactionConcurrency int
}

// DefaultConfig returns a default configuration
func DefaultConfig(path string) *Config {
	return &Config{
		Path:                  path,
		Cache:                 128,
		MaxOpenFiles:          1000,
		WriteBuffer:           64,
		CompactionConcurrency: 1,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Path == "" {
		return errors.New("path cannot be empty")
	}
	if c.Cache < 0 {
		return errors.New("cache size cannot be negative")
	}
	if c.MaxOpenFiles < 0 {
		return errors.New("max open files cannot be negative")
	}
	if c.WriteBuffer < 0 {
		return errors.New("write buffer size cannot be negative")
	}
	if c.CompactionConcurrency < 1 {
		return errors.New("compaction concurrency must be at least 1")
	}
	return nil
}
