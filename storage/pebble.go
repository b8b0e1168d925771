package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// PebbleStorage implements Storage using PebbleDB
type PebbleStorage struct {
	db     *pebble.DB
	config *Config
	logger *zap.Logger
	closed atomic.Bool

	// writeMu makes each check-then-insert atomic with respect to other
	// writers. Readers never take it.
	writeMu sync.Mutex
}

var _ Storage = (*PebbleStorage)(nil)

// NewPebbleStorage creates a new PebbleDB storage
func NewPebbleStorage(cfg *Config) (*PebbleStorage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	opts := &pebble.Options{
		Cache:                    pebble.NewCache(int64(cfg.Cache) << 20),
		MaxOpenFiles:             cfg.MaxOpenFiles,
		MemTableSize:             uint64(cfg.WriteBuffer) << 20,
		DisableWAL:               cfg.DisableWAL,
		MaxConcurrentCompactions: func() int { return cfg.CompactionConcurrency },
		ReadOnly:                 cfg.ReadOnly,
	}

	db, err := pebble.Open(cfg.Path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &PebbleStorage{
		db:     db,
		config: cfg,
		logger: zap.NewNop(),
	}, nil
}

// SetLogger sets the logger for the storage
func (s *PebbleStorage) SetLogger(logger *zap.Logger) {
	s.logger = logger
}

func (s *PebbleStorage) ensureNotClosed() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (s *PebbleStorage) ensureWritable() error {
	if err := s.ensureNotClosed(); err != nil {
		return err
	}
	if s.config.ReadOnly {
		return ErrReadOnly
	}
	return nil
}

// Close closes the storage and releases resources
func (s *PebbleStorage) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *PebbleStorage) get(key []byte) ([]byte, error) {
	value, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()

	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (s *PebbleStorage) has(key []byte) (bool, error) {
	_, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	closer.Close()
	return true, nil
}

func (s *PebbleStorage) counter(key []byte) (uint64, error) {
	value, err := s.get(key)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return DecodeUint64(value)
}

// GetLatestHeight returns the highest block height present
func (s *PebbleStorage) GetLatestHeight(ctx context.Context) (uint64, error) {
	if err := s.ensureNotClosed(); err != nil {
		return 0, err
	}

	prefix := BlockKeyPrefix()
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, ErrNotFound
	}
	return ParseBlockKey(iter.Key())
}

// GetBlock returns a block by height
func (s *PebbleStorage) GetBlock(ctx context.Context, height uint64) (*Block, error) {
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}

	value, err := s.get(BlockKey(height))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get block: %w", err)
	}
	return DecodeBlock(value)
}

// GetBlockByHash returns a block by hash
func (s *PebbleStorage) GetBlockByHash(ctx context.Context, hash common.Hash) (*Block, error) {
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}

	value, err := s.get(BlockHashIndexKey(hash))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get block hash index: %w", err)
	}
	height, err := DecodeUint64(value)
	if err != nil {
		return nil, fmt.Errorf("failed to decode height: %w", err)
	}
	return s.GetBlock(ctx, height)
}

// GetBlocks returns the stored blocks within [start, end], ascending.
// Missing heights are skipped.
func (s *PebbleStorage) GetBlocks(ctx context.Context, start, end uint64) ([]*Block, error) {
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}
	if start > end {
		return nil, fmt.Errorf("invalid range: start %d > end %d", start, end)
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: BlockKey(start),
		UpperBound: prefixUpperBound(BlockKey(end)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	var blocks []*Block
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		block, err := DecodeBlock(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("failed to decode block at %q: %w", iter.Key(), err)
		}
		blocks = append(blocks, block)
	}
	return blocks, iter.Error()
}

// PutBlock stores a block together with its hash index. The write is
// rejected with ErrAlreadyExists if the height or the hash is taken.
func (s *PebbleStorage) PutBlock(ctx context.Context, block *Block) error {
	if err := s.ensureWritable(); err != nil {
		return err
	}

	data, err := EncodeBlock(block)
	if err != nil {
		return fmt.Errorf("failed to encode block: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	for _, key := range [][]byte{BlockKey(block.Height), BlockHashIndexKey(block.Hash)} {
		exists, err := s.has(key)
		if err != nil {
			return fmt.Errorf("failed to check block %d: %w", block.Height, err)
		}
		if exists {
			return fmt.Errorf("block %d (%s): %w", block.Height, block.Hash.Hex(), ErrAlreadyExists)
		}
	}

	count, err := s.counter(BlockCountKey())
	if err != nil {
		return fmt.Errorf("failed to read block counter: %w", err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(BlockKey(block.Height), data, nil); err != nil {
		return fmt.Errorf("failed to set block: %w", err)
	}
	if err := batch.Set(BlockHashIndexKey(block.Hash), EncodeUint64(block.Height), nil); err != nil {
		return fmt.Errorf("failed to set block hash index: %w", err)
	}
	if err := batch.Set(BlockCountKey(), EncodeUint64(count+1), nil); err != nil {
		return fmt.Errorf("failed to set block counter: %w", err)
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit block %d: %w", block.Height, err)
	}
	return nil
}

// GetTransaction returns a transaction by hash
func (s *PebbleStorage) GetTransaction(ctx context.Context, hash common.Hash) (*Transaction, error) {
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}

	value, err := s.get(TransactionKey(hash))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return DecodeTransaction(value)
}

// PutTransaction stores a transaction unless its hash is already present
func (s *PebbleStorage) PutTransaction(ctx context.Context, tx *Transaction) error {
	if err := s.ensureWritable(); err != nil {
		return err
	}

	data, err := EncodeTransaction(tx)
	if err != nil {
		return fmt.Errorf("failed to encode transaction: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	exists, err := s.has(TransactionKey(tx.Hash))
	if err != nil {
		return fmt.Errorf("failed to check transaction %s: %w", tx.Hash.Hex(), err)
	}
	if exists {
		return fmt.Errorf("transaction %s: %w", tx.Hash.Hex(), ErrAlreadyExists)
	}

	count, err := s.counter(TransactionCountKey())
	if err != nil {
		return fmt.Errorf("failed to read transaction counter: %w", err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(TransactionKey(tx.Hash), data, nil); err != nil {
		return fmt.Errorf("failed to set transaction: %w", err)
	}
	if err := batch.Set(TransactionCountKey(), EncodeUint64(count+1), nil); err != nil {
		return fmt.Errorf("failed to set transaction counter: %w", err)
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit transaction %s: %w", tx.Hash.Hex(), err)
	}
	return nil
}

// HasBlock checks if a block exists at given height
func (s *PebbleStorage) HasBlock(ctx context.Context, height uint64) (bool, error) {
	if err := s.ensureNotClosed(); err != nil {
		return false, err
	}
	return s.has(BlockKey(height))
}

// HasTransaction checks if a transaction exists
func (s *PebbleStorage) HasTransaction(ctx context.Context, hash common.Hash) (bool, error) {
	if err := s.ensureNotClosed(); err != nil {
		return false, err
	}
	return s.has(TransactionKey(hash))
}

// GetStats returns the block and transaction counters
func (s *PebbleStorage) GetStats(ctx context.Context) (*Stats, error) {
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}

	blocks, err := s.counter(BlockCountKey())
	if err != nil {
		return nil, fmt.Errorf("failed to read block counter: %w", err)
	}
	txs, err := s.counter(TransactionCountKey())
	if err != nil {
		return nil, fmt.Errorf("failed to read transaction counter: %w", err)
	}

	return &Stats{BlockCount: blocks, TransactionCount: txs}, nil
}
