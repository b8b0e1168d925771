package fetch

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/0xmhha/explorer-indexer/client"
	"github.com/0xmhha/explorer-indexer/events"
	"github.com/0xmhha/explorer-indexer/internal/constants"
	"github.com/0xmhha/explorer-indexer/internal/logger"
	"github.com/0xmhha/explorer-indexer/storage"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BlockNormalizer indexes one height: the block, its transactions and the
// fan-out publish
type BlockNormalizer struct {
	reader    ChainReader
	store     storage.Storage
	publisher events.Publisher
	txs       *TransactionNormalizer
	txWorkers int
	metrics   *Metrics
	logger    *zap.Logger
}

// NewBlockNormalizer creates a BlockNormalizer that normalizes up to
// txWorkers transactions of a block at a time
func NewBlockNormalizer(reader ChainReader, store storage.Storage, publisher events.Publisher, txWorkers int, log *zap.Logger) *BlockNormalizer {
	if log == nil {
		log = zap.NewNop()
	}
	if txWorkers <= 0 {
		txWorkers = constants.DefaultTxWorkers
	}
	publisher = events.OrNop(publisher)

	return &BlockNormalizer{
		reader:    reader,
		store:     store,
		publisher: publisher,
		txs:       NewTransactionNormalizer(reader, store, publisher, log),
		txWorkers: txWorkers,
		logger:    log,
	}
}

// Transactions returns the transaction normalizer used for block contents
func (n *BlockNormalizer) Transactions() *TransactionNormalizer {
	return n.txs
}

// SetMetrics enables Prometheus metrics
func (n *BlockNormalizer) SetMetrics(m *Metrics) {
	n.metrics = m
	n.txs.SetMetrics(m)
}

// Normalize indexes the block at height.
//
// It returns nil, nil when the source has not produced the height yet.
// When the height is already stored, the stored block is returned with
// ErrAlreadyIndexed and nothing is fetched or published. Any other error
// means this height failed and may be retried by a later pass.
func (n *BlockNormalizer) Normalize(ctx context.Context, height uint64) (*storage.Block, error) {
	log := logger.WithHeight(n.logger, height)

	if existing, err := n.store.GetBlock(ctx, height); err == nil {
		log.Debug("block already indexed")
		return existing, ErrAlreadyIndexed
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up block %d: %w", height, err)
	}

	raw, err := n.reader.GetBlock(ctx, height)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch block %d: %w", height, err)
	}
	if raw == nil {
		log.Debug("block not produced yet")
		return nil, nil
	}

	hashes := n.normalizeTransactions(ctx, log, raw)
	block := newBlock(raw, hashes)

	if omitted := len(raw.Transactions) - len(hashes); omitted > 0 {
		n.metrics.recordOmitted(omitted)
		log.Warn("transactions omitted from block",
			zap.Int("omitted", omitted),
			zap.Int("total", len(raw.Transactions)),
		)
	}

	if err := n.store.PutBlock(ctx, block); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			existing, getErr := n.store.GetBlock(ctx, height)
			if getErr != nil {
				return nil, fmt.Errorf("block %d conflicts with a stored block: %w", height, err)
			}
			log.Debug("block stored concurrently")
			return existing, ErrAlreadyIndexed
		}
		return nil, fmt.Errorf("failed to store block %d: %w", height, err)
	}

	if err := n.publisher.PublishBlock(ctx, block); err != nil {
		log.Warn("failed to publish block", zap.Error(err))
	}

	log.Debug("indexed block",
		zap.String("block_hash", block.Hash.Hex()),
		zap.Int("txs", block.TransactionCount),
	)
	return block, nil
}

// normalizeTransactions stores the block's transactions concurrently and
// returns their hashes ordered by on-chain index. Transactions that could
// not be stored are left out.
func (n *BlockNormalizer) normalizeTransactions(ctx context.Context, log *zap.Logger, raw *client.RPCBlock) []common.Hash {
	stored := make([]*storage.Transaction, len(raw.Transactions))

	var g errgroup.Group
	g.SetLimit(n.txWorkers)
	for i, rtx := range raw.Transactions {
		if rtx == nil {
			continue
		}
		g.Go(func() error {
			tx, err := n.txs.Normalize(ctx, rtx, raw, i)
			if err != nil && !errors.Is(err, ErrAlreadyIndexed) {
				log.Error("failed to normalize transaction",
					zap.String("tx_hash", rtx.Hash.Hex()),
					zap.Error(err),
				)
				return nil
			}
			stored[i] = tx
			return nil
		})
	}
	_ = g.Wait()

	kept := make([]*storage.Transaction, 0, len(stored))
	for _, tx := range stored {
		if tx != nil {
			kept = append(kept, tx)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].TransactionIndex < kept[j].TransactionIndex
	})

	hashes := make([]common.Hash, len(kept))
	for i, tx := range kept {
		hashes[i] = tx.Hash
	}
	return hashes
}

func newBlock(raw *client.RPCBlock, txs []common.Hash) *storage.Block {
	return &storage.Block{
		Height:           uint64(raw.Number),
		Hash:             raw.Hash,
		ParentHash:       raw.ParentHash,
		Timestamp:        uint64(raw.Timestamp),
		GasUsed:          uint64(raw.GasUsed),
		GasLimit:         uint64(raw.GasLimit),
		BaseFee:          bigString(raw.BaseFeePerGas),
		Difficulty:       bigString(raw.Difficulty),
		TotalDifficulty:  bigString(raw.TotalDifficulty),
		Size:             uint64(raw.Size),
		TransactionCount: len(txs),
		Transactions:     txs,
		Miner:            raw.Miner,
		ExtraData:        raw.ExtraData,
		Nonce:            raw.Nonce,
	}
}
