package fetch

import (
	"context"
	"errors"

	"github.com/0xmhha/explorer-indexer/client"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	// ErrAlreadyIndexed accompanies the existing record when a height or
	// transaction was stored by an earlier pass. Callers treat it as success.
	ErrAlreadyIndexed = errors.New("already indexed")

	// ErrPartialNormalization marks a transaction stored with degraded fields
	// because its receipt or logs could not be processed
	ErrPartialNormalization = errors.New("partial normalization")

	// ErrSyncInProgress is returned when another sync pass holds the engine
	ErrSyncInProgress = errors.New("sync already in progress")
)

// ChainReader is the chain-data source used by the pipeline.
// *client.Client satisfies it.
type ChainReader interface {
	// LatestHeight returns the current chain tip
	LatestHeight(ctx context.Context) (uint64, error)

	// GetBlock returns the block with full transactions, or nil if the
	// height has not been produced yet
	GetBlock(ctx context.Context, height uint64) (*client.RPCBlock, error)

	// GetReceipt returns the receipt, or nil if the transaction is not mined
	GetReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

var _ ChainReader = (*client.Client)(nil)
