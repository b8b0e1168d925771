package fetch

import (
	"context"
	"errors"
	"fmt"

	"github.com/0xmhha/explorer-indexer/client"
	"github.com/0xmhha/explorer-indexer/events"
	"github.com/0xmhha/explorer-indexer/internal/logger"
	"github.com/0xmhha/explorer-indexer/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// TransactionNormalizer turns a raw transaction into a stored Transaction
type TransactionNormalizer struct {
	reader    ChainReader
	store     storage.Storage
	publisher events.Publisher
	tokens    TokenMetadataResolver
	metrics   *Metrics
	logger    *zap.Logger
}

// NewTransactionNormalizer creates a TransactionNormalizer. A nil publisher
// disables publishing.
func NewTransactionNormalizer(reader ChainReader, store storage.Storage, publisher events.Publisher, log *zap.Logger) *TransactionNormalizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &TransactionNormalizer{
		reader:    reader,
		store:     store,
		publisher: events.OrNop(publisher),
		tokens:    DefaultTokenResolver{},
		logger:    log,
	}
}

// SetTokenResolver replaces the token metadata resolver
func (n *TransactionNormalizer) SetTokenResolver(r TokenMetadataResolver) {
	if r == nil {
		r = DefaultTokenResolver{}
	}
	n.tokens = r
}

// SetMetrics enables Prometheus metrics
func (n *TransactionNormalizer) SetMetrics(m *Metrics) {
	n.metrics = m
}

// Normalize stores raw, the position-th transaction of block, and
// publishes it. If the hash is already stored, the stored record is
// returned with ErrAlreadyIndexed and nothing is published.
//
// Receipt and log failures never fail the call: the transaction is stored
// as pending or without the affected transfers. Only a store failure is
// returned as an error.
func (n *TransactionNormalizer) Normalize(ctx context.Context, raw *client.RPCTransaction, block *client.RPCBlock, position int) (*storage.Transaction, error) {
	log := logger.WithTx(n.logger, raw.Hash)

	if existing, err := n.store.GetTransaction(ctx, raw.Hash); err == nil {
		log.Debug("transaction already indexed")
		return existing, ErrAlreadyIndexed
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up transaction %s: %w", raw.Hash.Hex(), err)
	}

	tx := newTransaction(raw, block, position)

	receipt, err := n.reader.GetReceipt(ctx, raw.Hash)
	switch {
	case err != nil:
		n.metrics.recordPartial()
		log.Warn("receipt unavailable, storing as pending",
			zap.Error(fmt.Errorf("%w: %w", ErrPartialNormalization, err)),
		)
	case receipt == nil:
		log.Debug("transaction not mined yet")
	default:
		n.applyReceipt(ctx, log, tx, receipt)
	}

	if err := n.store.PutTransaction(ctx, tx); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			existing, getErr := n.store.GetTransaction(ctx, raw.Hash)
			if getErr != nil {
				return nil, fmt.Errorf("failed to load existing transaction %s: %w", raw.Hash.Hex(), getErr)
			}
			return existing, ErrAlreadyIndexed
		}
		return nil, fmt.Errorf("failed to store transaction %s: %w", raw.Hash.Hex(), err)
	}
	n.metrics.recordTransaction()

	if err := n.publisher.PublishTransaction(ctx, tx); err != nil {
		log.Warn("failed to publish transaction", zap.Error(err))
	}

	return tx, nil
}

func (n *TransactionNormalizer) applyReceipt(ctx context.Context, log *zap.Logger, tx *storage.Transaction, receipt *types.Receipt) {
	if receipt.Status == types.ReceiptStatusSuccessful {
		tx.Status = storage.StatusSuccess
	} else {
		tx.Status = storage.StatusFailed
	}

	gasUsed := receipt.GasUsed
	tx.GasUsed = &gasUsed

	if tx.To == nil && receipt.ContractAddress != (common.Address{}) {
		addr := receipt.ContractAddress
		tx.ContractAddress = &addr
	}

	transfers, err := ParseTokenTransfers(receipt.Logs)
	if err != nil {
		n.metrics.recordPartial()
		log.Warn("skipped malformed transfer logs",
			zap.Error(fmt.Errorf("%w: %w", ErrPartialNormalization, err)),
		)
	}
	for i := range transfers {
		n.resolveToken(ctx, log, &transfers[i])
	}
	tx.TokenTransfers = transfers
}

func (n *TransactionNormalizer) resolveToken(ctx context.Context, log *zap.Logger, transfer *storage.TokenTransfer) {
	meta, err := n.tokens.Resolve(ctx, transfer.Token)
	if err != nil {
		log.Debug("token metadata unavailable",
			zap.String("token", transfer.Token.Hex()),
			zap.Error(err),
		)
		return
	}
	transfer.TokenName = meta.Name
	transfer.TokenSymbol = meta.Symbol
	if meta.HasDecimals {
		transfer.TokenDecimals = meta.Decimals
	}
}

// newTransaction builds the pending form of raw before receipt data is applied
func newTransaction(raw *client.RPCTransaction, block *client.RPCBlock, position int) *storage.Transaction {
	value := bigString(raw.Value)
	if value == "" {
		value = "0"
	}

	return &storage.Transaction{
		Hash:                 raw.Hash,
		BlockHeight:          uint64(block.Number),
		BlockHash:            block.Hash,
		TransactionIndex:     raw.Index(position),
		From:                 raw.From,
		To:                   raw.To,
		Value:                value,
		GasPrice:             bigString(raw.GasPrice),
		GasLimit:             uint64(raw.Gas),
		Nonce:                uint64(raw.Nonce),
		Input:                raw.Input,
		Status:               storage.StatusPending,
		Timestamp:            uint64(block.Timestamp),
		TokenTransfers:       []storage.TokenTransfer{},
		InternalTransactions: []storage.InternalTransaction{},
	}
}

func bigString(v *hexutil.Big) string {
	if v == nil {
		return ""
	}
	return v.ToInt().String()
}
