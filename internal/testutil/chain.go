package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/0xmhha/explorer-indexer/client"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// FakeChain is an in-memory chain-data source. Missing blocks and
// receipts resolve to nil, like a node that has not produced them yet.
type FakeChain struct {
	mu sync.Mutex

	tip          uint64
	tipErr       error
	blocks       map[uint64]*client.RPCBlock
	blockErrs    map[uint64]error
	receipts     map[common.Hash]*types.Receipt
	receiptErrs  map[common.Hash]error
	receiptDelay map[common.Hash]time.Duration

	blockCalls   map[uint64]int
	receiptCalls map[common.Hash]int
}

// NewFakeChain creates an empty FakeChain
func NewFakeChain() *FakeChain {
	return &FakeChain{
		blocks:       make(map[uint64]*client.RPCBlock),
		blockErrs:    make(map[uint64]error),
		receipts:     make(map[common.Hash]*types.Receipt),
		receiptErrs:  make(map[common.Hash]error),
		receiptDelay: make(map[common.Hash]time.Duration),
		blockCalls:   make(map[uint64]int),
		receiptCalls: make(map[common.Hash]int),
	}
}

// AddBlock adds block with the given receipts and raises the tip if needed
func (c *FakeChain) AddBlock(block *client.RPCBlock, receipts ...*types.Receipt) {
	c.mu.Lock()
	defer c.mu.Unlock()

	height := uint64(block.Number)
	c.blocks[height] = block
	for _, r := range receipts {
		c.receipts[r.TxHash] = r
	}
	if height > c.tip {
		c.tip = height
	}
}

// Extend adds successful blocks for every height in [from, to]
func (c *FakeChain) Extend(from, to uint64, txPerBlock int) {
	for h := from; h <= to; h++ {
		block := NewTestBlock(h, txPerBlock)
		receipts := make([]*types.Receipt, 0, txPerBlock)
		for _, tx := range block.Transactions {
			receipts = append(receipts, NewTestReceipt(tx.Hash, h, types.ReceiptStatusSuccessful))
		}
		c.AddBlock(block, receipts...)
	}
}

// SetTip overrides the reported chain tip
func (c *FakeChain) SetTip(height uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tip = height
}

// SetTipError makes LatestHeight fail
func (c *FakeChain) SetTipError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tipErr = err
}

// SetBlockError makes GetBlock(height) fail
func (c *FakeChain) SetBlockError(height uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blockErrs[height] = err
}

// SetReceipt replaces the receipt for a transaction
func (c *FakeChain) SetReceipt(receipt *types.Receipt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receipts[receipt.TxHash] = receipt
}

// RemoveReceipt makes the transaction look pending
func (c *FakeChain) RemoveReceipt(hash common.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.receipts, hash)
}

// SetReceiptError makes GetReceipt(hash) fail
func (c *FakeChain) SetReceiptError(hash common.Hash, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receiptErrs[hash] = err
}

// SetReceiptDelay delays GetReceipt(hash), used to reorder completion
func (c *FakeChain) SetReceiptDelay(hash common.Hash, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receiptDelay[hash] = d
}

// BlockCalls returns how many times GetBlock(height) was called
func (c *FakeChain) BlockCalls(height uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blockCalls[height]
}

// ReceiptCalls returns how many times GetReceipt(hash) was called
func (c *FakeChain) ReceiptCalls(hash common.Hash) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.receiptCalls[hash]
}

// LatestHeight implements the chain reader
func (c *FakeChain) LatestHeight(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tipErr != nil {
		return 0, c.tipErr
	}
	return c.tip, nil
}

// GetBlock implements the chain reader
func (c *FakeChain) GetBlock(ctx context.Context, height uint64) (*client.RPCBlock, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blockCalls[height]++
	if err := c.blockErrs[height]; err != nil {
		return nil, err
	}
	return c.blocks[height], nil
}

// GetReceipt implements the chain reader
func (c *FakeChain) GetReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	c.receiptCalls[hash]++
	delay := c.receiptDelay[hash]
	err := c.receiptErrs[hash]
	receipt := c.receipts[hash]
	c.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return receipt, nil
}
