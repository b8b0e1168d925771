package testutil

import (
	"context"
	"sync"

	"github.com/0xmhha/explorer-indexer/events"
	"github.com/0xmhha/explorer-indexer/storage"
	"github.com/ethereum/go-ethereum/common"
)

// RecordingPublisher records every publish call
type RecordingPublisher struct {
	mu     sync.Mutex
	blocks []*storage.Block
	txs    []*storage.Transaction
	stats  []*events.NetworkStats

	// Err is returned from every publish when set
	Err error
}

var _ events.Publisher = (*RecordingPublisher)(nil)

// NewRecordingPublisher creates an empty RecordingPublisher
func NewRecordingPublisher() *RecordingPublisher {
	return &RecordingPublisher{}
}

func (p *RecordingPublisher) PublishBlock(_ context.Context, block *storage.Block) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blocks = append(p.blocks, block)
	return p.Err
}

func (p *RecordingPublisher) PublishTransaction(_ context.Context, tx *storage.Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.txs = append(p.txs, tx)
	return p.Err
}

func (p *RecordingPublisher) PublishNetworkStats(_ context.Context, stats *events.NetworkStats) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats = append(p.stats, stats)
	return p.Err
}

// Blocks returns the published blocks in publish order
func (p *RecordingPublisher) Blocks() []*storage.Block {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*storage.Block(nil), p.blocks...)
}

// Transactions returns the published transactions in publish order
func (p *RecordingPublisher) Transactions() []*storage.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*storage.Transaction(nil), p.txs...)
}

// Stats returns the published stats snapshots
func (p *RecordingPublisher) Stats() []*events.NetworkStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*events.NetworkStats(nil), p.stats...)
}

// BlockPublishes counts publishes of the block at height
func (p *RecordingPublisher) BlockPublishes(height uint64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, b := range p.blocks {
		if b.Height == height {
			n++
		}
	}
	return n
}

// TransactionPublishes counts publishes of the transaction hash
func (p *RecordingPublisher) TransactionPublishes(hash common.Hash) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, tx := range p.txs {
		if tx.Hash == hash {
			n++
		}
	}
	return n
}
