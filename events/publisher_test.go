package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/0xmhha/explorer-indexer/internal/constants"
	"github.com/0xmhha/explorer-indexer/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingPublisher struct {
	blocks, txs, stats int
	err                error
}

func (p *countingPublisher) PublishBlock(context.Context, *storage.Block) error {
	p.blocks++
	return p.err
}

func (p *countingPublisher) PublishTransaction(context.Context, *storage.Transaction) error {
	p.txs++
	return p.err
}

func (p *countingPublisher) PublishNetworkStats(context.Context, *NetworkStats) error {
	p.stats++
	return p.err
}

func testBlock() *storage.Block {
	return &storage.Block{
		Height:           7,
		Hash:             common.HexToHash("0x07"),
		Timestamp:        1700000000,
		GasUsed:          42000,
		TransactionCount: 2,
		Miner:            common.HexToAddress("0x1234"),
	}
}

func testTransaction(from, to string) *storage.Transaction {
	tx := &storage.Transaction{
		Hash:        common.HexToHash("0xaa"),
		BlockHeight: 7,
		From:        common.HexToAddress(from),
		Value:       "5",
		Status:      storage.StatusSuccess,
	}
	if to != "" {
		addr := common.HexToAddress(to)
		tx.To = &addr
	}
	return tx
}

func TestMultiPublisherContinuesAfterFailure(t *testing.T) {
	ctx := context.Background()
	failing := &countingPublisher{err: errors.New("relay down")}
	healthy := &countingPublisher{}

	m := NewMultiPublisher(zap.NewNop(), failing, nil, healthy)
	assert.Equal(t, 2, m.Len(), "nil publishers are skipped")

	err := m.PublishBlock(ctx, testBlock())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay down")
	assert.Equal(t, 1, healthy.blocks)

	require.Error(t, m.PublishTransaction(ctx, testTransaction("0x1", "0x2")))
	assert.Equal(t, 1, healthy.txs)

	require.Error(t, m.PublishNetworkStats(ctx, &NetworkStats{}))
	assert.Equal(t, 1, healthy.stats)
}

func TestMultiPublisherMetrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	flaky := &countingPublisher{}
	m := NewMultiPublisher(nil, flaky)
	m.SetMetrics(metrics)

	require.NoError(t, m.PublishBlock(ctx, testBlock()))
	flaky.err = errors.New("boom")
	require.Error(t, m.PublishBlock(ctx, testBlock()))

	assert.Equal(t, 2.0, promtest.ToFloat64(metrics.PublishedTotal.WithLabelValues(string(EventNewBlock))))
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.PublishErrorsTotal.WithLabelValues(string(EventNewBlock))))
}

func TestEmptyMultiPublisherIsNoop(t *testing.T) {
	m := NewMultiPublisher(nil)
	assert.NoError(t, m.PublishBlock(context.Background(), testBlock()))
	assert.NoError(t, OrNop(nil).PublishTransaction(context.Background(), testTransaction("0x1", "")))
}

func TestMultiPublisherAdd(t *testing.T) {
	m := NewMultiPublisher(nil)
	late := &countingPublisher{}

	m.Add(nil)
	m.Add(late)
	require.Equal(t, 1, m.Len())

	require.NoError(t, m.PublishNetworkStats(context.Background(), &NetworkStats{LatestBlock: 1}))
	assert.Equal(t, 1, late.stats)
}

// stallingPublisher blocks until its context ends
type stallingPublisher struct {
	countingPublisher
	hadDeadline bool
}

func (p *stallingPublisher) PublishBlock(ctx context.Context, _ *storage.Block) error {
	_, p.hadDeadline = ctx.Deadline()
	<-ctx.Done()
	return ctx.Err()
}

func TestMultiPublisherBoundsEachPublish(t *testing.T) {
	stalled := &stallingPublisher{}
	healthy := &countingPublisher{}

	m := NewMultiPublisher(nil, stalled, healthy)
	m.SetTimeout(20 * time.Millisecond)

	began := time.Now()
	err := m.PublishBlock(context.Background(), testBlock())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(began), time.Second)
	assert.True(t, stalled.hadDeadline)
	assert.Equal(t, 1, healthy.blocks, "a stalled publisher does not starve the rest")
}

func TestMultiPublisherDefaultTimeout(t *testing.T) {
	m := NewMultiPublisher(nil)
	assert.Equal(t, constants.DefaultPublishTimeout, m.timeout)
}
