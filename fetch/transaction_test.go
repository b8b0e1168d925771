package fetch

import (
	"context"
	"errors"
	"testing"

	"github.com/0xmhha/explorer-indexer/internal/testutil"
	"github.com/0xmhha/explorer-indexer/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionStatusDerivation(t *testing.T) {
	tests := []struct {
		name        string
		receipt     func(hash common.Hash) *types.Receipt
		wantStatus  storage.TxStatus
		wantGasUsed bool
	}{
		{
			name: "successful receipt",
			receipt: func(hash common.Hash) *types.Receipt {
				return testutil.NewTestReceipt(hash, 1, types.ReceiptStatusSuccessful)
			},
			wantStatus:  storage.StatusSuccess,
			wantGasUsed: true,
		},
		{
			name: "reverted receipt",
			receipt: func(hash common.Hash) *types.Receipt {
				return testutil.NewTestReceipt(hash, 1, types.ReceiptStatusFailed)
			},
			wantStatus:  storage.StatusFailed,
			wantGasUsed: true,
		},
		{
			name:       "not mined",
			receipt:    func(common.Hash) *types.Receipt { return nil },
			wantStatus: storage.StatusPending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			chain := testutil.NewFakeChain()
			block := testutil.NewTestBlock(1, 1)
			raw := block.Transactions[0]
			chain.AddBlock(block)
			if r := tt.receipt(raw.Hash); r != nil {
				chain.SetReceipt(r)
			}

			store := newTestStore(t)
			pub := testutil.NewRecordingPublisher()
			n := NewTransactionNormalizer(chain, store, pub, testutil.NewTestLogger(t))

			tx, err := n.Normalize(ctx, raw, block, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, tx.Status)
			assert.Equal(t, tt.wantGasUsed, tx.GasUsed != nil)

			stored, err := store.GetTransaction(ctx, raw.Hash)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, stored.Status)
			assert.Equal(t, uint64(block.Timestamp), stored.Timestamp)
			assert.Equal(t, "1000", stored.Value)
			assert.Equal(t, 1, pub.TransactionPublishes(raw.Hash))
		})
	}
}

func TestTransactionReceiptFailureIsDegraded(t *testing.T) {
	ctx := context.Background()
	chain := testutil.NewFakeChain()
	chain.Extend(3, 3, 1)
	block, _ := chain.GetBlock(ctx, 3)
	raw := block.Transactions[0]
	chain.SetReceiptError(raw.Hash, errors.New("upstream timeout"))

	store := newTestStore(t)
	n := NewTransactionNormalizer(chain, store, nil, testutil.NewTestLogger(t))

	tx, err := n.Normalize(ctx, raw, block, 0)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusPending, tx.Status)
	assert.Nil(t, tx.GasUsed)

	stored, err := store.GetTransaction(ctx, raw.Hash)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusPending, stored.Status)
	assert.Empty(t, stored.TokenTransfers)
}

func TestTransactionIdempotent(t *testing.T) {
	ctx := context.Background()
	chain := testutil.NewFakeChain()
	chain.Extend(1, 1, 1)
	block, _ := chain.GetBlock(ctx, 1)
	raw := block.Transactions[0]

	store := newTestStore(t)
	pub := testutil.NewRecordingPublisher()
	n := NewTransactionNormalizer(chain, store, pub, nil)

	first, err := n.Normalize(ctx, raw, block, 0)
	require.NoError(t, err)

	// the second call must not overwrite, even if the source changed its mind
	chain.SetReceipt(testutil.NewTestReceipt(raw.Hash, 1, types.ReceiptStatusFailed))
	second, err := n.Normalize(ctx, raw, block, 0)
	assert.ErrorIs(t, err, ErrAlreadyIndexed)
	require.NotNil(t, second)
	assert.Equal(t, first.Status, second.Status)

	assert.Equal(t, 1, pub.TransactionPublishes(raw.Hash))
	assert.Equal(t, 1, chain.ReceiptCalls(raw.Hash))

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.TransactionCount)
}

func TestTransactionContractCreation(t *testing.T) {
	ctx := context.Background()
	chain := testutil.NewFakeChain()
	block := testutil.NewTestBlock(2, 1)
	raw := block.Transactions[0]
	raw.To = nil
	chain.AddBlock(block)

	receipt := testutil.NewTestReceipt(raw.Hash, 2, types.ReceiptStatusSuccessful)
	receipt.ContractAddress = common.HexToAddress("0xc0de")
	chain.SetReceipt(receipt)

	n := NewTransactionNormalizer(chain, newTestStore(t), nil, nil)
	tx, err := n.Normalize(ctx, raw, block, 0)
	require.NoError(t, err)
	assert.Nil(t, tx.To)
	require.NotNil(t, tx.ContractAddress)
	assert.Equal(t, common.HexToAddress("0xc0de"), *tx.ContractAddress)
}

type stubResolver struct {
	meta TokenMetadata
	err  error
}

func (r stubResolver) Resolve(context.Context, common.Address) (TokenMetadata, error) {
	return r.meta, r.err
}

func TestTransactionTokenTransfers(t *testing.T) {
	tests := []struct {
		name       string
		resolver   TokenMetadataResolver
		wantSymbol string
		wantDec    uint8
	}{
		{name: "default resolver", resolver: nil, wantDec: 18},
		{name: "resolved metadata", resolver: stubResolver{meta: TokenMetadata{Name: "Tether", Symbol: "USDT", Decimals: 6, HasDecimals: true}}, wantSymbol: "USDT", wantDec: 6},
		{name: "zero decimals", resolver: stubResolver{meta: TokenMetadata{Symbol: "PTS", HasDecimals: true}}, wantSymbol: "PTS", wantDec: 0},
		{name: "unresolved decimals keep default", resolver: stubResolver{meta: TokenMetadata{Symbol: "NFT"}}, wantSymbol: "NFT", wantDec: 18},
		{name: "resolver failure keeps defaults", resolver: stubResolver{err: errors.New("no code")}, wantDec: 18},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			chain := testutil.NewFakeChain()
			block := testutil.NewTestBlock(4, 1)
			raw := block.Transactions[0]
			chain.AddBlock(block)

			receipt := testutil.NewTestReceipt(raw.Hash, 4, types.ReceiptStatusSuccessful)
			receipt.Logs = []*types.Log{
				transferLog(common.HexToAddress("0x70ce"), common.HexToHash("0xabc"), common.HexToHash("0xdef"),
					common.LeftPadBytes([]byte{0x03, 0xe8}, 32)),
				{Topics: []common.Hash{TransferEventSig, {}, {}}},
			}
			chain.SetReceipt(receipt)

			n := NewTransactionNormalizer(chain, newTestStore(t), nil, nil)
			n.SetTokenResolver(tt.resolver)

			tx, err := n.Normalize(ctx, raw, block, 0)
			require.NoError(t, err)
			assert.Equal(t, storage.StatusSuccess, tx.Status)
			require.Len(t, tx.TokenTransfers, 1)
			assert.Equal(t, "1000", tx.TokenTransfers[0].Value)
			assert.Equal(t, tt.wantSymbol, tx.TokenTransfers[0].TokenSymbol)
			assert.Equal(t, tt.wantDec, tx.TokenTransfers[0].TokenDecimals)
		})
	}
}

func TestTransactionStoreFailure(t *testing.T) {
	ctx := context.Background()
	chain := testutil.NewFakeChain()
	chain.Extend(1, 1, 1)
	block, _ := chain.GetBlock(ctx, 1)
	raw := block.Transactions[0]

	pub := testutil.NewRecordingPublisher()
	store := &flakyStore{Storage: newTestStore(t), failTx: raw.Hash}
	n := NewTransactionNormalizer(chain, store, pub, nil)

	_, err := n.Normalize(ctx, raw, block, 0)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAlreadyIndexed)
	assert.Empty(t, pub.Transactions(), "nothing is published for an unstored transaction")
}
