package testutil

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/0xmhha/explorer-indexer/client"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// NewTestLogger creates a logger that writes through t.Log
func NewTestLogger(t *testing.T) *zap.Logger {
	t.Helper()
	return zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel))
}

// BlockHash returns the deterministic hash used for test blocks
func BlockHash(height uint64) common.Hash {
	return common.HexToHash(fmt.Sprintf("0xb10c%016x", height))
}

// TxHash returns the deterministic hash of the i-th transaction at height
func TxHash(height uint64, i int) common.Hash {
	return common.HexToHash(fmt.Sprintf("0x7e%016x%08x", height, i))
}

// NewTestBlock creates a raw block at height with txCount transactions.
// Transaction i is sent from address 0x1000+i to 0x2000+i.
func NewTestBlock(height uint64, txCount int) *client.RPCBlock {
	block := &client.RPCBlock{
		Number:     hexutil.Uint64(height),
		Hash:       BlockHash(height),
		ParentHash: BlockHash(height - 1),
		Timestamp:  hexutil.Uint64(1700000000 + height*2),
		GasUsed:    hexutil.Uint64(21000 * uint64(txCount)),
		GasLimit:   30000000,
		Size:       hexutil.Uint64(600 + 110*txCount),
		Miner:      common.HexToAddress("0xc0ffee"),
	}
	if height == 0 {
		block.ParentHash = common.Hash{}
	}

	for i := 0; i < txCount; i++ {
		block.Transactions = append(block.Transactions, NewTestTransaction(block, i))
	}
	return block
}

// NewTestTransaction creates the i-th transaction of block
func NewTestTransaction(block *client.RPCBlock, i int) *client.RPCTransaction {
	height := uint64(block.Number)
	blockHash := block.Hash
	number := block.Number
	index := hexutil.Uint64(i)
	to := common.BigToAddress(big.NewInt(int64(0x2000 + i)))

	return &client.RPCTransaction{
		Hash:             TxHash(height, i),
		BlockHash:        &blockHash,
		BlockNumber:      &number,
		TransactionIndex: &index,
		From:             common.BigToAddress(big.NewInt(int64(0x1000 + i))),
		To:               &to,
		Value:            (*hexutil.Big)(big.NewInt(int64(1000 + i))),
		GasPrice:         (*hexutil.Big)(big.NewInt(1e9)),
		Gas:              21000,
		Nonce:            hexutil.Uint64(i),
	}
}

// NewTestReceipt creates a receipt for txHash with the given status
func NewTestReceipt(txHash common.Hash, blockNumber uint64, status uint64) *types.Receipt {
	return &types.Receipt{
		Type:              types.LegacyTxType,
		Status:            status,
		CumulativeGasUsed: 21000,
		BlockNumber:       new(big.Int).SetUint64(blockNumber),
		TxHash:            txHash,
		GasUsed:           21000,
		Logs:              []*types.Log{},
	}
}
