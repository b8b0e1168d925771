package client

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// RPCBlock is the eth_getBlockByNumber result with full transaction objects.
// Optional fields stay nil when the chain does not report them.
type RPCBlock struct {
	Number          hexutil.Uint64    `json:"number"`
	Hash            common.Hash       `json:"hash"`
	ParentHash      common.Hash       `json:"parentHash"`
	Timestamp       hexutil.Uint64    `json:"timestamp"`
	GasUsed         hexutil.Uint64    `json:"gasUsed"`
	GasLimit        hexutil.Uint64    `json:"gasLimit"`
	BaseFeePerGas   *hexutil.Big      `json:"baseFeePerGas,omitempty"`
	Difficulty      *hexutil.Big      `json:"difficulty,omitempty"`
	TotalDifficulty *hexutil.Big      `json:"totalDifficulty,omitempty"`
	Size            hexutil.Uint64    `json:"size"`
	Miner           common.Address    `json:"miner"`
	ExtraData       hexutil.Bytes     `json:"extraData"`
	Nonce           hexutil.Bytes     `json:"nonce,omitempty"`
	Transactions    []*RPCTransaction `json:"transactions"`
}

// RPCTransaction is a transaction object as embedded in an RPCBlock
type RPCTransaction struct {
	Hash             common.Hash     `json:"hash"`
	BlockHash        *common.Hash    `json:"blockHash"`
	BlockNumber      *hexutil.Uint64 `json:"blockNumber"`
	TransactionIndex *hexutil.Uint64 `json:"transactionIndex"`
	From             common.Address  `json:"from"`
	To               *common.Address `json:"to"`
	Value            *hexutil.Big    `json:"value"`
	GasPrice         *hexutil.Big    `json:"gasPrice,omitempty"`
	Gas              hexutil.Uint64  `json:"gas"`
	Nonce            hexutil.Uint64  `json:"nonce"`
	Input            hexutil.Bytes   `json:"input"`
	Type             hexutil.Uint64  `json:"type"`
}

// Index returns the on-chain transaction index, falling back to the
// position within the block when the source omits it.
func (tx *RPCTransaction) Index(position int) uint64 {
	if tx.TransactionIndex != nil {
		return uint64(*tx.TransactionIndex)
	}
	return uint64(position)
}
