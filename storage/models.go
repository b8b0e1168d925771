package storage

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// TxStatus is the execution outcome of a transaction
type TxStatus string

const (
	// StatusPending means no receipt was available when the transaction was indexed
	StatusPending TxStatus = "pending"
	// StatusSuccess means the receipt reported successful execution
	StatusSuccess TxStatus = "success"
	// StatusFailed means the receipt reported a reverted execution
	StatusFailed TxStatus = "failed"
)

// CanTransitionTo reports whether a stored status may move to next.
// Only pending may resolve, and only to a final outcome.
func (s TxStatus) CanTransitionTo(next TxStatus) bool {
	return s == StatusPending && (next == StatusSuccess || next == StatusFailed)
}

// Block is the stored form of one chain height. It is written once and
// never modified afterwards.
type Block struct {
	Height     uint64      `json:"height"`
	Hash       common.Hash `json:"hash"`
	ParentHash common.Hash `json:"parentHash"`
	Timestamp  uint64      `json:"timestamp"`
	GasUsed    uint64      `json:"gasUsed"`
	GasLimit   uint64      `json:"gasLimit"`

	// Decimal strings; empty when the chain does not report them
	BaseFee         string `json:"baseFee,omitempty"`
	Difficulty      string `json:"difficulty,omitempty"`
	TotalDifficulty string `json:"totalDifficulty,omitempty"`

	Size             uint64         `json:"size"`
	TransactionCount int            `json:"transactionCount"`
	Transactions     []common.Hash  `json:"transactions"`
	Miner            common.Address `json:"miner"`
	ExtraData        hexutil.Bytes  `json:"extraData"`
	Nonce            hexutil.Bytes  `json:"nonce,omitempty"`
}

// Transaction is the stored form of one on-chain transaction
type Transaction struct {
	Hash             common.Hash     `json:"hash"`
	BlockHeight      uint64          `json:"blockHeight"`
	BlockHash        common.Hash     `json:"blockHash"`
	TransactionIndex uint64          `json:"transactionIndex"`
	From             common.Address  `json:"from"`
	To               *common.Address `json:"to"`
	Value            string          `json:"value"`
	GasPrice         string          `json:"gasPrice"`
	// GasUsed stays nil until a receipt is available
	GasUsed              *uint64               `json:"gasUsed"`
	GasLimit             uint64                `json:"gasLimit"`
	Nonce                uint64                `json:"nonce"`
	Input                hexutil.Bytes         `json:"input"`
	Status               TxStatus              `json:"status"`
	Timestamp            uint64                `json:"timestamp"`
	ContractAddress      *common.Address       `json:"contractAddress,omitempty"`
	TokenTransfers       []TokenTransfer       `json:"tokenTransfers"`
	InternalTransactions []InternalTransaction `json:"internalTransactions"`
}

// TokenTransfer is a decoded Transfer event owned by a Transaction
type TokenTransfer struct {
	Token         common.Address `json:"token"`
	From          common.Address `json:"from"`
	To            common.Address `json:"to"`
	Value         string         `json:"value"`
	TokenName     string         `json:"tokenName"`
	TokenSymbol   string         `json:"tokenSymbol"`
	TokenDecimals uint8          `json:"tokenDecimals"`
}

// InternalTransaction is a value transfer made during execution by a contract
type InternalTransaction struct {
	From  common.Address `json:"from"`
	To    common.Address `json:"to"`
	Value string         `json:"value"`
	Type  string         `json:"type"`
}

// Stats holds store-wide counters
type Stats struct {
	BlockCount       uint64 `json:"blockCount"`
	TransactionCount uint64 `json:"transactionCount"`
}
