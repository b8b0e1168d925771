package events

import (
	"strings"

	"github.com/0xmhha/explorer-indexer/storage"
	"github.com/ethereum/go-ethereum/common"
)

// EventType names the kind of record carried by an Envelope
type EventType string

const (
	// EventNewBlock is sent on the blocks topic
	EventNewBlock EventType = "newBlock"

	// EventNewTransaction is sent on the transactions topic
	EventNewTransaction EventType = "newTransaction"

	// EventAddressTransaction is sent on an address topic
	EventAddressTransaction EventType = "addressTransaction"

	// EventNetworkStats is sent to every subscriber regardless of topic
	EventNetworkStats EventType = "networkStats"
)

// Topic names
const (
	TopicBlocks       = "blocks"
	TopicTransactions = "transactions"
	TopicAddress      = "address"
	TopicStats        = "stats"
)

// AddressTopic returns the topic for transactions touching addr.
// Addresses are lowercased so subscribers need not match checksum casing.
func AddressTopic(addr common.Address) string {
	return TopicAddress + ":" + strings.ToLower(addr.Hex())
}

// Envelope is one fan-out message bound for a single topic
type Envelope struct {
	Event EventType   `json:"event"`
	Topic string      `json:"topic"`
	Data  interface{} `json:"data"`

	// Key identifies the record for partitioned transports
	Key string `json:"-"`
}

// BlockMessage is the projection of a stored block sent to subscribers
type BlockMessage struct {
	Height           uint64 `json:"height"`
	Hash             string `json:"hash"`
	Timestamp        uint64 `json:"timestamp"`
	GasUsed          uint64 `json:"gasUsed"`
	TransactionCount int    `json:"transactionCount"`
	Miner            string `json:"miner"`
}

// TransactionMessage is the projection of a stored transaction sent to subscribers
type TransactionMessage struct {
	Hash        string  `json:"hash"`
	BlockHeight uint64  `json:"blockHeight"`
	From        string  `json:"from"`
	To          *string `json:"to"`
	Value       string  `json:"value"`
	GasPrice    string  `json:"gasPrice"`
	GasUsed     *uint64 `json:"gasUsed"`
	Status      string  `json:"status"`
	Timestamp   uint64  `json:"timestamp"`
}

// NetworkStats summarises the indexed chain after a monitor pass
type NetworkStats struct {
	LatestBlock       uint64  `json:"latestBlock"`
	AverageBlockTime  float64 `json:"averageBlockTime"`
	TotalBlocks       uint64  `json:"totalBlocks"`
	TotalTransactions uint64  `json:"totalTransactions"`
}

// NewBlockMessage projects a stored block
func NewBlockMessage(block *storage.Block) *BlockMessage {
	return &BlockMessage{
		Height:           block.Height,
		Hash:             block.Hash.Hex(),
		Timestamp:        block.Timestamp,
		GasUsed:          block.GasUsed,
		TransactionCount: block.TransactionCount,
		Miner:            block.Miner.Hex(),
	}
}

// NewTransactionMessage projects a stored transaction
func NewTransactionMessage(tx *storage.Transaction) *TransactionMessage {
	msg := &TransactionMessage{
		Hash:        tx.Hash.Hex(),
		BlockHeight: tx.BlockHeight,
		From:        tx.From.Hex(),
		Value:       tx.Value,
		GasPrice:    tx.GasPrice,
		GasUsed:     tx.GasUsed,
		Status:      string(tx.Status),
		Timestamp:   tx.Timestamp,
	}
	if tx.To != nil {
		to := tx.To.Hex()
		msg.To = &to
	}
	return msg
}

// BlockEnvelope returns the message published for a stored block
func BlockEnvelope(block *storage.Block) Envelope {
	return Envelope{
		Event: EventNewBlock,
		Topic: TopicBlocks,
		Data:  NewBlockMessage(block),
		Key:   block.Hash.Hex(),
	}
}

// TransactionEnvelopes returns the messages published for a stored
// transaction: one on the transactions topic and one per distinct
// participating address.
func TransactionEnvelopes(tx *storage.Transaction) []Envelope {
	msg := NewTransactionMessage(tx)
	key := tx.Hash.Hex()

	envs := []Envelope{
		{Event: EventNewTransaction, Topic: TopicTransactions, Data: msg, Key: key},
		{Event: EventAddressTransaction, Topic: AddressTopic(tx.From), Data: msg, Key: key},
	}
	if tx.To != nil && *tx.To != tx.From {
		envs = append(envs, Envelope{
			Event: EventAddressTransaction,
			Topic: AddressTopic(*tx.To),
			Data:  msg,
			Key:   key,
		})
	}
	return envs
}

// StatsEnvelope returns the message published for a stats snapshot
func StatsEnvelope(stats *NetworkStats) Envelope {
	return Envelope{
		Event: EventNetworkStats,
		Topic: TopicStats,
		Data:  stats,
		Key:   TopicStats,
	}
}
