package storage

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Key prefixes for different data types
const (
	prefixBlocks    = "/data/blocks/"
	prefixTxs       = "/data/txs/"
	prefixBlockHash = "/index/blockh/"
)

// Metadata keys
const (
	keyBlockCount       = "/meta/bc"
	keyTransactionCount = "/meta/tc"
)

// BlockKey returns the key for storing a block at given height.
// Format: /data/blocks/{height}, zero-padded so keys sort by height.
func BlockKey(height uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixBlocks, height))
}

// BlockKeyPrefix returns the prefix shared by all block keys
func BlockKeyPrefix() []byte {
	return []byte(prefixBlocks)
}

// ParseBlockKey extracts the height from a block key
func ParseBlockKey(key []byte) (uint64, error) {
	s := string(key)
	if !strings.HasPrefix(s, prefixBlocks) {
		return 0, fmt.Errorf("not a block key: %q", s)
	}
	height, err := strconv.ParseUint(strings.TrimPrefix(s, prefixBlocks), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid block key %q: %w", s, err)
	}
	return height, nil
}

// BlockHashIndexKey returns the key mapping a block hash to its height.
// Format: /index/blockh/{hash}
func BlockHashIndexKey(blockHash common.Hash) []byte {
	return []byte(prefixBlockHash + blockHash.Hex())
}

// TransactionKey returns the key for storing a transaction.
// Format: /data/txs/{hash}
func TransactionKey(txHash common.Hash) []byte {
	return []byte(prefixTxs + txHash.Hex())
}

// BlockCountKey returns the key of the stored block counter
func BlockCountKey() []byte {
	return []byte(keyBlockCount)
}

// TransactionCountKey returns the key of the stored transaction counter
func TransactionCountKey() []byte {
	return []byte(keyTransactionCount)
}

// EncodeUint64 encodes uint64 to bytes in big-endian format
func EncodeUint64(n uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	return buf
}

// DecodeUint64 decodes bytes to uint64 in big-endian format
func DecodeUint64(data []byte) (uint64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("invalid uint64 data length: %d", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

// prefixUpperBound returns the smallest key greater than every key with the prefix
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
