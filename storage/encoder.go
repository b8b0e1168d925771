package storage

import (
	"encoding/json"
	"fmt"
)

// EncodeBlock encodes a block for storage
func EncodeBlock(block *Block) ([]byte, error) {
	if block == nil {
		return nil, fmt.Errorf("block cannot be nil")
	}
	return json.Marshal(block)
}

// DecodeBlock decodes a stored block
func DecodeBlock(data []byte) (*Block, error) {
	var block Block
	if err := json.Unmarshal(data, &block); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return &block, nil
}

// EncodeTransaction encodes a transaction for storage
func EncodeTransaction(tx *Transaction) ([]byte, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction cannot be nil")
	}
	return json.Marshal(tx)
}

// DecodeTransaction decodes a stored transaction
func DecodeTransaction(data []byte) (*Transaction, error) {
	var tx Transaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return &tx, nil
}
