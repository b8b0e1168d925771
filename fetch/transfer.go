package fetch

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/0xmhha/explorer-indexer/internal/constants"
	"github.com/0xmhha/explorer-indexer/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// TransferEventSig is the topic of Transfer(address,address,uint256)
var TransferEventSig = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

var errMalformedTransfer = errors.New("malformed transfer log")

// ParseTokenTransfer decodes a Transfer log. It returns nil, nil for logs
// that are not transfers. Logs without a value payload (such as
// ERC-721 transfers, whose token id is indexed) are rejected.
func ParseTokenTransfer(log *types.Log) (*storage.TokenTransfer, error) {
	if log == nil || len(log.Topics) < 3 || log.Topics[0] != TransferEventSig {
		return nil, nil
	}
	if len(log.Data) == 0 {
		return nil, fmt.Errorf("%w: empty data at log %d", errMalformedTransfer, log.Index)
	}

	data := log.Data
	if len(data) > common.HashLength {
		data = data[:common.HashLength]
	}

	return &storage.TokenTransfer{
		Token:         log.Address,
		From:          common.BytesToAddress(log.Topics[1].Bytes()),
		To:            common.BytesToAddress(log.Topics[2].Bytes()),
		Value:         new(big.Int).SetBytes(data).String(),
		TokenDecimals: constants.DefaultTokenDecimals,
	}, nil
}

// ParseTokenTransfers decodes every Transfer log, skipping malformed ones.
// The returned error joins the per-log failures.
func ParseTokenTransfers(logs []*types.Log) ([]storage.TokenTransfer, error) {
	transfers := make([]storage.TokenTransfer, 0)
	var errs []error
	for _, log := range logs {
		transfer, err := ParseTokenTransfer(log)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if transfer != nil {
			transfers = append(transfers, *transfer)
		}
	}
	return transfers, errors.Join(errs...)
}

// TokenMetadata describes a token contract
type TokenMetadata struct {
	Name     string
	Symbol   string
	Decimals uint8
	// HasDecimals reports whether Decimals is an answer rather than the
	// default. Zero is a valid answer.
	HasDecimals bool
}

// TokenMetadataResolver looks up token metadata for transfer records
type TokenMetadataResolver interface {
	Resolve(ctx context.Context, token common.Address) (TokenMetadata, error)
}

// DefaultTokenResolver leaves name and symbol blank and reports the
// default decimals
type DefaultTokenResolver struct{}

// Resolve implements TokenMetadataResolver
func (DefaultTokenResolver) Resolve(context.Context, common.Address) (TokenMetadata, error) {
	return TokenMetadata{Decimals: constants.DefaultTokenDecimals, HasDecimals: true}, nil
}
