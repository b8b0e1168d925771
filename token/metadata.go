// Package token reads ERC-20 metadata from token contracts so transfer
// records carry a name, symbol and decimals.
package token

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/0xmhha/explorer-indexer/fetch"
	"github.com/0xmhha/explorer-indexer/internal/constants"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/lru"
	"go.uber.org/zap"
)

// ERC-20 metadata selectors
var (
	selectorName     = common.FromHex("0x06fdde03")
	selectorSymbol   = common.FromHex("0x95d89b41")
	selectorDecimals = common.FromHex("0x313ce567")
)

// Caller executes read-only contract calls against the latest state
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
}

// Resolver implements fetch.TokenMetadataResolver with eth_call.
// Metadata is cached per contract once any of the three calls answered.
type Resolver struct {
	caller Caller
	cache  *lru.Cache[common.Address, fetch.TokenMetadata]
	logger *zap.Logger
}

var _ fetch.TokenMetadataResolver = (*Resolver)(nil)

// NewResolver creates a resolver caching up to cacheSize contracts
func NewResolver(caller Caller, cacheSize int, logger *zap.Logger) *Resolver {
	if cacheSize <= 0 {
		cacheSize = constants.DefaultTokenCacheSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		caller: caller,
		cache:  lru.NewCache[common.Address, fetch.TokenMetadata](cacheSize),
		logger: logger,
	}
}

// Resolve returns the contract's metadata. Decimals default to 18 when the
// contract does not answer decimals(); an error means no call succeeded.
func (r *Resolver) Resolve(ctx context.Context, token common.Address) (fetch.TokenMetadata, error) {
	if meta, ok := r.cache.Get(token); ok {
		return meta, nil
	}

	meta := fetch.TokenMetadata{Decimals: constants.DefaultTokenDecimals}
	var errs []error

	if name, err := r.callString(ctx, token, selectorName); err != nil {
		errs = append(errs, fmt.Errorf("name: %w", err))
	} else {
		meta.Name = name
	}

	if symbol, err := r.callString(ctx, token, selectorSymbol); err != nil {
		errs = append(errs, fmt.Errorf("symbol: %w", err))
	} else {
		meta.Symbol = symbol
	}

	if decimals, err := r.callUint8(ctx, token, selectorDecimals); err != nil {
		errs = append(errs, fmt.Errorf("decimals: %w", err))
	} else {
		meta.Decimals = decimals
		meta.HasDecimals = true
	}

	if err := ctx.Err(); err != nil {
		return meta, err
	}
	if len(errs) == 3 {
		return meta, errors.Join(errs...)
	}
	if len(errs) > 0 {
		r.logger.Debug("partial token metadata",
			zap.String("token", token.Hex()),
			zap.Error(errors.Join(errs...)),
		)
	}

	r.cache.Add(token, meta)
	return meta, nil
}

// CacheLen returns the number of cached contracts
func (r *Resolver) CacheLen() int {
	return r.cache.Len()
}

func (r *Resolver) call(ctx context.Context, token common.Address, selector []byte) ([]byte, error) {
	return r.caller.CallContract(ctx, ethereum.CallMsg{To: &token, Data: selector})
}

func (r *Resolver) callString(ctx context.Context, token common.Address, selector []byte) (string, error) {
	out, err := r.call(ctx, token, selector)
	if err != nil {
		return "", err
	}
	return decodeString(out)
}

func (r *Resolver) callUint8(ctx context.Context, token common.Address, selector []byte) (uint8, error) {
	out, err := r.call(ctx, token, selector)
	if err != nil {
		return 0, err
	}
	if len(out) < 32 {
		return 0, fmt.Errorf("invalid result length: %d", len(out))
	}
	v := new(big.Int).SetBytes(out[:32])
	if !v.IsUint64() || v.Uint64() > 255 {
		return 0, fmt.Errorf("value %s out of uint8 range", v)
	}
	return uint8(v.Uint64()), nil
}

// decodeString decodes an ABI string return. Shorter results are taken as
// a raw bytes32, which some older tokens return.
func decodeString(data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("empty result")
	}
	if len(data) < 64 {
		return strings.TrimRight(string(data), "\x00"), nil
	}

	offset := new(big.Int).SetBytes(data[0:32])
	if !offset.IsUint64() || offset.Uint64()+32 > uint64(len(data)) {
		return "", fmt.Errorf("invalid string offset")
	}
	start := offset.Uint64() + 32

	length := new(big.Int).SetBytes(data[start-32 : start])
	if !length.IsUint64() || length.Uint64() > uint64(len(data))-start {
		return "", fmt.Errorf("invalid string length")
	}

	return string(data[start : start+length.Uint64()]), nil
}
