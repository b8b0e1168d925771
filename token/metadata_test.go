package token

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	mu      sync.Mutex
	answers map[common.Address]map[string][]byte
	calls   int
}

func (f *fakeCaller) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, ok := f.answers[*msg.To][hexutil.Encode(msg.Data)]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return out, nil
}

func (f *fakeCaller) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func abiString(s string) []byte {
	out := common.LeftPadBytes(big.NewInt(32).Bytes(), 32)
	out = append(out, common.LeftPadBytes(big.NewInt(int64(len(s))).Bytes(), 32)...)
	padded := make([]byte, (len(s)+31)/32*32)
	copy(padded, s)
	return append(out, padded...)
}

func abiUint(v int64) []byte {
	return common.LeftPadBytes(big.NewInt(v).Bytes(), 32)
}

var (
	usdc = common.HexToAddress("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")
	mkr  = common.HexToAddress("0x9f8f72aa9304c8b593d555f12ef6589cc3a579a2")
	nft  = common.HexToAddress("0xbc4ca0eda7647a8ab7c2061c2e118a18a936f13d")
	pts  = common.HexToAddress("0x00000000000000000000000000000000000000f0")
)

func newFake() *fakeCaller {
	return &fakeCaller{answers: map[common.Address]map[string][]byte{
		usdc: {
			"0x06fdde03": abiString("USD Coin"),
			"0x95d89b41": abiString("USDC"),
			"0x313ce567": abiUint(6),
		},
		mkr: {
			"0x06fdde03": common.RightPadBytes([]byte("Maker"), 32),
			"0x95d89b41": common.RightPadBytes([]byte("MKR"), 32),
			"0x313ce567": abiUint(18),
		},
		nft: {
			"0x06fdde03": abiString("BoredApeYachtClub"),
			"0x95d89b41": abiString("BAYC"),
		},
		pts: {
			"0x06fdde03": abiString("Points"),
			"0x95d89b41": abiString("PTS"),
			"0x313ce567": abiUint(0),
		},
	}}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name         string
		token        common.Address
		wantName     string
		wantSymbol   string
		wantDecimals uint8
		wantResolved bool
	}{
		{name: "abi strings", token: usdc, wantName: "USD Coin", wantSymbol: "USDC", wantDecimals: 6, wantResolved: true},
		{name: "bytes32 strings", token: mkr, wantName: "Maker", wantSymbol: "MKR", wantDecimals: 18, wantResolved: true},
		{name: "no decimals defaults to 18", token: nft, wantName: "BoredApeYachtClub", wantSymbol: "BAYC", wantDecimals: 18},
		{name: "zero decimals", token: pts, wantName: "Points", wantSymbol: "PTS", wantDecimals: 0, wantResolved: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(newFake(), 16, nil)

			meta, err := r.Resolve(context.Background(), tt.token)
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, meta.Name)
			assert.Equal(t, tt.wantSymbol, meta.Symbol)
			assert.Equal(t, tt.wantDecimals, meta.Decimals)
			assert.Equal(t, tt.wantResolved, meta.HasDecimals)
		})
	}
}

func TestResolveCaches(t *testing.T) {
	caller := newFake()
	r := NewResolver(caller, 16, nil)

	_, err := r.Resolve(context.Background(), usdc)
	require.NoError(t, err)
	require.Equal(t, 3, caller.callCount())

	meta, err := r.Resolve(context.Background(), usdc)
	require.NoError(t, err)
	assert.Equal(t, "USDC", meta.Symbol)
	assert.Equal(t, 3, caller.callCount(), "second lookup is served from cache")
	assert.Equal(t, 1, r.CacheLen())
}

func TestResolveNotAContract(t *testing.T) {
	caller := newFake()
	r := NewResolver(caller, 16, nil)
	eoa := common.HexToAddress("0x1")

	meta, err := r.Resolve(context.Background(), eoa)
	require.Error(t, err)
	assert.Equal(t, uint8(18), meta.Decimals)
	assert.Zero(t, r.CacheLen(), "failures are retried on the next lookup")

	_, _ = r.Resolve(context.Background(), eoa)
	assert.Equal(t, 6, caller.callCount())
}

func TestResolveCanceled(t *testing.T) {
	r := NewResolver(newFake(), 16, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Resolve(ctx, usdc)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, r.CacheLen())
}

func TestDecodeString(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    string
		wantErr bool
	}{
		{name: "abi encoded", data: abiString("Wrapped Ether"), want: "Wrapped Ether"},
		{name: "empty abi string", data: abiString(""), want: ""},
		{name: "bytes32", data: common.RightPadBytes([]byte("DAI"), 32), want: "DAI"},
		{name: "empty", data: nil, wantErr: true},
		{name: "offset past end", data: append(abiUint(4096), abiUint(3)...), wantErr: true},
		{name: "length past end", data: append(abiUint(32), abiUint(64)...), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeString(tt.data)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCallUint8OutOfRange(t *testing.T) {
	token := common.HexToAddress("0xdead")
	r := NewResolver(&fakeCaller{answers: map[common.Address]map[string][]byte{
		token: {"0x313ce567": abiUint(256)},
	}}, 1, nil)

	_, err := r.callUint8(context.Background(), token, selectorDecimals)
	assert.Error(t, err)
}
