package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrSourceUnavailable is returned when the chain-data source cannot be
// reached, times out or answers with an error.
var ErrSourceUnavailable = errors.New("chain source unavailable")

// Client is the Chain Reader: a thin, uncached, non-retrying view over a
// JSON-RPC endpoint.
type Client struct {
	ethClient *ethclient.Client
	rpcClient *rpc.Client
	endpoint  string
	timeout   time.Duration
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// Config holds client configuration
type Config struct {
	Endpoint string
	// Timeout bounds every individual call (0 = no per-call timeout)
	Timeout time.Duration
	// RateLimit caps requests per second sent upstream (0 = unlimited)
	RateLimit float64
	RateBurst int
	Logger    *zap.Logger
}

// NewClient dials the endpoint and verifies it answers eth_chainId
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	ctx := context.Background()
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	rpcClient, err := rpc.DialContext(ctx, cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}

	c := NewClientWithRPC(rpcClient, cfg)

	if _, err := c.ChainID(ctx); err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("failed to ping RPC endpoint: %w", err)
	}

	c.logger.Info("connected to chain RPC", zap.String("endpoint", cfg.Endpoint))
	return c, nil
}

// NewClientWithRPC wraps an already established RPC connection
func NewClientWithRPC(rpcClient *rpc.Client, cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		ethClient: ethclient.NewClient(rpcClient),
		rpcClient: rpcClient,
		endpoint:  cfg.Endpoint,
		timeout:   cfg.Timeout,
		logger:    logger,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return c
}

// Close closes the client connection
func (c *Client) Close() {
	if c.ethClient != nil {
		c.ethClient.Close()
	}
}

// begin waits for the rate limiter and derives the per-call deadline
func (c *Client) begin(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, nil, err
		}
	}
	if c.timeout > 0 {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		return callCtx, cancel, nil
	}
	callCtx, cancel := context.WithCancel(ctx)
	return callCtx, cancel, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrSourceUnavailable, op, err)
}

// ChainID returns the chain ID
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	callCtx, cancel, err := c.begin(ctx)
	if err != nil {
		return nil, unavailable("chain id", err)
	}
	defer cancel()

	chainID, err := c.ethClient.ChainID(callCtx)
	if err != nil {
		return nil, unavailable("chain id", err)
	}
	return chainID, nil
}

// LatestHeight returns the current tip height
func (c *Client) LatestHeight(ctx context.Context) (uint64, error) {
	callCtx, cancel, err := c.begin(ctx)
	if err != nil {
		return 0, unavailable("latest height", err)
	}
	defer cancel()

	height, err := c.ethClient.BlockNumber(callCtx)
	if err != nil {
		return 0, unavailable("latest height", err)
	}
	return height, nil
}

// GetBlock fetches a block with its full transactions. A nil block with a
// nil error means the height has not been produced yet.
func (c *Client) GetBlock(ctx context.Context, height uint64) (*RPCBlock, error) {
	op := fmt.Sprintf("get block %d", height)

	callCtx, cancel, err := c.begin(ctx)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer cancel()

	var raw json.RawMessage
	if err := c.rpcClient.CallContext(callCtx, &raw, "eth_getBlockByNumber", hexutil.EncodeUint64(height), true); err != nil {
		return nil, unavailable(op, err)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var block RPCBlock
	if err := json.Unmarshal(raw, &block); err != nil {
		return nil, unavailable(op, fmt.Errorf("failed to decode block: %w", err))
	}
	return &block, nil
}

// GetReceipt fetches a transaction receipt. A nil receipt with a nil error
// means the transaction is not mined yet.
func (c *Client) GetReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	op := "get receipt " + hash.Hex()

	callCtx, cancel, err := c.begin(ctx)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer cancel()

	receipt, err := c.ethClient.TransactionReceipt(callCtx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, nil
		}
		return nil, unavailable(op, err)
	}
	return receipt, nil
}

// SubscribeNewHead subscribes to new block headers. Only available over
// websocket or IPC endpoints.
func (c *Client) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	sub, err := c.ethClient.SubscribeNewHead(ctx, ch)
	if err != nil {
		return nil, unavailable("subscribe new heads", err)
	}
	return sub, nil
}

// CallContract executes a read-only call against the latest state
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	op := "call contract"
	if msg.To != nil {
		op += " " + msg.To.Hex()
	}

	callCtx, cancel, err := c.begin(ctx)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer cancel()

	out, err := c.ethClient.CallContract(callCtx, msg, nil)
	if err != nil {
		return nil, unavailable(op, err)
	}
	return out, nil
}
