package rpc

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	internalcommon "github.com/ethergo-sdk/logstream/internal/common"
	"github.com/ethergo-sdk/logstream/internal/metrics"
	"github.com/ethergo-sdk/logstream/pkg/config"
	"github.com/ethergo-sdk/logstream/pkg/events"
	pkgrpc "github.com/ethergo-sdk/logstream/pkg/rpc"
)

// Compile-time check to ensure Client implements pkgrpc.NodeClient interface.
var _ pkgrpc.NodeClient = (*Client)(nil)

// Client wraps the go-ethereum RPC client with retry, per-call timeouts and
// error classification. It implements the pkgrpc.NodeClient interface.
type Client struct {
	eth          *ethclient.Client
	rpc          *gethrpc.Client
	retry        *config.RetryConfig
	timeout      time.Duration
	supportsSubs bool
}

// NewClient creates a new node client connected to the given endpoint.
// Websocket and IPC endpoints support push subscriptions; HTTP endpoints are
// poll-only. cfg may be nil, in which case no retry or timeout is applied.
func NewClient(ctx context.Context, endpoint string, cfg *config.NodeConfig) (*Client, error) {
	rpcClient, err := gethrpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, events.NewTransportError("dial", err)
	}

	c := &Client{
		eth:          ethclient.NewClient(rpcClient),
		rpc:          rpcClient,
		supportsSubs: endpointSupportsSubscriptions(endpoint),
	}
	if cfg != nil {
		c.retry = cfg.Retry
		c.timeout = cfg.RequestTimeout.Duration
	}
	return c, nil
}

func endpointSupportsSubscriptions(endpoint string) bool {
	return strings.HasPrefix(endpoint, "ws://") ||
		strings.HasPrefix(endpoint, "wss://") ||
		strings.HasSuffix(endpoint, ".ipc")
}

// Close closes the RPC client connection.
func (c *Client) Close() {
	c.eth.Close()
}

// SupportsSubscriptions reports whether the transport can hold push
// subscriptions.
func (c *Client) SupportsSubscriptions() bool {
	return c.supportsSubs
}

// GetLogs retrieves logs matching the given filter query.
func (c *Client) GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	var logs []types.Log
	err := c.call(ctx, "eth_getLogs", func(ctx context.Context) error {
		var err error
		logs, err = c.eth.FilterLogs(ctx, query)
		return err
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// HeaderByNumber retrieves the header for a block number. nil means latest.
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	var header *types.Header
	err := c.call(ctx, "eth_getBlockByNumber", func(ctx context.Context) error {
		var err error
		header, err = c.eth.HeaderByNumber(ctx, number)
		return err
	})
	if err != nil {
		return nil, err
	}
	return header, nil
}

// BlockNumber retrieves the current head block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var head uint64
	err := c.call(ctx, "eth_blockNumber", func(ctx context.Context) error {
		var err error
		head, err = c.eth.BlockNumber(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	return head, nil
}

// SubscribeRecords opens a push subscription delivering matching logs to ch.
func (c *Client) SubscribeRecords(
	ctx context.Context,
	query ethereum.FilterQuery,
	ch chan<- types.Log,
) (ethereum.Subscription, error) {
	if !c.supportsSubs {
		return nil, events.ErrUnsupportedOperation
	}
	sub, err := c.eth.SubscribeFilterLogs(ctx, query, ch)
	if err != nil {
		return nil, Classify("eth_subscribe(logs)", err)
	}
	return sub, nil
}

// SubscribeNewHeads opens a push subscription delivering new headers to ch.
func (c *Client) SubscribeNewHeads(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	if !c.supportsSubs {
		return nil, events.ErrUnsupportedOperation
	}
	sub, err := c.eth.SubscribeNewHead(ctx, ch)
	if err != nil {
		return nil, Classify("eth_subscribe(newHeads)", err)
	}
	return sub, nil
}

// SubscribePendingTransactions opens a push subscription delivering pending
// transaction hashes to ch.
func (c *Client) SubscribePendingTransactions(ctx context.Context, ch chan<- common.Hash) (ethereum.Subscription, error) {
	if !c.supportsSubs {
		return nil, events.ErrUnsupportedOperation
	}
	sub, err := c.rpc.EthSubscribe(ctx, ch, "newPendingTransactions")
	if err != nil {
		return nil, Classify("eth_subscribe(newPendingTransactions)", err)
	}
	return sub, nil
}

// call runs one RPC operation with the configured timeout, retry policy and
// metrics, classifying the final error into the core taxonomy.
func (c *Client) call(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	RPCMethodInc(method)
	start := time.Now()

	err := retryWithBackoff(ctx, c.retry, method, func() error {
		callCtx := ctx
		if c.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
		return fn(callCtx)
	})

	RPCMethodDuration(method, time.Since(start))
	if err != nil {
		classified := Classify(method, err)
		RPCMethodError(method, errorType(classified))
		severity := "transient"
		if events.IsFatal(classified) {
			severity = "fatal"
		}
		metrics.ErrorInc(internalcommon.ComponentRPC, severity)
		return classified
	}
	return nil
}
