package rpc

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// NodeClient defines the remote-node operations the ingestion core consumes.
// This abstraction allows for easier testing and alternative transports.
type NodeClient interface {
	// Close closes the underlying connection.
	Close()

	// GetLogs retrieves logs matching the given filter query.
	GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)

	// HeaderByNumber retrieves the header for a block number. A nil number
	// means the latest block; negative values follow the JSON-RPC named
	// tags (pending, latest, finalized, safe).
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)

	// BlockNumber retrieves the current head block number.
	BlockNumber(ctx context.Context) (uint64, error)

	// SubscribeRecords opens a push subscription delivering matching logs to
	// ch. Fails with events.ErrUnsupportedOperation on poll-only transports.
	SubscribeRecords(ctx context.Context, query ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)

	// SubscribeNewHeads opens a push subscription delivering new block
	// headers to ch.
	SubscribeNewHeads(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)

	// SubscribePendingTransactions opens a push subscription delivering
	// pending transaction hashes to ch.
	SubscribePendingTransactions(ctx context.Context, ch chan<- common.Hash) (ethereum.Subscription, error)

	// SupportsSubscriptions reports whether the transport can hold push
	// subscriptions (websocket or IPC endpoints).
	SupportsSubscriptions() bool
}
