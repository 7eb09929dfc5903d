// Package source turns a record filter into a live record sequence over one
// remote-node connection, abstracting over whether the node supports push
// subscriptions. Consumers see the same Stream shape in both modes.
package source

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	internalcommon "github.com/ethergo-sdk/logstream/internal/common"
	"github.com/ethergo-sdk/logstream/internal/logger"
	"github.com/ethergo-sdk/logstream/internal/metrics"
	"github.com/ethergo-sdk/logstream/pkg/events"
	pkgrpc "github.com/ethergo-sdk/logstream/pkg/rpc"
)

const (
	// DefaultChunkSize is the maximum block span per range query.
	DefaultChunkSize = 5000

	// DefaultDedupCacheSize bounds the delivered-record identity window.
	DefaultDedupCacheSize = 8192

	// streamBuffer is the record channel capacity per stream.
	streamBuffer = 256
)

// Config contains the source tuning knobs.
type Config struct {
	// ChunkSize is the maximum block span per range query
	ChunkSize uint64

	// DedupCacheSize bounds the poll-mode identity dedup window
	DedupCacheSize int
}

// Stream is a live sequence of values produced by one subscription or poll
// loop. Records carries the values; Warnings carries non-fatal transient
// errors; Done yields the terminal error, if any, and is closed when the
// stream ends.
type Stream[T any] struct {
	records chan T
	warns   chan error
	done    chan error
}

func newStream[T any]() *Stream[T] {
	return &Stream[T]{
		records: make(chan T, streamBuffer),
		warns:   make(chan error, 16),
		done:    make(chan error, 1),
	}
}

// Records returns the value channel. It is closed when the stream ends.
func (s *Stream[T]) Records() <-chan T { return s.records }

// Warnings returns the non-fatal error channel. Sends never block; a warning
// nobody listens for is dropped.
func (s *Stream[T]) Warnings() <-chan error { return s.warns }

// Done returns the terminal channel: at most one error, then closed.
func (s *Stream[T]) Done() <-chan error { return s.done }

func (s *Stream[T]) warn(err error) {
	select {
	case s.warns <- err:
	default:
	}
}

// finish ends the stream, delivering err (which may be nil) as the terminal
// result.
func (s *Stream[T]) finish(err error) {
	if err != nil {
		s.done <- err
	}
	close(s.records)
	close(s.done)
}

// Source wraps one node connection and produces record streams for filters.
type Source struct {
	client pkgrpc.NodeClient
	cfg    Config
	log    *logger.Logger
}

// New creates a record source. Zero config fields fall back to the defaults.
func New(client pkgrpc.NodeClient, cfg Config, log *logger.Logger) *Source {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.DedupCacheSize == 0 {
		cfg.DedupCacheSize = DefaultDedupCacheSize
	}
	metrics.ComponentHealthSet(internalcommon.ComponentRecordSource, true)
	return &Source{
		client: client,
		cfg:    cfg,
		log:    log.WithComponent("record-source"),
	}
}

// SupportsPush reports whether the underlying transport can hold push
// subscriptions.
func (s *Source) SupportsPush() bool {
	return s.client.SupportsSubscriptions()
}

// CurrentHead returns the current head block number.
func (s *Source) CurrentHead(ctx context.Context) (uint64, error) {
	head, err := s.client.BlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	HeadBlockSet(head)
	return head, nil
}

// BlockAt returns the live (number, hash) pair for a block number.
func (s *Source) BlockAt(ctx context.Context, blockNum uint64) (events.BlockRef, error) {
	header, err := s.client.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNum))
	if err != nil {
		return events.BlockRef{}, err
	}
	if header == nil {
		return events.BlockRef{}, events.NewProviderError(
			"eth_getBlockByNumber", false, fmt.Errorf("no header for block %d", blockNum))
	}
	return events.BlockRef{Number: header.Number.Uint64(), Hash: header.Hash()}, nil
}

// BlockAtTag resolves a named block tag ("latest", "pending", ...) to a
// (number, hash) pair.
func (s *Source) BlockAtTag(ctx context.Context, tag gethrpc.BlockNumber) (events.BlockRef, error) {
	header, err := s.client.HeaderByNumber(ctx, big.NewInt(tag.Int64()))
	if err != nil {
		return events.BlockRef{}, err
	}
	if header == nil {
		return events.BlockRef{}, events.NewProviderError(
			"eth_getBlockByNumber", false, fmt.Errorf("no header for tag %s", tag.String()))
	}
	return events.BlockRef{Number: header.Number.Uint64(), Hash: header.Hash()}, nil
}

// Close releases the underlying connection.
func (s *Source) Close() {
	metrics.ComponentHealthSet(internalcommon.ComponentRecordSource, false)
	s.client.Close()
}

// SubscribeHeads opens a push stream of new block headers.
func (s *Source) SubscribeHeads(ctx context.Context) (*Stream[*types.Header], error) {
	if !s.SupportsPush() {
		return nil, events.ErrUnsupportedOperation
	}

	ch := make(chan *types.Header, streamBuffer)
	sub, err := s.client.SubscribeNewHeads(ctx, ch)
	if err != nil {
		return nil, err
	}

	stream := newStream[*types.Header]()
	go forward(ctx, stream, ch, sub.Err(), sub.Unsubscribe)
	return stream, nil
}

// SubscribePendingTxs opens a push stream of pending transaction hashes.
// Pending transactions have no poll equivalent; this is push-only.
func (s *Source) SubscribePendingTxs(ctx context.Context) (*Stream[common.Hash], error) {
	if !s.SupportsPush() {
		return nil, events.ErrUnsupportedOperation
	}

	ch := make(chan common.Hash, streamBuffer)
	sub, err := s.client.SubscribePendingTransactions(ctx, ch)
	if err != nil {
		return nil, err
	}

	stream := newStream[common.Hash]()
	go forward(ctx, stream, ch, sub.Err(), sub.Unsubscribe)
	return stream, nil
}

// forward pumps a push subscription channel into a stream until the context
// is canceled or the transport drops the subscription.
func forward[T any](
	ctx context.Context,
	stream *Stream[T],
	in <-chan T,
	subErr <-chan error,
	unsubscribe func(),
) {
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			stream.finish(nil)
			return
		case err := <-subErr:
			// Transport dropped the subscription; push streams are not
			// restartable, so this is terminal.
			stream.finish(events.NewTransportError("subscription", err))
			return
		case v := <-in:
			select {
			case stream.records <- v:
			case <-ctx.Done():
				stream.finish(nil)
				return
			}
		}
	}
}
