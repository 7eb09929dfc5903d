package listener

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ethergo-sdk/logstream/internal/source"
	"github.com/ethergo-sdk/logstream/pkg/events"
	"github.com/ethergo-sdk/logstream/pkg/filter"
)

// RegisterContractEvent watches one event signature on one contract. The
// signature topic becomes topic[0]; indexed constrains the following indexed
// argument positions (use filter.AnyTopic to skip a position).
func (r *Registry) RegisterContractEvent(
	address common.Address,
	signatureTopic common.Hash,
	indexed []filter.TopicConstraint,
	cb Callback,
	opts Options,
) (Handle, error) {
	constraints := append([]filter.TopicConstraint{filter.Topic(signatureTopic)}, indexed...)
	f, err := filter.New(
		filter.WithAddress(address),
		filter.WithTopics(constraints...),
	)
	if err != nil {
		return "", err
	}
	return r.Register(f, cb, opts)
}

// RegisterAllContractEvents watches every event a contract emits.
func (r *Registry) RegisterAllContractEvents(
	address common.Address,
	cb Callback,
	opts Options,
) (Handle, error) {
	f, err := filter.New(filter.WithAddress(address))
	if err != nil {
		return "", err
	}
	return r.Register(f, cb, opts)
}

// HeaderCallback receives each new block header of a block watch.
type HeaderCallback func(*types.Header)

// WatchNewBlocks invokes cb per new block header, via push when the
// transport supports it, otherwise by polling at interval. Headers bypass
// the reorg tracker: a header watch reports heads, not record finality.
func (r *Registry) WatchNewBlocks(cb HeaderCallback, interval time.Duration, opts Options) (Handle, error) {
	usePush := r.wantPush(opts.Mode)
	if interval <= 0 {
		interval = r.cfg.PollInterval.Duration
	}

	reg, ctx, err := r.admit(usePush)
	if err != nil {
		return "", err
	}

	var stream *source.Stream[*types.Header]
	if usePush {
		stream, err = r.src.SubscribeHeads(ctx)
	} else {
		stream, err = r.src.PollHeads(ctx, interval)
	}
	if err != nil {
		r.discard(reg)
		return "", err
	}

	r.log.Infow("block watch started", "handle", reg.handle, "mode", reg.mode)
	go runForward(r, ctx, reg, stream, opts, func(h *types.Header) {
		EventDeliveredInc("header")
		cb(h)
	})
	return reg.handle, nil
}

// TxHashCallback receives each pending transaction hash of a pending watch.
type TxHashCallback func(common.Hash)

// WatchPendingTransactions invokes cb per pending transaction hash. Pending
// transactions are only announced over push transports; without one this
// fails with events.ErrUnsupportedOperation.
func (r *Registry) WatchPendingTransactions(cb TxHashCallback, opts Options) (Handle, error) {
	if !r.src.SupportsPush() {
		return "", events.ErrUnsupportedOperation
	}

	reg, ctx, err := r.admit(true)
	if err != nil {
		return "", err
	}

	stream, err := r.src.SubscribePendingTxs(ctx)
	if err != nil {
		r.discard(reg)
		return "", err
	}

	r.log.Infow("pending-transaction watch started", "handle", reg.handle)
	go runForward(r, ctx, reg, stream, opts, func(h common.Hash) {
		EventDeliveredInc("pending_tx")
		cb(h)
	})
	return reg.handle, nil
}

// runForward is the consumer loop for watches that bypass classification:
// values go straight from the stream to the callback.
func runForward[T any](
	r *Registry,
	ctx context.Context,
	reg *registration,
	stream *source.Stream[T],
	opts Options,
	cb func(T),
) {
	defer r.retire(reg)

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-stream.Warnings():
			r.warn(reg, opts, err)
		case v, ok := <-stream.Records():
			if !ok {
				if err := <-stream.Done(); err != nil {
					r.fail(reg, opts, err)
				}
				return
			}
			cb(v)
		}
	}
}
