package source

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	lru "github.com/hashicorp/golang-lru"

	internalrpc "github.com/ethergo-sdk/logstream/internal/rpc"
	"github.com/ethergo-sdk/logstream/pkg/events"
	"github.com/ethergo-sdk/logstream/pkg/filter"
)

// Subscribe opens a push stream of records matching f. Returns
// events.ErrUnsupportedOperation when the transport cannot hold
// subscriptions.
func (s *Source) Subscribe(ctx context.Context, f filter.Filter) (*Stream[types.Log], error) {
	if !s.SupportsPush() {
		return nil, events.ErrUnsupportedOperation
	}

	// Push subscriptions match from the moment they are installed; the
	// node rejects historical ranges on eth_subscribe.
	query := f.ToQuery(nil, nil)
	query.FromBlock, query.ToBlock = nil, nil

	ch := make(chan types.Log, streamBuffer)
	sub, err := s.client.SubscribeRecords(ctx, query, ch)
	if err != nil {
		return nil, err
	}

	s.log.Infow("push subscription installed", "filter", f.Key())
	stream := newStream[types.Log]()
	go forward(ctx, stream, ch, sub.Err(), sub.Unsubscribe)
	return stream, nil
}

// Poll opens a poll-mode stream of records matching f. Each tick scans the
// span between the last scanned block and the current head in chunks,
// delivering matches in order. A failed tick does not advance the scan
// position; the same span is retried on the next tick. One block of overlap
// is re-scanned each tick to tolerate node lag, with duplicates dropped by
// (txHash, logIndex) identity.
func (s *Source) Poll(ctx context.Context, f filter.Filter, interval time.Duration) (*Stream[types.Log], error) {
	seen, err := lru.New(s.cfg.DedupCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating dedup cache: %w", err)
	}

	next, err := s.resolveStartBlock(ctx, f)
	if err != nil {
		return nil, err
	}

	stream := newStream[types.Log]()
	go s.pollLoop(ctx, stream, f, interval, next, seen)
	return stream, nil
}

// resolveStartBlock maps the filter's from-block to the first block number to
// scan. Named tags resolve against the live head.
func (s *Source) resolveStartBlock(ctx context.Context, f filter.Filter) (uint64, error) {
	from := f.FromBlock()
	if from >= 0 {
		return uint64(from), nil
	}
	head, err := s.CurrentHead(ctx)
	if err != nil {
		return 0, err
	}
	switch from {
	case gethrpc.LatestBlockNumber, gethrpc.PendingBlockNumber:
		return head + 1, nil
	default:
		// Finalized/safe tags trail the head; scanning from the head is
		// the conservative choice without a finality query per tick.
		return head + 1, nil
	}
}

func (s *Source) pollLoop(
	ctx context.Context,
	stream *Stream[types.Log],
	f filter.Filter,
	interval time.Duration,
	next uint64,
	seen *lru.Cache,
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	scannedAny := false
	for {
		select {
		case <-ctx.Done():
			stream.finish(nil)
			return
		case <-ticker.C:
		}

		PollTickInc()
		head, err := s.CurrentHead(ctx)
		if err != nil {
			PollTickFailedInc()
			stream.warn(err)
			continue
		}

		upper := head
		if to := f.ToBlock(); to >= 0 && uint64(to) < upper {
			upper = uint64(to)
		}
		if next > upper {
			if to := f.ToBlock(); to >= 0 && next > uint64(to) {
				// Bounded range fully scanned.
				stream.finish(nil)
				return
			}
			continue
		}

		start := next
		if scannedAny && start > 0 {
			start--
		}

		unscanned, terminated := s.scanSpan(ctx, stream, f, start, upper, seen)
		if terminated {
			return
		}
		if unscanned > next {
			next = unscanned
			scannedAny = true
		}
	}
}

// scanSpan fetches [from, upper] in chunks, delivering deduplicated records.
// It returns the first block not yet scanned (from when the first chunk
// fails) and whether the stream was terminated. A mid-span failure leaves
// earlier chunks committed, so the caller retries only the remainder.
func (s *Source) scanSpan(
	ctx context.Context,
	stream *Stream[types.Log],
	f filter.Filter,
	from, upper uint64,
	seen *lru.Cache,
) (unscanned uint64, terminated bool) {
	unscanned = from
	for chunkFrom := from; chunkFrom <= upper; {
		chunkTo := chunkFrom + s.cfg.ChunkSize - 1
		if chunkTo > upper {
			chunkTo = upper
		}

		logs, chunkScannedTo, err := s.fetchRange(ctx, f, chunkFrom, chunkTo)
		if err != nil {
			if events.IsFatal(err) {
				stream.finish(err)
				return unscanned, true
			}
			PollTickFailedInc()
			stream.warn(err)
			return unscanned, false
		}

		for _, l := range logs {
			if !deliverable(l) {
				stream.warn(events.NewMalformedRecordError(
					fmt.Sprintf("record in block %d has no identity", l.BlockNumber), nil))
				continue
			}
			key := events.KeyOf(l)
			if seen.Contains(key) {
				DedupDroppedInc()
				continue
			}
			seen.Add(key, struct{}{})
			select {
			case stream.records <- l:
				RecordsDeliveredInc()
			case <-ctx.Done():
				stream.finish(nil)
				return unscanned, true
			}
		}

		unscanned = chunkScannedTo + 1
		chunkFrom = chunkScannedTo + 1
	}
	return unscanned, false
}

// fetchRange queries one block span, shrinking it when the node reports too
// many results. Returns the records and the upper bound actually scanned,
// which may be below the requested one.
func (s *Source) fetchRange(ctx context.Context, f filter.Filter, from, to uint64) ([]types.Log, uint64, error) {
	query := f.ToQuery(new(big.Int).SetUint64(from), new(big.Int).SetUint64(to))
	logs, err := s.client.GetLogs(ctx, query)
	if err == nil {
		return logs, to, nil
	}

	tooMany, errData := internalrpc.IsTooManyResultsError(err)
	if !tooMany {
		return nil, 0, err
	}

	// Prefer the node's suggested range when it volunteers one; otherwise
	// halve the span.
	if _, suggestedTo, ok := internalrpc.ParseSuggestedBlockRange(errData); ok && suggestedTo >= from && suggestedTo < to {
		s.log.Debugw("shrinking range per node suggestion",
			"from", from, "to", to, "suggestedTo", suggestedTo)
		RangeSplitInc()
		return s.fetchRange(ctx, f, from, suggestedTo)
	}

	if from == to {
		// Single block still too large; no narrower query exists.
		return nil, 0, events.NewProviderError("eth_getLogs", true,
			fmt.Errorf("block %d exceeds the node result limit: %w", from, err))
	}

	mid := from + (to-from)/2
	s.log.Debugw("halving range after result-limit error", "from", from, "to", to, "mid", mid)
	RangeSplitInc()
	return s.fetchRange(ctx, f, from, mid)
}

// PollHeads emits a header per new block by polling, for transports without
// push support. Skipped heights are not backfilled; each tick reports the
// current head only.
func (s *Source) PollHeads(ctx context.Context, interval time.Duration) (*Stream[*types.Header], error) {
	head, err := s.CurrentHead(ctx)
	if err != nil {
		return nil, err
	}

	stream := newStream[*types.Header]()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		last := head
		for {
			select {
			case <-ctx.Done():
				stream.finish(nil)
				return
			case <-ticker.C:
			}

			PollTickInc()
			header, err := s.client.HeaderByNumber(ctx, big.NewInt(gethrpc.LatestBlockNumber.Int64()))
			if err != nil {
				PollTickFailedInc()
				stream.warn(err)
				continue
			}
			if header == nil || header.Number.Uint64() <= last {
				continue
			}
			last = header.Number.Uint64()
			HeadBlockSet(last)
			select {
			case stream.records <- header:
			case <-ctx.Done():
				stream.finish(nil)
				return
			}
		}
	}()
	return stream, nil
}

// deliverable reports whether a record carries enough identity to key on.
func deliverable(l types.Log) bool {
	return l.TxHash != (common.Hash{}) && l.BlockHash != (common.Hash{})
}
