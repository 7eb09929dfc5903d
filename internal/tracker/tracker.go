// Package tracker classifies incoming records against cached chain state and
// detects reorganizations. A Tracker serves exactly one registration; its
// caches are bounded and start empty, so nothing survives a restart.
package tracker

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	internalcommon "github.com/ethergo-sdk/logstream/internal/common"
	"github.com/ethergo-sdk/logstream/internal/logger"
	"github.com/ethergo-sdk/logstream/internal/metrics"
	"github.com/ethergo-sdk/logstream/pkg/events"
)

const (
	// DefaultConfirmationDepth is the number of blocks built on top of a
	// record's block before the record is treated as final.
	DefaultConfirmationDepth = 12

	// DefaultMaxCacheSize bounds the block-hash cache.
	DefaultMaxCacheSize = 1000
)

// ChainReader is the subset of the record source the tracker needs for
// confirmation counting and validation sweeps.
type ChainReader interface {
	// CurrentHead returns the current head block number.
	CurrentHead(ctx context.Context) (uint64, error)

	// BlockAt returns the live (number, hash) pair for a block number.
	BlockAt(ctx context.Context, blockNum uint64) (events.BlockRef, error)
}

// Config contains the tracker tuning knobs.
type Config struct {
	// ConfirmationDepth is the finality threshold in blocks
	ConfirmationDepth uint64

	// MaxCacheSize bounds the block-hash cache; the log cache is kept in
	// lock-step with it
	MaxCacheSize int
}

// Tracker maintains a bounded blockNumber→blockHash cache and a
// blockHash→records cache, classifying every processed record as
// Pending, Confirmed, Removed or Reorganized.
//
// A single consumer loop is the intended driver; the mutex only exists so
// that introspection queries and validation sweeps issued from another
// goroutine observe a consistent cache.
type Tracker struct {
	mu    sync.Mutex
	chain ChainReader
	log   *logger.Logger

	confirmationDepth uint64
	maxCacheSize      int

	// hashCache and logCache are mutated only together: removing a block
	// number always removes the matching block-hash entry and its records.
	hashCache map[uint64]common.Hash
	logCache  map[common.Hash][]events.Record

	// blockNums mirrors hashCache's keys in ascending order so eviction
	// and reorg purges walk oldest-first without re-sorting.
	blockNums []uint64
}

// New creates a tracker. Zero config fields fall back to the defaults.
func New(chain ChainReader, cfg Config, log *logger.Logger) *Tracker {
	if cfg.ConfirmationDepth == 0 {
		cfg.ConfirmationDepth = DefaultConfirmationDepth
	}
	if cfg.MaxCacheSize == 0 {
		cfg.MaxCacheSize = DefaultMaxCacheSize
	}

	metrics.ComponentHealthSet(internalcommon.ComponentReorgTracker, true)

	return &Tracker{
		chain:             chain,
		log:               log.WithComponent("reorg-tracker"),
		confirmationDepth: cfg.ConfirmationDepth,
		maxCacheSize:      cfg.MaxCacheSize,
		hashCache:         make(map[uint64]common.Hash),
		logCache:          make(map[common.Hash][]events.Record),
	}
}

// Process classifies one incoming record and updates the caches.
//
// A record the source already marked removed passes straight through; the
// node resolved the retraction itself and the caches stay untouched. A block
// hash that disagrees with the cached hash for the same height is the one
// signal that detects a reorg the node never flagged, which is what makes
// poll-based sources safe to use.
func (t *Tracker) Process(ctx context.Context, rec events.Record) (events.Event, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rec.Removed {
		t.log.Debugf("source-flagged removal: block=%d tx=%s idx=%d",
			rec.BlockNumber, rec.TxHash.Hex(), rec.Index)
		return events.Removed{Record: rec}, nil
	}

	cachedHash, seen := t.hashCache[rec.BlockNumber]
	switch {
	case !seen:
		// First sighting of this block.
		t.insertLocked(rec)
	case cachedHash == rec.BlockHash:
		// Same block as before; append idempotently.
		t.appendRecordLocked(rec)
	default:
		// REORG: the chain replaced this height.
		ev := t.reorgLocked(rec.BlockNumber, cachedHash, []events.Record{rec})
		if err := t.checkInvariantsLocked(); err != nil {
			return nil, err
		}
		return ev, nil
	}

	if err := t.checkInvariantsLocked(); err != nil {
		return nil, err
	}

	return t.classifyLocked(ctx, rec)
}

// ValidateBlockRange re-fetches the live header for every cached block number
// in [from, to] and runs the regular reorg handling on any hash mismatch.
// This catches reorgs affecting blocks for which no new record has arrived
// since the rewrite.
func (t *Tracker) ValidateBlockRange(ctx context.Context, from, to uint64) ([]events.Event, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Snapshot the candidate heights; a reorg purge during the sweep
	// removes everything above the fork point.
	candidates := make([]uint64, 0)
	for _, num := range t.blockNums {
		if num >= from && num <= to {
			candidates = append(candidates, num)
		}
	}

	var evs []events.Event
	for _, num := range candidates {
		cachedHash, stillCached := t.hashCache[num]
		if !stillCached {
			continue
		}

		ref, err := t.chain.BlockAt(ctx, num)
		if err != nil {
			return evs, err
		}

		if ref.Hash != cachedHash {
			t.log.Warnf("validation sweep found stale block: block=%d cached_hash=%s current_hash=%s",
				num, cachedHash.Hex(), ref.Hash.Hex())
			evs = append(evs, t.reorgLocked(num, cachedHash, nil))
			if err := t.checkInvariantsLocked(); err != nil {
				return evs, err
			}
		}
	}

	return evs, nil
}

// ConfirmationsOf returns the number of blocks built on top of the record's
// block, clamped at zero. It does not mutate tracker state.
func (t *Tracker) ConfirmationsOf(ctx context.Context, rec events.Record) (uint64, error) {
	head, err := t.chain.CurrentHead(ctx)
	if err != nil {
		return 0, err
	}
	if head < rec.BlockNumber {
		return 0, nil
	}
	return head - rec.BlockNumber, nil
}

// IsFinal reports whether the record has reached the confirmation depth.
func (t *Tracker) IsFinal(ctx context.Context, rec events.Record) (bool, error) {
	confirmations, err := t.ConfirmationsOf(ctx, rec)
	if err != nil {
		return false, err
	}
	return confirmations >= t.confirmationDepth, nil
}

// GetCacheStats returns a consistent snapshot of the cache sizes.
func (t *Tracker) GetCacheStats() events.CacheStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	total := 0
	for _, recs := range t.logCache {
		total += len(recs)
	}
	return events.CacheStats{
		BlockHashCacheSize: len(t.hashCache),
		LogCacheSize:       len(t.logCache),
		TotalRecords:       total,
	}
}

// CachedRange returns the lowest and highest cached block numbers. ok is
// false while the caches are empty.
func (t *Tracker) CachedRange() (from, to uint64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.blockNums) == 0 {
		return 0, 0, false
	}
	return t.blockNums[0], t.blockNums[len(t.blockNums)-1], true
}

// classifyLocked computes confirmations for a freshly cached record.
func (t *Tracker) classifyLocked(ctx context.Context, rec events.Record) (events.Event, error) {
	head, err := t.chain.CurrentHead(ctx)
	if err != nil {
		return nil, err
	}

	var confirmations uint64
	if head >= rec.BlockNumber {
		confirmations = head - rec.BlockNumber
	}

	if confirmations >= t.confirmationDepth {
		return events.Confirmed{Record: rec}, nil
	}
	return events.Pending{Record: rec, Confirmations: confirmations}, nil
}

// insertLocked records a first sighting of a block and evicts down to the
// cache bound.
func (t *Tracker) insertLocked(rec events.Record) {
	t.hashCache[rec.BlockNumber] = rec.BlockHash
	idx := sort.Search(len(t.blockNums), func(i int) bool {
		return t.blockNums[i] >= rec.BlockNumber
	})
	t.blockNums = append(t.blockNums, 0)
	copy(t.blockNums[idx+1:], t.blockNums[idx:])
	t.blockNums[idx] = rec.BlockNumber

	t.appendRecordLocked(rec)
	t.evictIfNeededLocked()
	CacheSizeSet(len(t.hashCache))
}

// appendRecordLocked adds the record to the log cache unless a sighting with
// the same (blockHash, logIndex) key is already present.
func (t *Tracker) appendRecordLocked(rec events.Record) {
	key := events.CacheKeyOf(rec)
	for _, existing := range t.logCache[rec.BlockHash] {
		if events.CacheKeyOf(existing) == key {
			return
		}
	}
	t.logCache[rec.BlockHash] = append(t.logCache[rec.BlockHash], rec)
}

// reorgLocked purges every cached height at or above blockNumber, re-emitting
// its records as removed, then installs the replacement records. Capacity is
// authoritative for the caches: the purge-and-reinsert runs as one unit so no
// partial state is ever observable.
func (t *Tracker) reorgLocked(blockNumber uint64, staleHash common.Hash, newRecords []events.Record) events.Reorganized {
	idx := sort.Search(len(t.blockNums), func(i int) bool {
		return t.blockNums[i] >= blockNumber
	})

	var removed []events.Record
	purged := t.blockNums[idx:]
	for _, num := range purged {
		hash := t.hashCache[num]
		for _, rec := range t.logCache[hash] {
			rec.Removed = true
			removed = append(removed, rec)
		}
		delete(t.hashCache, num)
		delete(t.logCache, hash)
	}
	t.blockNums = t.blockNums[:idx]

	t.log.Warnf("reorg detected: block=%d stale_hash=%s purged_blocks=%d removed_records=%d",
		blockNumber, staleHash.Hex(), len(purged), len(removed))
	ReorgDetected(uint64(len(purged)), blockNumber)

	for _, rec := range newRecords {
		t.insertLocked(rec)
	}
	CacheSizeSet(len(t.hashCache))

	return events.Reorganized{
		BlockNumber:    blockNumber,
		RemovedRecords: removed,
		NewRecords:     newRecords,
	}
}

// evictIfNeededLocked removes the numerically smallest block numbers, and
// their log-cache entries in the same step, until the cache fits its bound.
func (t *Tracker) evictIfNeededLocked() {
	for len(t.hashCache) > t.maxCacheSize && len(t.blockNums) > 0 {
		oldest := t.blockNums[0]
		hash := t.hashCache[oldest]
		delete(t.hashCache, oldest)
		delete(t.logCache, hash)
		t.blockNums = t.blockNums[1:]
		EvictionInc()

		t.log.Debugf("evicted oldest cached block: block=%d remaining=%d",
			oldest, len(t.hashCache))
	}
}

// invariantViolation flags the tracker unhealthy and builds the fatal error.
func (t *Tracker) invariantViolation(format string, args ...any) error {
	metrics.ComponentHealthSet(internalcommon.ComponentReorgTracker, false)
	return events.NewCacheInvariantError(format, args...)
}

// checkInvariantsLocked verifies the cache bound and lock-step invariants.
// A violation is a bug, fatal for this tracker.
func (t *Tracker) checkInvariantsLocked() error {
	if len(t.hashCache) > t.maxCacheSize {
		return t.invariantViolation("block hash cache size %d exceeds bound %d",
			len(t.hashCache), t.maxCacheSize)
	}
	if len(t.hashCache) != len(t.blockNums) {
		return t.invariantViolation("block number index size %d does not match hash cache size %d",
			len(t.blockNums), len(t.hashCache))
	}
	if len(t.logCache) != len(t.hashCache) {
		return t.invariantViolation("log cache size %d out of lock-step with hash cache size %d",
			len(t.logCache), len(t.hashCache))
	}
	for _, num := range t.blockNums {
		hash, ok := t.hashCache[num]
		if !ok {
			return t.invariantViolation("block %d indexed but missing from hash cache", num)
		}
		if _, ok := t.logCache[hash]; !ok {
			return t.invariantViolation("block %d hash %s missing from log cache", num, hash.Hex())
		}
	}
	return nil
}

// String describes the tracker for debug logging.
func (t *Tracker) String() string {
	stats := t.GetCacheStats()
	return fmt.Sprintf("tracker(depth=%d blocks=%d records=%d)",
		t.confirmationDepth, stats.BlockHashCacheSize, stats.TotalRecords)
}
