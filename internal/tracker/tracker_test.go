package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/ethergo-sdk/logstream/internal/logger"
	"github.com/ethergo-sdk/logstream/pkg/events"
)

// fakeChain is a hand-rolled ChainReader with a settable head and per-block
// hashes.
type fakeChain struct {
	mu     sync.Mutex
	head   uint64
	hashes map[uint64]common.Hash

	headErr  error
	blockErr error
}

func newFakeChain(head uint64) *fakeChain {
	return &fakeChain{head: head, hashes: make(map[uint64]common.Hash)}
}

func (c *fakeChain) CurrentHead(_ context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.headErr != nil {
		return 0, c.headErr
	}
	return c.head, nil
}

func (c *fakeChain) BlockAt(_ context.Context, blockNum uint64) (events.BlockRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.blockErr != nil {
		return events.BlockRef{}, c.blockErr
	}
	hash, ok := c.hashes[blockNum]
	if !ok {
		hash = hashFor(blockNum)
	}
	return events.BlockRef{Number: blockNum, Hash: hash}, nil
}

func (c *fakeChain) setHead(head uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head = head
}

func (c *fakeChain) setHash(blockNum uint64, hash common.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hashes[blockNum] = hash
}

func hashFor(blockNum uint64) common.Hash {
	return common.BytesToHash([]byte{0xF0, byte(blockNum)})
}

func setupTracker(t *testing.T, head uint64, cfg Config) (*Tracker, *fakeChain) {
	t.Helper()

	chain := newFakeChain(head)
	trk := New(chain, cfg, logger.NewNopLogger())
	return trk, chain
}

func makeRecord(blockNum uint64, blockHash common.Hash, txSeed byte, logIndex uint) events.Record {
	return events.Record{
		Address:     common.HexToAddress("0x1111111111111111111111111111111111111111"),
		BlockNumber: blockNum,
		BlockHash:   blockHash,
		TxHash:      common.BytesToHash([]byte{txSeed}),
		Index:       logIndex,
	}
}

func TestTracker_New_Defaults(t *testing.T) {
	trk, _ := setupTracker(t, 0, Config{})

	require.Equal(t, uint64(DefaultConfirmationDepth), trk.confirmationDepth)
	require.Equal(t, DefaultMaxCacheSize, trk.maxCacheSize)
}

func TestTracker_Process_FirstRecordIsPending(t *testing.T) {
	// Head 100, record at 95, depth 12: five confirmations, pending.
	trk, _ := setupTracker(t, 100, Config{ConfirmationDepth: 12})

	rec := makeRecord(95, hashFor(95), 1, 0)
	ev, err := trk.Process(context.Background(), rec)
	require.NoError(t, err)

	pending, ok := ev.(events.Pending)
	require.True(t, ok, "expected Pending, got %T", ev)
	require.Equal(t, uint64(5), pending.Confirmations)
	require.Equal(t, rec.TxHash, pending.Record.TxHash)
}

func TestTracker_Process_ConfirmedAfterHeadAdvances(t *testing.T) {
	trk, chain := setupTracker(t, 100, Config{ConfirmationDepth: 12})

	rec := makeRecord(95, hashFor(95), 1, 0)
	_, err := trk.Process(context.Background(), rec)
	require.NoError(t, err)

	chain.setHead(110)

	sibling := makeRecord(95, hashFor(95), 2, 1)
	ev, err := trk.Process(context.Background(), sibling)
	require.NoError(t, err)

	confirmed, ok := ev.(events.Confirmed)
	require.True(t, ok, "expected Confirmed, got %T", ev)
	require.Equal(t, sibling.TxHash, confirmed.Record.TxHash)
}

func TestTracker_Process_HashMismatchEmitsReorganized(t *testing.T) {
	trk, _ := setupTracker(t, 100, Config{})

	staleHash := common.HexToHash("0xAAA")
	newHash := common.HexToHash("0xBBB")

	stale := makeRecord(50, staleHash, 1, 0)
	_, err := trk.Process(context.Background(), stale)
	require.NoError(t, err)

	replacement := makeRecord(50, newHash, 2, 0)
	ev, err := trk.Process(context.Background(), replacement)
	require.NoError(t, err)

	reorg, ok := ev.(events.Reorganized)
	require.True(t, ok, "expected Reorganized, got %T", ev)
	require.Equal(t, uint64(50), reorg.BlockNumber)
	require.Len(t, reorg.RemovedRecords, 1)
	require.True(t, reorg.RemovedRecords[0].Removed)
	require.Equal(t, stale.TxHash, reorg.RemovedRecords[0].TxHash)
	require.Len(t, reorg.NewRecords, 1)
	require.Equal(t, replacement.TxHash, reorg.NewRecords[0].TxHash)

	// The replacement hash is now the cached one.
	trk.mu.Lock()
	require.Equal(t, newHash, trk.hashCache[50])
	trk.mu.Unlock()
}

func TestTracker_Process_ReorgPurgesEverythingAboveForkPoint(t *testing.T) {
	trk, _ := setupTracker(t, 100, Config{})
	ctx := context.Background()

	// Two records in block 50 plus one each in 51 and 52.
	_, err := trk.Process(ctx, makeRecord(50, common.HexToHash("0xAAA"), 1, 0))
	require.NoError(t, err)
	_, err = trk.Process(ctx, makeRecord(50, common.HexToHash("0xAAA"), 2, 1))
	require.NoError(t, err)
	_, err = trk.Process(ctx, makeRecord(51, hashFor(51), 3, 0))
	require.NoError(t, err)
	_, err = trk.Process(ctx, makeRecord(52, hashFor(52), 4, 0))
	require.NoError(t, err)

	ev, err := trk.Process(ctx, makeRecord(50, common.HexToHash("0xBBB"), 5, 0))
	require.NoError(t, err)

	reorg, ok := ev.(events.Reorganized)
	require.True(t, ok)

	// Every record cached at or above the fork point comes back exactly
	// once, flagged removed.
	require.Len(t, reorg.RemovedRecords, 4)
	for _, rec := range reorg.RemovedRecords {
		require.True(t, rec.Removed)
	}

	// Only the replacement block survives.
	stats := trk.GetCacheStats()
	require.Equal(t, 1, stats.BlockHashCacheSize)
	require.Equal(t, 1, stats.TotalRecords)

	from, to, ok := trk.CachedRange()
	require.True(t, ok)
	require.Equal(t, uint64(50), from)
	require.Equal(t, uint64(50), to)
}

func TestTracker_Process_EvictsOldestFirst(t *testing.T) {
	trk, _ := setupTracker(t, 100, Config{MaxCacheSize: 3})
	ctx := context.Background()

	for blockNum := uint64(1); blockNum <= 4; blockNum++ {
		_, err := trk.Process(ctx, makeRecord(blockNum, hashFor(blockNum), byte(blockNum), 0))
		require.NoError(t, err)
	}

	stats := trk.GetCacheStats()
	require.Equal(t, 3, stats.BlockHashCacheSize)

	// Block 1 was evicted; 2..4 remain.
	from, to, ok := trk.CachedRange()
	require.True(t, ok)
	require.Equal(t, uint64(2), from)
	require.Equal(t, uint64(4), to)
}

func TestTracker_Process_BoundedCacheKeepsLargestBlocks(t *testing.T) {
	trk, _ := setupTracker(t, 1000, Config{MaxCacheSize: 4})
	ctx := context.Background()

	for blockNum := uint64(1); blockNum <= 10; blockNum++ {
		_, err := trk.Process(ctx, makeRecord(blockNum, hashFor(blockNum), byte(blockNum), 0))
		require.NoError(t, err)

		stats := trk.GetCacheStats()
		require.LessOrEqual(t, stats.BlockHashCacheSize, 4)
	}

	// The survivors are exactly the four numerically largest heights.
	from, to, ok := trk.CachedRange()
	require.True(t, ok)
	require.Equal(t, uint64(7), from)
	require.Equal(t, uint64(10), to)
	require.Equal(t, 4, trk.GetCacheStats().BlockHashCacheSize)
}

func TestTracker_Process_SourceFlaggedRemovalBypassesCaches(t *testing.T) {
	trk, _ := setupTracker(t, 100, Config{})
	ctx := context.Background()

	_, err := trk.Process(ctx, makeRecord(90, hashFor(90), 1, 0))
	require.NoError(t, err)
	before := trk.GetCacheStats()

	removed := makeRecord(91, hashFor(91), 2, 0)
	removed.Removed = true
	ev, err := trk.Process(ctx, removed)
	require.NoError(t, err)

	_, ok := ev.(events.Removed)
	require.True(t, ok, "expected Removed, got %T", ev)
	require.Equal(t, before, trk.GetCacheStats())
}

func TestTracker_Process_DuplicateSightingIsIdempotent(t *testing.T) {
	trk, _ := setupTracker(t, 100, Config{})
	ctx := context.Background()

	rec := makeRecord(90, hashFor(90), 1, 0)
	_, err := trk.Process(ctx, rec)
	require.NoError(t, err)
	_, err = trk.Process(ctx, rec)
	require.NoError(t, err)

	require.Equal(t, 1, trk.GetCacheStats().TotalRecords)
}

func TestTracker_Process_HeadErrorPropagates(t *testing.T) {
	trk, chain := setupTracker(t, 100, Config{})
	chain.headErr = errors.New("node unavailable")

	_, err := trk.Process(context.Background(), makeRecord(90, hashFor(90), 1, 0))
	require.Error(t, err)
}

func TestTracker_ConfirmationsOf_MonotonicAsHeadAdvances(t *testing.T) {
	trk, chain := setupTracker(t, 100, Config{})
	ctx := context.Background()

	rec := makeRecord(95, hashFor(95), 1, 0)
	prev := uint64(0)
	for _, head := range []uint64{100, 101, 105, 120, 120, 200} {
		chain.setHead(head)
		confirmations, err := trk.ConfirmationsOf(ctx, rec)
		require.NoError(t, err)
		require.GreaterOrEqual(t, confirmations, prev)
		prev = confirmations
	}
}

func TestTracker_ConfirmationsOf_ClampsWhenHeadBehind(t *testing.T) {
	trk, _ := setupTracker(t, 90, Config{})

	confirmations, err := trk.ConfirmationsOf(context.Background(), makeRecord(95, hashFor(95), 1, 0))
	require.NoError(t, err)
	require.Equal(t, uint64(0), confirmations)
}

func TestTracker_IsFinal(t *testing.T) {
	trk, chain := setupTracker(t, 100, Config{ConfirmationDepth: 12})
	ctx := context.Background()
	rec := makeRecord(95, hashFor(95), 1, 0)

	final, err := trk.IsFinal(ctx, rec)
	require.NoError(t, err)
	require.False(t, final)

	chain.setHead(107)
	final, err = trk.IsFinal(ctx, rec)
	require.NoError(t, err)
	require.True(t, final)
}

func TestTracker_ValidateBlockRange_DetectsSilentRewrite(t *testing.T) {
	trk, chain := setupTracker(t, 100, Config{})
	ctx := context.Background()

	for blockNum := uint64(50); blockNum <= 52; blockNum++ {
		chain.setHash(blockNum, hashFor(blockNum))
		_, err := trk.Process(ctx, makeRecord(blockNum, hashFor(blockNum), byte(blockNum), 0))
		require.NoError(t, err)
	}

	// The node rewrote block 51 without delivering any new record.
	chain.setHash(51, common.HexToHash("0xDEAD"))

	evs, err := trk.ValidateBlockRange(ctx, 50, 52)
	require.NoError(t, err)
	require.Len(t, evs, 1)

	reorg, ok := evs[0].(events.Reorganized)
	require.True(t, ok)
	require.Equal(t, uint64(51), reorg.BlockNumber)
	require.Len(t, reorg.RemovedRecords, 2)
	require.Empty(t, reorg.NewRecords)

	// 51 and 52 are purged; 50 survives.
	from, to, ok := trk.CachedRange()
	require.True(t, ok)
	require.Equal(t, uint64(50), from)
	require.Equal(t, uint64(50), to)
}

func TestTracker_ValidateBlockRange_CleanCacheEmitsNothing(t *testing.T) {
	trk, chain := setupTracker(t, 100, Config{})
	ctx := context.Background()

	chain.setHash(60, hashFor(60))
	_, err := trk.Process(ctx, makeRecord(60, hashFor(60), 1, 0))
	require.NoError(t, err)

	evs, err := trk.ValidateBlockRange(ctx, 0, 100)
	require.NoError(t, err)
	require.Empty(t, evs)
}

func TestTracker_GetCacheStats(t *testing.T) {
	trk, _ := setupTracker(t, 100, Config{})
	ctx := context.Background()

	_, err := trk.Process(ctx, makeRecord(90, hashFor(90), 1, 0))
	require.NoError(t, err)
	_, err = trk.Process(ctx, makeRecord(90, hashFor(90), 2, 1))
	require.NoError(t, err)
	_, err = trk.Process(ctx, makeRecord(91, hashFor(91), 3, 0))
	require.NoError(t, err)

	stats := trk.GetCacheStats()
	require.Equal(t, 2, stats.BlockHashCacheSize)
	require.Equal(t, 2, stats.LogCacheSize)
	require.Equal(t, 3, stats.TotalRecords)
}
