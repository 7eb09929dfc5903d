package events

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Record is a single log entry delivered by the remote node. The raw
// go-ethereum log type is used directly; the tracker never mutates a
// delivered record, it only builds derived copies.
type Record = types.Log

// RecordKey identifies a logical record for deduplication purposes.
// Two sightings of the same record under different block hashes (after a
// reorg) share the same RecordKey.
type RecordKey struct {
	TxHash   common.Hash
	LogIndex uint
}

// KeyOf returns the identity key of a record.
func KeyOf(r Record) RecordKey {
	return RecordKey{TxHash: r.TxHash, LogIndex: r.Index}
}

// CacheKey identifies a record sighting for reorg bookkeeping. Unlike
// RecordKey it is keyed by block hash, so the same logical record observed
// under two competing blocks yields two distinct cache keys.
type CacheKey struct {
	BlockHash common.Hash
	LogIndex  uint
}

// CacheKeyOf returns the reorg-bookkeeping key of a record.
func CacheKeyOf(r Record) CacheKey {
	return CacheKey{BlockHash: r.BlockHash, LogIndex: r.Index}
}

// BlockRef is a (number, hash) pair identifying one block.
type BlockRef struct {
	Number uint64
	Hash   common.Hash
}

// Event is the classification result for one processed record. It is a
// sealed sum type: exactly one of Pending, Confirmed, Removed or Reorganized.
type Event interface {
	event()
	fmt.Stringer
}

// Pending reports a record whose block has fewer confirmations than the
// configured depth.
type Pending struct {
	Record        Record
	Confirmations uint64
}

// Confirmed reports a record whose block has reached the confirmation depth.
type Confirmed struct {
	Record Record
}

// Removed reports a record retracted by the node or invalidated by a reorg.
type Removed struct {
	Record Record
}

// Reorganized reports a detected chain reorganization at BlockNumber.
// RemovedRecords are all previously cached records at or above that height,
// re-emitted with Removed set; NewRecords are the records observed under the
// replacement block.
type Reorganized struct {
	BlockNumber    uint64
	RemovedRecords []Record
	NewRecords     []Record
}

func (Pending) event()     {}
func (Confirmed) event()   {}
func (Removed) event()     {}
func (Reorganized) event() {}

func (e Pending) String() string {
	return fmt.Sprintf("pending(block=%d tx=%s idx=%d confirmations=%d)",
		e.Record.BlockNumber, e.Record.TxHash.Hex(), e.Record.Index, e.Confirmations)
}

func (e Confirmed) String() string {
	return fmt.Sprintf("confirmed(block=%d tx=%s idx=%d)",
		e.Record.BlockNumber, e.Record.TxHash.Hex(), e.Record.Index)
}

func (e Removed) String() string {
	return fmt.Sprintf("removed(block=%d tx=%s idx=%d)",
		e.Record.BlockNumber, e.Record.TxHash.Hex(), e.Record.Index)
}

func (e Reorganized) String() string {
	return fmt.Sprintf("reorganized(block=%d removed=%d new=%d)",
		e.BlockNumber, len(e.RemovedRecords), len(e.NewRecords))
}

// CacheStats is a snapshot of the tracker caches, used for introspection
// and tests.
type CacheStats struct {
	BlockHashCacheSize int
	LogCacheSize       int
	TotalRecords       int
}
