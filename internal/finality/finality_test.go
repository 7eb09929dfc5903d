package finality

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/ethergo-sdk/logstream/pkg/events"
)

func makeRecord(txSeed byte, logIndex uint) events.Record {
	return events.Record{
		BlockNumber: 100,
		BlockHash:   common.BytesToHash([]byte{0xB0}),
		TxHash:      common.BytesToHash([]byte{txSeed}),
		Index:       logIndex,
	}
}

func TestFilter_Apply_TerminalDeliveredOnce(t *testing.T) {
	f, err := New(0)
	require.NoError(t, err)

	rec := makeRecord(1, 0)

	require.True(t, f.Apply(events.Confirmed{Record: rec}))
	require.False(t, f.Apply(events.Confirmed{Record: rec}))
	require.False(t, f.Apply(events.Removed{Record: rec}))
	require.Equal(t, 1, f.SeenCount())
}

func TestFilter_Apply_RemovedThenConfirmedSuppressed(t *testing.T) {
	// Whichever terminal arrives first wins; a record that reappears under
	// a new block hash carries a fresh identity only if the transaction
	// itself changed, so the old key stays terminal.
	f, err := New(0)
	require.NoError(t, err)

	rec := makeRecord(2, 3)

	require.True(t, f.Apply(events.Removed{Record: rec}))
	require.False(t, f.Apply(events.Confirmed{Record: rec}))
}

func TestFilter_Apply_ProgressEventsPassThrough(t *testing.T) {
	f, err := New(0)
	require.NoError(t, err)

	rec := makeRecord(3, 0)

	// Pending and Reorganized never consume the identity key.
	require.True(t, f.Apply(events.Pending{Record: rec, Confirmations: 2}))
	require.True(t, f.Apply(events.Pending{Record: rec, Confirmations: 5}))
	require.True(t, f.Apply(events.Reorganized{BlockNumber: 100}))
	require.Equal(t, 0, f.SeenCount())

	// The terminal for the same record still goes through exactly once.
	require.True(t, f.Apply(events.Confirmed{Record: rec}))
	require.False(t, f.Apply(events.Confirmed{Record: rec}))
}

func TestFilter_Apply_DistinctRecordsIndependent(t *testing.T) {
	f, err := New(0)
	require.NoError(t, err)

	require.True(t, f.Apply(events.Confirmed{Record: makeRecord(1, 0)}))
	require.True(t, f.Apply(events.Confirmed{Record: makeRecord(1, 1)}))
	require.True(t, f.Apply(events.Confirmed{Record: makeRecord(2, 0)}))
	require.Equal(t, 3, f.SeenCount())
}

func TestIsTerminal(t *testing.T) {
	rec := makeRecord(1, 0)

	require.True(t, IsTerminal(events.Confirmed{Record: rec}))
	require.True(t, IsTerminal(events.Removed{Record: rec}))
	require.False(t, IsTerminal(events.Pending{Record: rec}))
	require.False(t, IsTerminal(events.Reorganized{BlockNumber: 1}))
}
