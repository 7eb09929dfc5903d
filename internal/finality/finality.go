// Package finality collapses the tracker's noisy event sequence into one
// terminal notification per logical record.
package finality

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/ethergo-sdk/logstream/pkg/events"
)

// DefaultSeenCacheSize bounds the delivered-terminal identity window.
const DefaultSeenCacheSize = 8192

// Filter suppresses repeated terminal notifications for the same record
// identity. One Filter serves exactly one (filter, tracker) pair: identity
// keys are only unique within a single subscription's record universe.
type Filter struct {
	seen *lru.Cache
}

// New creates a confirmation filter. size bounds the remembered identity
// keys; zero falls back to the default.
func New(size int) (*Filter, error) {
	if size <= 0 {
		size = DefaultSeenCacheSize
	}
	seen, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Filter{seen: seen}, nil
}

// Apply decides whether ev should be delivered. Confirmed and Removed are
// terminal: the first one per identity key passes, later ones are
// suppressed. Pending and Reorganized always pass so callers can observe
// progress.
func (f *Filter) Apply(ev events.Event) bool {
	switch e := ev.(type) {
	case events.Confirmed:
		return f.markTerminal(events.KeyOf(e.Record))
	case events.Removed:
		return f.markTerminal(events.KeyOf(e.Record))
	default:
		return true
	}
}

// IsTerminal reports whether ev is a terminal notification (Confirmed or
// Removed), as opposed to a progress event.
func IsTerminal(ev events.Event) bool {
	switch ev.(type) {
	case events.Confirmed, events.Removed:
		return true
	default:
		return false
	}
}

// SeenCount returns the number of remembered identity keys.
func (f *Filter) SeenCount() int {
	return f.seen.Len()
}

func (f *Filter) markTerminal(key events.RecordKey) bool {
	if f.seen.Contains(key) {
		return false
	}
	f.seen.Add(key, struct{}{})
	return true
}
