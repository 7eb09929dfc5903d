// Package listener is the public entry point: it owns the set of active
// (filter, callback) registrations, picks push or poll per registration,
// and drives each one through its own reorg tracker and confirmation
// filter on a dedicated goroutine.
package listener

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/lo"

	internalcommon "github.com/ethergo-sdk/logstream/internal/common"
	"github.com/ethergo-sdk/logstream/internal/finality"
	"github.com/ethergo-sdk/logstream/internal/logger"
	"github.com/ethergo-sdk/logstream/internal/metrics"
	"github.com/ethergo-sdk/logstream/internal/source"
	"github.com/ethergo-sdk/logstream/internal/tracker"
	"github.com/ethergo-sdk/logstream/pkg/config"
	"github.com/ethergo-sdk/logstream/pkg/events"
	"github.com/ethergo-sdk/logstream/pkg/filter"
)

// ErrRegistryClosed is returned by Register* after Dispose.
var ErrRegistryClosed = errors.New("listener registry is disposed")

// Handle identifies one active registration. Handles are ULIDs, so rapid
// concurrent registration never collides.
type Handle string

// Callback receives each classified event of one registration, in order.
// It runs on the registration's goroutine; a slow callback slows only its
// own registration.
type Callback func(events.Event)

// ErrorCallback receives the single terminal error of a registration, or a
// non-fatal warning, depending on which option it was installed under.
type ErrorCallback func(Handle, error)

// Mode picks the delivery strategy for one registration.
type Mode int

const (
	// ModeAuto follows the configured prefer-push default.
	ModeAuto Mode = iota
	// ModePush requests a push subscription, falling back to polling when
	// the transport cannot hold one.
	ModePush
	// ModePoll forces poll mode.
	ModePoll
)

// Options tune one registration. The zero value follows the registry
// configuration.
type Options struct {
	// Mode picks push or poll; ModeAuto follows the registry default
	Mode Mode

	// PollInterval overrides the configured tick interval (poll mode)
	PollInterval time.Duration

	// FinalOnly suppresses Pending and Reorganized events, delivering only
	// the one terminal Confirmed or Removed per record
	FinalOnly bool

	// OnError receives the registration's terminal error, at most once
	OnError ErrorCallback

	// OnWarning receives non-fatal transient errors
	OnWarning ErrorCallback
}

// sweepFactor spaces validation sweeps relative to the poll interval.
const sweepFactor = 10

type registration struct {
	handle Handle
	mode   string
	cancel context.CancelFunc
	done   chan struct{}

	errOnce sync.Once
}

// Registry multiplexes many concurrent registrations over one record
// source. Each registration gets its own tracker and confirmation filter;
// registrations never share mutable state.
type Registry struct {
	src *source.Source
	cfg config.WatcherConfig
	log *logger.Logger

	mu       sync.Mutex
	regs     map[Handle]*registration
	disposed bool
}

// New creates a registry over src. cfg should have had ApplyDefaults run.
func New(src *source.Source, cfg config.WatcherConfig, log *logger.Logger) *Registry {
	metrics.ComponentHealthSet(internalcommon.ComponentListener, true)
	return &Registry{
		src:  src,
		cfg:  cfg,
		log:  log.WithComponent("listener-registry"),
		regs: make(map[Handle]*registration),
	}
}

// Register starts a registration for f, delivering classified events to cb
// until the registration is canceled or hits a terminal error.
func (r *Registry) Register(f filter.Filter, cb Callback, opts Options) (Handle, error) {
	usePush := r.wantPush(opts.Mode)

	interval := opts.PollInterval
	if interval <= 0 {
		interval = r.cfg.PollInterval.Duration
	}

	fin, err := finality.New(r.cfg.DedupCacheSize)
	if err != nil {
		return "", err
	}

	reg, ctx, err := r.admit(usePush)
	if err != nil {
		return "", err
	}

	var stream *source.Stream[events.Record]
	if usePush {
		stream, err = r.src.Subscribe(ctx, f)
	} else {
		stream, err = r.src.Poll(ctx, f, interval)
	}
	if err != nil {
		r.discard(reg)
		return "", err
	}

	trk := tracker.New(r.src, tracker.Config{
		ConfirmationDepth: r.cfg.ConfirmationDepth,
		MaxCacheSize:      r.cfg.MaxCacheSize,
	}, r.log.WithHandle(string(reg.handle)))

	r.log.Infow("registration started",
		"handle", reg.handle, "mode", reg.mode, "filter", f.Key())

	go r.run(ctx, reg, stream, trk, fin, cb, opts, interval)
	return reg.handle, nil
}

// wantPush resolves a mode hint against the configured default and the
// transport's capability.
func (r *Registry) wantPush(m Mode) bool {
	switch m {
	case ModePush:
		return r.src.SupportsPush()
	case ModePoll:
		return false
	default:
		return r.cfg.PreferPush && r.src.SupportsPush()
	}
}

// admit allocates a handle and its bookkeeping under the registry lock.
func (r *Registry) admit(usePush bool) (*registration, context.Context, error) {
	mode := "poll"
	if usePush {
		mode = "push"
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed {
		return nil, nil, ErrRegistryClosed
	}

	ctx, cancel := context.WithCancel(context.Background())
	reg := &registration{
		handle: Handle(ulid.Make().String()),
		mode:   mode,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.regs[reg.handle] = reg
	ActiveRegistrationsSet(len(r.regs))
	return reg, ctx, nil
}

// discard rolls back a registration whose stream never started.
func (r *Registry) discard(reg *registration) {
	reg.cancel()
	close(reg.done)
	r.mu.Lock()
	delete(r.regs, reg.handle)
	ActiveRegistrationsSet(len(r.regs))
	r.mu.Unlock()
}

// run is the per-registration consumer loop: stream to tracker to
// confirmation filter to callback. Poll-mode registrations also run a
// periodic validation sweep over the cached block range to catch reorgs
// between matching records.
func (r *Registry) run(
	ctx context.Context,
	reg *registration,
	stream *source.Stream[events.Record],
	trk *tracker.Tracker,
	fin *finality.Filter,
	cb Callback,
	opts Options,
	interval time.Duration,
) {
	defer r.retire(reg)

	var sweep <-chan time.Time
	if reg.mode == "poll" {
		t := time.NewTicker(interval * sweepFactor)
		defer t.Stop()
		sweep = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return

		case err := <-stream.Warnings():
			r.warn(reg, opts, err)

		case <-sweep:
			from, to, ok := trk.CachedRange()
			if !ok {
				continue
			}
			evs, err := trk.ValidateBlockRange(ctx, from, to)
			if err != nil {
				if events.IsFatal(err) {
					r.fail(reg, opts, err)
					return
				}
				r.warn(reg, opts, err)
				continue
			}
			for _, ev := range evs {
				r.deliver(fin, cb, opts, ev)
			}

		case rec, ok := <-stream.Records():
			if !ok {
				// Stream ended; surface its terminal error, if any.
				if err := <-stream.Done(); err != nil {
					r.fail(reg, opts, err)
				}
				return
			}
			ev, err := trk.Process(ctx, rec)
			if err != nil {
				if events.IsFatal(err) {
					r.fail(reg, opts, err)
					return
				}
				r.warn(reg, opts, err)
				continue
			}
			r.deliver(fin, cb, opts, ev)
		}
	}
}

func (r *Registry) deliver(fin *finality.Filter, cb Callback, opts Options, ev events.Event) {
	if !fin.Apply(ev) {
		return
	}
	if opts.FinalOnly && !finality.IsTerminal(ev) {
		return
	}
	EventDeliveredInc(kindOf(ev))
	cb(ev)
}

// fail marks the registration dead and delivers its terminal error once.
func (r *Registry) fail(reg *registration, opts Options, err error) {
	reg.errOnce.Do(func() {
		r.log.Errorw("registration terminated",
			"handle", reg.handle, "mode", reg.mode, "err", err)
		TerminalErrorInc()
		metrics.ErrorInc(internalcommon.ComponentListener, "fatal")
		if opts.OnError != nil {
			opts.OnError(reg.handle, err)
		}
	})
}

func (r *Registry) warn(reg *registration, opts Options, err error) {
	r.log.Warnw("transient registration error",
		"handle", reg.handle, "mode", reg.mode, "err", err)
	metrics.ErrorInc(internalcommon.ComponentListener, "transient")
	if opts.OnWarning != nil {
		opts.OnWarning(reg.handle, err)
	}
}

// retire removes a finished registration from the bookkeeping.
func (r *Registry) retire(reg *registration) {
	reg.cancel()
	r.mu.Lock()
	delete(r.regs, reg.handle)
	ActiveRegistrationsSet(len(r.regs))
	r.mu.Unlock()
	close(reg.done)
}

// Cancel stops a registration. Canceling an unknown or already-canceled
// handle is a no-op. An in-flight tick completes; its results are dropped.
func (r *Registry) Cancel(handle Handle) {
	r.mu.Lock()
	reg, ok := r.regs[handle]
	r.mu.Unlock()
	if !ok {
		return
	}
	reg.cancel()
	<-reg.done
	r.log.Infow("registration canceled", "handle", handle)
}

// CancelAll cancels every active registration and waits for their loops to
// exit.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	regs := lo.Values(r.regs)
	r.mu.Unlock()

	for _, reg := range regs {
		reg.cancel()
	}
	for _, reg := range regs {
		<-reg.done
	}
}

// Dispose cancels everything and releases the underlying connection. The
// registry accepts no further registrations afterwards.
func (r *Registry) Dispose() {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return
	}
	r.disposed = true
	r.mu.Unlock()

	r.CancelAll()
	r.src.Close()
	metrics.ComponentHealthSet(internalcommon.ComponentListener, false)
	r.log.Infow("registry disposed")
}

// ActiveCount returns the number of active registrations.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.regs)
}

// ActiveHandles returns the active handles in lexical order.
func (r *Registry) ActiveHandles() []Handle {
	r.mu.Lock()
	handles := lo.Keys(r.regs)
	r.mu.Unlock()

	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	return handles
}

// IsActive reports whether handle names a live registration.
func (r *Registry) IsActive(handle Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.regs[handle]
	return ok
}

func kindOf(ev events.Event) string {
	switch ev.(type) {
	case events.Pending:
		return "pending"
	case events.Confirmed:
		return "confirmed"
	case events.Removed:
		return "removed"
	case events.Reorganized:
		return "reorganized"
	default:
		return "unknown"
	}
}
