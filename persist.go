package arbor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
)

// DefaultDebounce is the default quiet period before a write-back.
const DefaultDebounce = 250 * time.Millisecond

// ArrayFactory materializes one array child from one restored item. Array
// children may be composites of caller-defined shape, so arrays cannot be
// resized generically during restore; a factory per array path is
// required whenever restore must grow an array.
type ArrayFactory func(item any) Control

// Persistence synchronizes a control tree with a Store: it restores any
// previously stored value first, then continuously writes subsequent
// value changes back, debounced.
//
// The ordering invariant is strict: no write-back occurs before restore
// has settled, even when the store's read is slow, so a default tree
// value can never overwrite previously persisted state.
type Persistence struct {
	root            Control
	store           Store
	key             string
	debounce        time.Duration
	clock           clockz.Clock
	codec           Codec
	includeDisabled bool
	factories       map[string]ArrayFactory
	metrics         MetricsProvider
	onStop          func(State)

	state        atomic.Int32
	lastError    atomic.Pointer[error]
	errorHistory *errorRing
	errs         chan error

	mu      sync.Mutex
	started bool
}

// Persist creates a Persistence for the tree rooted at root against the
// given store and key. Configure with the chainable methods, then call
// Start.
//
// Example:
//
//	p := arbor.Persist(form, store, "form:signup").
//	    Debounce(500 * time.Millisecond).
//	    ArrayFactory("phones", newPhoneControl)
//	if err := p.Start(ctx); err != nil {
//	    log.Printf("restore failed: %v", err)
//	}
func Persist(root Control, store Store, key string) *Persistence {
	p := &Persistence{
		root:      root,
		store:     store,
		key:       key,
		debounce:  DefaultDebounce,
		clock:     clockz.RealClock,
		codec:     JSONCodec{},
		factories: make(map[string]ArrayFactory),
		errs:      make(chan error, 16),
	}
	p.state.Store(int32(StateRestoring))
	return p
}

// -----------------------------------------------------------------------------
// Chainable Instance Configuration
// -----------------------------------------------------------------------------

// Debounce sets the quiet period for write-back. Value changes within
// this window are coalesced into a single write holding the most recent
// value. Default: 250ms. Must be called before Start().
func (p *Persistence) Debounce(d time.Duration) *Persistence {
	p.debounce = d
	return p
}

// Clock sets a custom clock for time operations.
// Use this with clockz.FakeClock for deterministic debounce testing.
// Must be called before Start().
func (p *Persistence) Clock(clock clockz.Clock) *Persistence {
	p.clock = clock
	return p
}

// Codec sets the codec for serializing the tree value.
// Default: JSONCodec. Must be called before Start().
func (p *Persistence) Codec(codec Codec) *Persistence {
	p.codec = codec
	return p
}

// IncludeDisabled includes disabled controls' values in what gets written
// back. By default the written payload excludes disabled controls, the
// same way Value excludes them. Must be called before Start().
func (p *Persistence) IncludeDisabled() *Persistence {
	p.includeDisabled = true
	return p
}

// ArrayFactory registers the factory used to materialize children of the
// array at path during restore. Paths are dotted group names relative to
// the persisted root ("contacts.phones"); array indexes are not part of
// the path. Must be called before Start().
func (p *Persistence) ArrayFactory(path string, fn ArrayFactory) *Persistence {
	p.factories[path] = fn
	return p
}

// Metrics sets a metrics provider for observability integration.
// Must be called before Start().
func (p *Persistence) Metrics(provider MetricsProvider) *Persistence {
	p.metrics = provider
	return p
}

// OnStop sets a callback invoked when the synchronizer stops watching.
// Must be called before Start().
func (p *Persistence) OnStop(fn func(State)) *Persistence {
	p.onStop = fn
	return p
}

// ErrorHistorySize sets the number of recent store errors to retain.
// Use 0 (default) to only retain the most recent error via LastError().
// Must be called before Start().
func (p *Persistence) ErrorHistorySize(n int) *Persistence {
	p.errorHistory = newErrorRing(n)
	return p
}

// State returns the current state of the synchronizer.
func (p *Persistence) State() State {
	return State(p.state.Load())
}

// LastError returns the last store error encountered, or nil.
func (p *Persistence) LastError() error {
	ptr := p.lastError.Load()
	if ptr == nil {
		return nil
	}
	return *ptr
}

// ErrorHistory returns the recent error history, oldest first.
// Returns nil if error history is not enabled (see ErrorHistorySize).
func (p *Persistence) ErrorHistory() []error {
	return p.errorHistory.all()
}

// Errors returns a channel carrying store errors as they occur. This
// layer never retries; whoever observes this channel decides whether a
// failed write matters. When nobody drains it, old errors are dropped.
func (p *Persistence) Errors() <-chan error {
	return p.errs
}

// Start restores stored state onto the tree, then begins the write-back
// stream. It blocks until restore settles (success, failure, or nothing
// stored) and returns any restore error; a failed restore leaves the tree
// at its constructed value and does not prevent write-back from starting.
//
// Canceling ctx stops the synchronizer. A debounce window in flight at
// cancellation is abandoned, not flushed: the last edit inside that
// window is lost. This is the documented teardown trade-off.
//
// Start can only be called once. Subsequent calls return an error.
func (p *Persistence) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("persistence already started")
	}
	p.started = true
	p.mu.Unlock()

	capitan.Emit(ctx, PersistStarted,
		KeyStorageKey.Field(p.key),
		KeyDebounce.Field(p.debounce),
	)

	restoreErr := p.restore(ctx)

	// Subscribe only after restore settled. The subscription replays the
	// current value; discard it so only real edits trigger writes.
	changes := p.root.ValueChanges(ctx)
	<-changes

	go p.watch(ctx, changes)

	return restoreErr
}

// restore reads, decodes, and applies stored state. Arrays along the
// restored data are resized through the registered factories first, then
// the value is patched in without emitting change notifications.
func (p *Persistence) restore(ctx context.Context) error {
	start := p.clock.Now()

	data, err := p.store.GetValue(ctx, p.key)
	if err != nil {
		err = fmt.Errorf("restore read failed: %w", err)
		p.fail(ctx, err)
		capitan.Emit(ctx, PersistRestoreFailed, KeyError.Field(err.Error()))
		return err
	}
	if data == nil {
		p.transition(ctx, StateStreaming)
		capitan.Emit(ctx, PersistRestoreSkipped, KeyStorageKey.Field(p.key))
		if p.metrics != nil {
			p.metrics.OnRestore(p.clock.Since(start))
		}
		return nil
	}

	var restored any
	if err := p.codec.Unmarshal(data, &restored); err != nil {
		err = fmt.Errorf("restore decode failed: %w", err)
		p.fail(ctx, err)
		capitan.Emit(ctx, PersistRestoreFailed, KeyError.Field(err.Error()))
		return err
	}

	if err := p.materialize(ctx, p.root, restored, ""); err != nil {
		p.fail(ctx, err)
		capitan.Emit(ctx, PersistRestoreFailed, KeyError.Field(err.Error()))
		return err
	}

	p.root.PatchValue(restored, SkipEmit())

	p.transition(ctx, StateStreaming)
	capitan.Emit(ctx, PersistRestoreCompleted, KeyStorageKey.Field(p.key))
	if p.metrics != nil {
		p.metrics.OnRestore(p.clock.Since(start))
	}
	return nil
}

// materialize walks the restored data alongside the tree and resizes
// every array node to match its restored item count, invoking the
// registered factory once per missing child.
func (p *Persistence) materialize(ctx context.Context, c Control, data any, path string) error {
	switch ctrl := c.(type) {
	case *Group:
		m, ok := data.(map[string]any)
		if !ok {
			return nil
		}
		for _, name := range ctrl.Names() {
			item, ok := m[name]
			if !ok {
				continue
			}
			if err := p.materialize(ctx, ctrl.Get(name), item, joinPath(path, name)); err != nil {
				return err
			}
		}
	case *Array:
		items, ok := data.([]any)
		if !ok {
			return nil
		}
		if ctrl.Len() != len(items) {
			if grow := len(items) - ctrl.Len(); grow > 0 {
				factory, ok := p.factories[path]
				if !ok {
					return fmt.Errorf("no array factory registered for path %q", path)
				}
				for i := ctrl.Len(); i < len(items); i++ {
					ctrl.Push(factory(items[i]), SkipEmit())
				}
			}
			for ctrl.Len() > len(items) {
				ctrl.RemoveAt(ctrl.Len()-1, SkipEmit())
			}
			capitan.Emit(ctx, PersistArrayResized,
				KeyPath.Field(path),
				KeyItems.Field(len(items)),
			)
		}
		for i := 0; i < ctrl.Len(); i++ {
			if err := p.materialize(ctx, ctrl.At(i), items[i], path); err != nil {
				return err
			}
		}
	}
	return nil
}

func joinPath(base, name string) string {
	if base == "" {
		return name
	}
	return base + "." + name
}

// watch processes tree value changes with debouncing and writes back.
func (p *Persistence) watch(ctx context.Context, changes <-chan any) {
	defer func() {
		p.transition(ctx, StateStopped)
		capitan.Emit(ctx, PersistStopped,
			KeyStorageKey.Field(p.key),
			KeyState.Field(StateStopped.String()),
		)
		if p.onStop != nil {
			p.onStop(StateStopped)
		}
	}()

	var (
		timer   clockz.Timer
		pending bool
	)

	for {
		// Get timer channel or nil if no timer
		var timerC <-chan time.Time
		if timer != nil {
			timerC = timer.C()
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case _, ok := <-changes:
			if !ok {
				// Stream torn down. A pending debounce is abandoned.
				return
			}

			capitan.Emit(ctx, PersistChangeObserved, KeyStorageKey.Field(p.key))
			if p.metrics != nil {
				p.metrics.OnChangeObserved()
			}
			pending = true

			// Start a fresh debounce timer per burst. clockz's FakeClock
			// drops a fired one-shot waiter, so Reset on a fired timer
			// would never re-arm it.
			if timer != nil {
				if !timer.Stop() {
					select {
					case <-timer.C():
					default:
					}
				}
			}
			timer = p.clock.NewTimer(p.debounce)

		case <-timerC:
			if pending {
				p.write(ctx)
				pending = false
			}
		}
	}
}

// write reads the current tree value and stores it. Errors are recorded
// and surfaced, never retried.
func (p *Persistence) write(ctx context.Context) {
	start := p.clock.Now()

	var v any
	if p.includeDisabled {
		v = p.root.RawValue()
	} else {
		v = p.root.Value()
	}

	data, err := p.codec.Marshal(v)
	if err == nil {
		err = p.store.SetValue(ctx, p.key, data)
	}
	if err != nil {
		err = fmt.Errorf("write failed: %w", err)
		p.fail(ctx, err)
		capitan.Emit(ctx, PersistWriteFailed, KeyError.Field(err.Error()))
		if p.metrics != nil {
			p.metrics.OnWriteFailure(p.clock.Since(start))
		}
		return
	}

	p.lastError.Store(nil)
	p.transition(ctx, StateStreaming)
	capitan.Emit(ctx, PersistWriteSucceeded, KeyStorageKey.Field(p.key))
	if p.metrics != nil {
		p.metrics.OnWriteSuccess(p.clock.Since(start))
	}
}

// fail records an error, surfaces it on the errors channel, and degrades.
func (p *Persistence) fail(ctx context.Context, err error) {
	e := err
	p.lastError.Store(&e)
	p.errorHistory.push(err)
	select {
	case p.errs <- err:
	default:
		// Nobody draining; drop the oldest to keep the newest.
		select {
		case <-p.errs:
		default:
		}
		select {
		case p.errs <- err:
		default:
		}
	}
	p.transition(ctx, StateDegraded)
}

// transition updates the state and emits a state change event if changed.
func (p *Persistence) transition(ctx context.Context, newState State) {
	oldState := State(p.state.Swap(int32(newState)))
	if oldState == newState {
		return
	}
	capitan.Emit(ctx, PersistStateChanged,
		KeyOldState.Field(oldState.String()),
		KeyNewState.Field(newState.String()),
	)
	if p.metrics != nil {
		p.metrics.OnStateChange(oldState, newState)
	}
}
