package arbor

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"sync"
)

// Errors is a control's error object: a free-form mapping of error code to
// payload. nil (or empty) means no errors. Error objects are data, never
// panics; a validator producing one is normal operation.
type Errors map[string]any

// Control is the common surface of every node in a control tree: leaves
// (Field), groups, and arrays. Composite-specific child management lives
// on the concrete types.
//
// Controls are not safe for uncoordinated concurrent mutation; the tree
// assumes single-writer-at-a-time discipline and serializes internally
// with one lock per tree. Streams may be consumed from any goroutine.
type Control interface {
	// Value returns the control's current value. Disabled descendants are
	// excluded from composite values.
	Value() any

	// RawValue returns the control's current value including disabled
	// descendants.
	RawValue() any

	// Status returns the control's current validation status.
	Status() Status

	Valid() bool
	Invalid() bool
	Pending() bool
	Enabled() bool
	Disabled() bool
	Touched() bool
	Dirty() bool

	// Errors returns a copy of the control's current error object, or nil.
	Errors() Errors

	// SetValue replaces the control's value. For composites the supplied
	// structure must match the control's shape exactly; a mismatch is a
	// programmer error and panics.
	SetValue(v any, opts ...UpdateOption)

	// PatchValue applies a partial value. Unknown keys and missing entries
	// are ignored.
	PatchValue(v any, opts ...UpdateOption)

	// Reset restores the control (and descendants) to its initial value
	// and marks it pristine and untouched.
	Reset(opts ...UpdateOption)

	Enable(opts ...UpdateOption)
	Disable(opts ...UpdateOption)
	SetEnable(enabled bool, opts ...UpdateOption)
	SetDisable(disabled bool, opts ...UpdateOption)

	MarkAsTouched(opts ...UpdateOption)
	MarkAsUntouched(opts ...UpdateOption)
	MarkAsDirty(opts ...UpdateOption)
	MarkAsPristine(opts ...UpdateOption)
	MarkAllAsDirty(opts ...UpdateOption)

	// SetValidators replaces the installed validator set wholesale.
	SetValidators(vs []Validator, opts ...UpdateOption)

	// MergeValidators concatenates vs onto the installed validator set,
	// preserving previously merged validators, and triggers exactly one
	// revalidation pass.
	MergeValidators(vs []Validator, opts ...UpdateOption)

	SetAsyncValidators(vs []AsyncValidator, opts ...UpdateOption)
	MergeAsyncValidators(vs []AsyncValidator, opts ...UpdateOption)

	// UpdateValueAndValidity recomputes the control's errors and status.
	UpdateValueAndValidity(opts ...UpdateOption)

	// SetErrors replaces the control's error object wholesale and emits it
	// on the errors stream, including when errs is nil (clearing). Status
	// is recomputed from error presence without rerunning validators.
	SetErrors(errs Errors, opts ...UpdateOption)

	// MergeErrors shallow-merges errs into the current error object.
	MergeErrors(errs Errors, opts ...UpdateOption)

	// RemoveError deletes one error code.
	RemoveError(code string, opts ...UpdateOption)

	// HasError reports whether the control at path carries the given error
	// code. An unresolvable path is a programmer error and panics.
	HasError(code string, path ...any) bool
	GetError(code string, path ...any) any
	HasErrorAndTouched(code string, path ...any) bool
	HasErrorAndDirty(code string, path ...any) bool

	// Get resolves a descendant by path. Segments are group names
	// (strings, which may be dotted) or array indexes (ints). A path that
	// does not resolve is a programmer error and panics; use TryGet or
	// Contains for checked access.
	Get(path ...any) Control
	TryGet(path ...any) (Control, bool)

	ValueChanges(ctx context.Context) <-chan any
	StatusChanges(ctx context.Context) <-chan Status
	TouchedChanges(ctx context.Context) <-chan bool
	DirtyChanges(ctx context.Context) <-chan bool
	DisabledChanges(ctx context.Context) <-chan bool
	EnabledChanges(ctx context.Context) <-chan bool
	ErrorsChanges(ctx context.Context) <-chan Errors

	// Select derives a projected value stream with repeated projections
	// filtered out.
	Select(ctx context.Context, project func(any) any) <-chan any

	DisabledWhile(ctx context.Context, cond <-chan bool, opts ...UpdateOption)
	EnabledWhile(ctx context.Context, cond <-chan bool, opts ...UpdateOption)
	SetValueFrom(ctx context.Context, values <-chan any, opts ...UpdateOption)
	PatchValueFrom(ctx context.Context, values <-chan any, opts ...UpdateOption)
	ValidateOn(ctx context.Context, errs <-chan Errors)

	// Implemented by the concrete control kinds; seals the interface.
	nd() *node
	computeValue(raw bool) any
	applyValue(v any, patch bool, o updateOpts)
	children() []Control
	resetSelf(o updateOpts)
}

// tree is the state shared by every node of one control tree: the single
// writer lock serializing mutation and recomputation.
type tree struct {
	mu sync.Mutex
}

// node is the state machine embedded in every control kind. It owns
// validators, errors, flags, status, and the derived streams; concrete
// types contribute value storage and child structure through the
// unexported Control hooks.
type node struct {
	tree   *tree
	self   Control
	parent Control

	validators      []Validator
	asyncValidators []AsyncValidator

	status   Status
	errors   Errors
	touched  bool
	dirty    bool
	disabled bool

	// Async validation sequencing: a completion is applied only if no
	// newer mutation superseded it.
	asyncSeq     uint64
	asyncCancel  context.CancelFunc
	asyncRunning bool

	valueT    topic[any]
	statusT   topic[Status]
	errorsT   topic[Errors]
	touchedT  topic[bool]
	dirtyT    topic[bool]
	disabledT topic[bool]
	enabledT  topic[bool]
}

func newNode(self Control) *node {
	return &node{
		tree: &tree{},
		self: self,
	}
}

// adopt attaches the node to a parent, re-rooting the whole subtree onto
// the parent's tree lock.
func (n *node) adopt(parent Control) {
	n.parent = parent
	n.reroot(parent.nd().tree)
}

func (n *node) detach() {
	n.parent = nil
	n.reroot(&tree{})
}

func (n *node) reroot(t *tree) {
	n.tree = t
	for _, c := range n.self.children() {
		c.nd().reroot(t)
	}
}

func (n *node) nd() *node { return n }

// -----------------------------------------------------------------------------
// Accessors
// -----------------------------------------------------------------------------

func (n *node) Value() any {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	return n.self.computeValue(false)
}

func (n *node) RawValue() any {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	return n.self.computeValue(true)
}

func (n *node) Status() Status {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	return n.status
}

func (n *node) Valid() bool    { return n.Status() == StatusValid }
func (n *node) Invalid() bool  { return n.Status() == StatusInvalid }
func (n *node) Pending() bool  { return n.Status() == StatusPending }
func (n *node) Disabled() bool { return n.Status() == StatusDisabled }
func (n *node) Enabled() bool  { return !n.Disabled() }

func (n *node) Touched() bool {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	return n.touched
}

func (n *node) Dirty() bool {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	return n.dirty
}

func (n *node) Errors() Errors {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	if n.errors == nil {
		return nil
	}
	return maps.Clone(n.errors)
}

// -----------------------------------------------------------------------------
// Mutation
// -----------------------------------------------------------------------------

func (n *node) SetValue(v any, opts ...UpdateOption) {
	o := buildOpts(opts)
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	n.setValue(v, false, o)
}

func (n *node) PatchValue(v any, opts ...UpdateOption) {
	o := buildOpts(opts)
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	n.setValue(v, true, o)
}

// setValue applies a value and revalidates. Lock held.
func (n *node) setValue(v any, patch bool, o updateOpts) {
	n.self.applyValue(v, patch, o)
	n.revalidate(o)
}

func (n *node) Reset(opts ...UpdateOption) {
	o := buildOpts(opts)
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	n.reset(o)
	if !o.onlySelf {
		for p := n.parent; p != nil; p = p.nd().parent {
			p.nd().setTouched(p.nd().anyChildTouched(), o)
			p.nd().setDirty(p.nd().anyChildDirty(), o)
		}
	}
	n.cascadeUp(o)
}

// reset restores the subtree to initial values, pristine and untouched.
// Lock held.
func (n *node) reset(o updateOpts) {
	n.self.resetSelf(o)
	n.setTouched(false, o)
	n.setDirty(false, o)
	n.revalidateLocal(o)
}

func (n *node) UpdateValueAndValidity(opts ...UpdateOption) {
	o := buildOpts(opts)
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	n.revalidate(o)
}

// revalidate recomputes errors and status for the node, then cascades to
// ancestors unless restricted. Lock held.
func (n *node) revalidate(o updateOpts) {
	n.revalidateLocal(o)
	n.cascadeUp(o)
}

func (n *node) cascadeUp(o updateOpts) {
	if n.parent != nil && !o.onlySelf {
		n.parent.nd().revalidateLocal(o)
		n.parent.nd().cascadeUp(o)
	}
}

// revalidateLocal is one recomputation pass over this node alone: cancel
// any stale async run, rerun sync validators, launch async validators if
// they apply, derive status, and emit. Lock held.
func (n *node) revalidateLocal(o updateOpts) {
	n.supersedeAsync()
	prevErrs := n.errors
	if n.computeDisabled() {
		n.errors = nil
		n.setStatus(StatusDisabled, o)
	} else {
		n.errors = n.runValidators()
		if len(n.errors) == 0 && len(n.asyncValidators) > 0 {
			n.asyncRunning = true
			n.launchAsync(o)
		}
		n.setStatus(n.deriveStatus(), o)
	}
	if !o.skipEmit {
		n.valueT.emit(n.self.computeValue(false))
		if !reflect.DeepEqual(prevErrs, n.errors) {
			n.errorsT.emit(cloneErrors(n.errors))
		}
	}
}

// supersedeAsync invalidates any in-flight async validation. Lock held.
func (n *node) supersedeAsync() {
	n.asyncSeq++
	if n.asyncCancel != nil {
		n.asyncCancel()
		n.asyncCancel = nil
	}
	n.asyncRunning = false
}

func (n *node) runValidators() Errors {
	value := n.self.computeValue(false)
	var merged Errors
	for _, v := range n.validators {
		errs := v(value)
		if len(errs) == 0 {
			continue
		}
		if merged == nil {
			merged = Errors{}
		}
		maps.Copy(merged, errs)
	}
	return merged
}

// launchAsync runs the async validator set in a goroutine and applies the
// result unless a newer mutation superseded it. Lock held at call time.
func (n *node) launchAsync(o updateOpts) {
	ctx, cancel := context.WithCancel(context.Background())
	n.asyncCancel = cancel
	seq := n.asyncSeq
	value := n.self.computeValue(false)
	avs := make([]AsyncValidator, len(n.asyncValidators))
	copy(avs, n.asyncValidators)

	go func() {
		defer cancel()
		var merged Errors
		for _, av := range avs {
			errs := av(ctx, value)
			if ctx.Err() != nil {
				return
			}
			if len(errs) == 0 {
				continue
			}
			if merged == nil {
				merged = Errors{}
			}
			maps.Copy(merged, errs)
		}

		n.tree.mu.Lock()
		defer n.tree.mu.Unlock()
		if seq != n.asyncSeq {
			return
		}
		n.asyncRunning = false
		n.errors = merged
		n.setStatus(n.deriveStatus(), o)
		if !o.skipEmit {
			n.errorsT.emit(cloneErrors(merged))
		}
		n.refreshAncestorStatus(o)
	}()
}

// computeDisabled reports the authoritative disabled state. A leaf (or
// childless composite) is disabled by its own flag; a composite is
// disabled iff every child is disabled. Disabling a composite cascades
// the flag down, so re-enabling any one child is enough to bring the
// composite back to a non-disabled status. Lock held.
func (n *node) computeDisabled() bool {
	kids := n.self.children()
	if len(kids) == 0 {
		return n.disabled
	}
	for _, c := range kids {
		if c.nd().status != StatusDisabled {
			return false
		}
	}
	return true
}

// deriveStatus computes status from own errors, async state, and children.
// Children statuses are already current because change notifications flow
// bottom-up. Lock held.
func (n *node) deriveStatus() Status {
	if n.computeDisabled() {
		return StatusDisabled
	}
	if len(n.errors) > 0 {
		return StatusInvalid
	}
	kids := n.self.children()
	for _, c := range kids {
		if c.nd().status == StatusInvalid {
			return StatusInvalid
		}
	}
	if n.asyncRunning {
		return StatusPending
	}
	for _, c := range kids {
		if c.nd().status == StatusPending {
			return StatusPending
		}
	}
	return StatusValid
}

// setStatus stores the status and emits. The status stream emits on every
// notification; the disabled/enabled projections deduplicate. Lock held.
func (n *node) setStatus(s Status, o updateOpts) {
	prev := n.status
	n.status = s
	if o.skipEmit {
		return
	}
	n.statusT.emit(s)
	wasDisabled := prev == StatusDisabled
	isDisabled := s == StatusDisabled
	if wasDisabled != isDisabled {
		n.disabledT.emit(isDisabled)
		n.enabledT.emit(!isDisabled)
	}
}

// refreshAncestorStatus recomputes ancestor statuses from current child
// state without rerunning their validators. Used by the error channel and
// async completion. Lock held.
func (n *node) refreshAncestorStatus(o updateOpts) {
	if n.parent == nil || o.onlySelf {
		return
	}
	p := n.parent.nd()
	p.setStatus(p.deriveStatus(), o)
	p.refreshAncestorStatus(o)
}

// -----------------------------------------------------------------------------
// Enable / disable
// -----------------------------------------------------------------------------

func (n *node) Enable(opts ...UpdateOption)  { n.SetDisable(false, opts...) }
func (n *node) Disable(opts ...UpdateOption) { n.SetDisable(true, opts...) }

func (n *node) SetEnable(enabled bool, opts ...UpdateOption) {
	n.SetDisable(!enabled, opts...)
}

func (n *node) SetDisable(disabled bool, opts ...UpdateOption) {
	o := buildOpts(opts)
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	if disabled {
		n.disableLocked(o)
	} else {
		n.enableLocked(o)
	}
	n.cascadeUp(o)
}

// disableLocked disables the subtree: flags, canceled async runs, cleared
// errors, DISABLED status, top-down. Lock held.
func (n *node) disableLocked(o updateOpts) {
	n.disabled = true
	n.supersedeAsync()
	hadErrors := n.errors != nil
	n.errors = nil
	for _, c := range n.self.children() {
		c.nd().disableLocked(o)
	}
	n.setStatus(StatusDisabled, o)
	if !o.skipEmit {
		n.valueT.emit(n.self.computeValue(false))
		if hadErrors {
			n.errorsT.emit(nil)
		}
	}
}

// enableLocked re-enables the subtree bottom-up so every composite sees
// current child statuses when it recomputes. Lock held.
func (n *node) enableLocked(o updateOpts) {
	n.disabled = false
	for _, c := range n.self.children() {
		c.nd().enableLocked(o)
	}
	n.revalidateLocal(o)
}

// -----------------------------------------------------------------------------
// Touched / dirty
// -----------------------------------------------------------------------------

func (n *node) MarkAsTouched(opts ...UpdateOption) {
	o := buildOpts(opts)
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	n.setTouched(true, o)
	if o.onlySelf {
		return
	}
	for p := n.parent; p != nil; p = p.nd().parent {
		p.nd().setTouched(true, o)
	}
}

func (n *node) MarkAsUntouched(opts ...UpdateOption) {
	o := buildOpts(opts)
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	n.clearTouchedRec(o)
	if o.onlySelf {
		return
	}
	for p := n.parent; p != nil; p = p.nd().parent {
		p.nd().setTouched(p.nd().anyChildTouched(), o)
	}
}

func (n *node) clearTouchedRec(o updateOpts) {
	n.setTouched(false, o)
	for _, c := range n.self.children() {
		c.nd().clearTouchedRec(o)
	}
}

func (n *node) anyChildTouched() bool {
	for _, c := range n.self.children() {
		if c.nd().touched {
			return true
		}
	}
	return false
}

func (n *node) setTouched(v bool, o updateOpts) {
	if n.touched == v {
		return
	}
	n.touched = v
	if !o.skipEmit {
		n.touchedT.emit(v)
	}
}

func (n *node) MarkAsDirty(opts ...UpdateOption) {
	o := buildOpts(opts)
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	n.setDirty(true, o)
	if o.onlySelf {
		return
	}
	for p := n.parent; p != nil; p = p.nd().parent {
		p.nd().setDirty(true, o)
	}
}

func (n *node) MarkAsPristine(opts ...UpdateOption) {
	o := buildOpts(opts)
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	n.clearDirtyRec(o)
	if o.onlySelf {
		return
	}
	for p := n.parent; p != nil; p = p.nd().parent {
		p.nd().setDirty(p.nd().anyChildDirty(), o)
	}
}

// MarkAllAsDirty marks the control and every descendant dirty.
func (n *node) MarkAllAsDirty(opts ...UpdateOption) {
	o := buildOpts(opts)
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	n.markDirtyRec(o)
	if o.onlySelf {
		return
	}
	for p := n.parent; p != nil; p = p.nd().parent {
		p.nd().setDirty(true, o)
	}
}

func (n *node) markDirtyRec(o updateOpts) {
	n.setDirty(true, o)
	for _, c := range n.self.children() {
		c.nd().markDirtyRec(o)
	}
}

func (n *node) clearDirtyRec(o updateOpts) {
	n.setDirty(false, o)
	for _, c := range n.self.children() {
		c.nd().clearDirtyRec(o)
	}
}

func (n *node) anyChildDirty() bool {
	for _, c := range n.self.children() {
		if c.nd().dirty {
			return true
		}
	}
	return false
}

func (n *node) setDirty(v bool, o updateOpts) {
	if n.dirty == v {
		return
	}
	n.dirty = v
	if !o.skipEmit {
		n.dirtyT.emit(v)
	}
}

// -----------------------------------------------------------------------------
// Validator management
// -----------------------------------------------------------------------------

func (n *node) SetValidators(vs []Validator, opts ...UpdateOption) {
	o := buildOpts(opts)
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	n.validators = vs
	n.revalidate(o)
}

func (n *node) MergeValidators(vs []Validator, opts ...UpdateOption) {
	o := buildOpts(opts)
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	n.validators = append(n.validators, vs...)
	n.revalidate(o)
}

func (n *node) SetAsyncValidators(vs []AsyncValidator, opts ...UpdateOption) {
	o := buildOpts(opts)
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	n.asyncValidators = vs
	n.revalidate(o)
}

func (n *node) MergeAsyncValidators(vs []AsyncValidator, opts ...UpdateOption) {
	o := buildOpts(opts)
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	n.asyncValidators = append(n.asyncValidators, vs...)
	n.revalidate(o)
}

// -----------------------------------------------------------------------------
// Error channel
// -----------------------------------------------------------------------------

func (n *node) SetErrors(errs Errors, opts ...UpdateOption) {
	o := buildOpts(opts)
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	n.setErrorsLocked(errs, o)
}

// setErrorsLocked is the single primitive the whole error channel
// converges on, so the stream and the authoritative error storage never
// diverge. Lock held.
func (n *node) setErrorsLocked(errs Errors, o updateOpts) {
	n.errors = errs
	if !o.skipEmit {
		n.errorsT.emit(cloneErrors(errs))
	}
	n.setStatus(n.deriveStatus(), o)
	n.refreshAncestorStatus(o)
}

func (n *node) MergeErrors(errs Errors, opts ...UpdateOption) {
	o := buildOpts(opts)
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	merged := cloneErrors(n.errors)
	if merged == nil {
		merged = Errors{}
	}
	maps.Copy(merged, errs)
	n.setErrorsLocked(merged, o)
}

func (n *node) RemoveError(code string, opts ...UpdateOption) {
	o := buildOpts(opts)
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	if _, ok := n.errors[code]; !ok {
		return
	}
	next := cloneErrors(n.errors)
	delete(next, code)
	if len(next) == 0 {
		next = nil
	}
	n.setErrorsLocked(next, o)
}

func cloneErrors(errs Errors) Errors {
	if errs == nil {
		return nil
	}
	return maps.Clone(errs)
}

// -----------------------------------------------------------------------------
// Error queries
// -----------------------------------------------------------------------------

func (n *node) HasError(code string, path ...any) bool {
	_, ok := n.Get(path...).Errors()[code]
	return ok
}

func (n *node) GetError(code string, path ...any) any {
	return n.Get(path...).Errors()[code]
}

func (n *node) HasErrorAndTouched(code string, path ...any) bool {
	c := n.Get(path...)
	_, ok := c.Errors()[code]
	return ok && c.Touched()
}

func (n *node) HasErrorAndDirty(code string, path ...any) bool {
	c := n.Get(path...)
	_, ok := c.Errors()[code]
	return ok && c.Dirty()
}

// -----------------------------------------------------------------------------
// Path lookup
// -----------------------------------------------------------------------------

func (n *node) Get(path ...any) Control {
	c, ok := n.TryGet(path...)
	if !ok {
		panic(fmt.Sprintf("arbor: no control at path %v", path))
	}
	return c
}

func (n *node) TryGet(path ...any) (Control, bool) {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	return resolve(n.self, path)
}
