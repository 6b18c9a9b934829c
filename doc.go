// Package arbor provides a reactive state layer over a mutable control
// tree: the hierarchical structure behind nested, user-editable state
// such as a multi-section form.
//
// The tree is built from three control kinds:
//
//   - Field[T]: a leaf holding a scalar value
//   - Group: a composite with named children
//   - Array: a composite with ordered children
//
// Every control exposes its value, status, touched/dirty flags, and error
// object both as synchronous accessors and as push-based streams. Streams
// are plain channels vended by XxxChanges(ctx) methods; they emit the
// current state immediately on subscription and once per change
// thereafter, and they close when the context is canceled. Boolean
// streams (touched, dirty, disabled, enabled) deduplicate repeated
// values; value and status streams emit on every change notification.
//
// # Status
//
// A control is one of Valid, Invalid, Pending, or Disabled. Composite
// status is recomputed eagerly whenever a child reports a change: a
// composite is Disabled when every child is disabled, Invalid when it
// carries errors or any enabled child is Invalid, Pending while async
// validation is in flight, and Valid otherwise.
//
// # Validators
//
// Validators are pure functions over the control's value. MergeValidators
// concatenates onto the installed set (never replacing previously
// merged validators) and triggers exactly one revalidation pass. The Tag
// helper adapts a go-playground/validator tag expression:
//
//	age := arbor.NewField(0, arbor.Tag("min=18"))
//	name := arbor.NewField("", arbor.Required)
//
// # Errors
//
// Error objects are free-form maps of error code to payload, settable
// independently of the validator pipeline so server-side errors can be
// injected. SetErrors, MergeErrors, and RemoveError all converge on the
// same primitive, and every change, including clearing with nil, is
// broadcast on the ErrorsChanges stream.
//
// # Persistence
//
// Persist synchronizes a tree with an external Store: it restores any
// previously stored value first, without emitting change notifications,
// then streams subsequent edits back with debouncing. No write ever
// happens before restore settles.
//
//	form := arbor.NewGroup(map[string]arbor.Control{
//	    "name":  arbor.NewField("", arbor.Required),
//	    "email": arbor.NewField(""),
//	})
//
//	p := arbor.Persist(form, store, "form:signup").
//	    Debounce(250 * time.Millisecond)
//	if err := p.Start(ctx); err != nil {
//	    log.Printf("restore failed: %v", err)
//	}
//
// Store errors are never retried by this layer; they surface on the
// Errors() channel and through LastError(), and resilience policy belongs
// to the Store implementation or the caller.
package arbor
