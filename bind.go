package arbor

import "context"

// DisabledWhile drives the control's disabled state from a boolean stream
// for as long as ctx lives or until the stream closes. Each emission maps
// directly onto SetDisable with the supplied options. Multiple concurrent
// drivers on one control are a caller error: last write wins, no
// detection.
func (n *node) DisabledWhile(ctx context.Context, cond <-chan bool, opts ...UpdateOption) {
	n.drive(ctx, cond, func(v bool) { n.SetDisable(v, opts...) })
}

// EnabledWhile is the inverse pair of DisabledWhile.
func (n *node) EnabledWhile(ctx context.Context, cond <-chan bool, opts ...UpdateOption) {
	n.drive(ctx, cond, func(v bool) { n.SetDisable(!v, opts...) })
}

func (n *node) drive(ctx context.Context, cond <-chan bool, apply func(bool)) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-cond:
				if !ok {
					return
				}
				apply(v)
			}
		}
	}()
}

// SetValueFrom subscribes the control to a stream of values, applying
// each through SetValue until ctx is done or the stream closes.
func (n *node) SetValueFrom(ctx context.Context, values <-chan any, opts ...UpdateOption) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-values:
				if !ok {
					return
				}
				n.SetValue(v, opts...)
			}
		}
	}()
}

// PatchValueFrom is the PatchValue counterpart of SetValueFrom.
func (n *node) PatchValueFrom(ctx context.Context, values <-chan any, opts ...UpdateOption) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-values:
				if !ok {
					return
				}
				n.PatchValue(v, opts...)
			}
		}
	}()
}

// ValidateOn applies an external validation stream: every emission
// replaces the control's error object through SetErrors, so server-side
// validation can feed the tree directly.
func (n *node) ValidateOn(ctx context.Context, errs <-chan Errors) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-errs:
				if !ok {
					return
				}
				n.SetErrors(e)
			}
		}
	}()
}
