package arbor

// updateOpts controls how far a mutation propagates and whether it is
// observable on the derived streams.
type updateOpts struct {
	onlySelf bool
	skipEmit bool
}

// UpdateOption configures a single mutation call.
type UpdateOption func(*updateOpts)

// OnlySelf restricts recomputation to the control itself instead of
// cascading to ancestors.
func OnlySelf() UpdateOption {
	return func(o *updateOpts) {
		o.onlySelf = true
	}
}

// SkipEmit suppresses stream emissions for the mutation. State is still
// updated and validity still recomputed; subscribers simply do not hear
// about it. Restore uses this so stored values are never mistaken for
// user edits.
func SkipEmit() UpdateOption {
	return func(o *updateOpts) {
		o.skipEmit = true
	}
}

func buildOpts(opts []UpdateOption) updateOpts {
	var o updateOpts
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// childScope returns the options a composite passes to its children while
// applying a structural value: the child must not cascade back up, since
// the composite revalidates itself exactly once afterwards.
func (o updateOpts) childScope() updateOpts {
	o.onlySelf = true
	return o
}
