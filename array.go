package arbor

import (
	"fmt"
	"slices"
)

// Array is a composite control with ordered children. Its value is a
// []any of the enabled children's values.
type Array struct {
	*node
	items []Control
}

// NewArray creates a composite from ordered children.
func NewArray(children []Control, vs ...Validator) *Array {
	a := &Array{items: slices.Clone(children)}
	a.node = newNode(a)
	a.validators = vs
	for _, c := range a.items {
		c.nd().adopt(a)
	}
	a.revalidateLocal(updateOpts{onlySelf: true, skipEmit: true})
	return a
}

// Len returns the number of children.
func (a *Array) Len() int {
	a.tree.mu.Lock()
	defer a.tree.mu.Unlock()
	return len(a.items)
}

// At returns the child at index i. An out-of-range index is a programmer
// error and panics.
func (a *Array) At(i int) Control {
	a.tree.mu.Lock()
	defer a.tree.mu.Unlock()
	a.check(i)
	return a.items[i]
}

// Contains reports whether index i addresses a child.
func (a *Array) Contains(i int) bool {
	a.tree.mu.Lock()
	defer a.tree.mu.Unlock()
	return i >= 0 && i < len(a.items)
}

// Push appends a child and revalidates.
func (a *Array) Push(c Control, opts ...UpdateOption) {
	o := buildOpts(opts)
	a.tree.mu.Lock()
	defer a.tree.mu.Unlock()
	a.items = append(a.items, c)
	c.nd().adopt(a)
	a.revalidate(o)
}

// Insert places a child at index i, shifting later children up.
func (a *Array) Insert(i int, c Control, opts ...UpdateOption) {
	o := buildOpts(opts)
	a.tree.mu.Lock()
	defer a.tree.mu.Unlock()
	if i < 0 || i > len(a.items) {
		panic(fmt.Sprintf("arbor: array insert index %d out of range [0,%d]", i, len(a.items)))
	}
	a.items = slices.Insert(a.items, i, c)
	c.nd().adopt(a)
	a.revalidate(o)
}

// RemoveAt detaches the child at index i.
func (a *Array) RemoveAt(i int, opts ...UpdateOption) {
	o := buildOpts(opts)
	a.tree.mu.Lock()
	defer a.tree.mu.Unlock()
	a.check(i)
	a.items[i].nd().detach()
	a.items = slices.Delete(a.items, i, i+1)
	a.revalidate(o)
}

// SetControl replaces the child at index i.
func (a *Array) SetControl(i int, c Control, opts ...UpdateOption) {
	o := buildOpts(opts)
	a.tree.mu.Lock()
	defer a.tree.mu.Unlock()
	a.check(i)
	a.items[i].nd().detach()
	a.items[i] = c
	c.nd().adopt(a)
	a.revalidate(o)
}

func (a *Array) check(i int) {
	if i < 0 || i >= len(a.items) {
		panic(fmt.Sprintf("arbor: array index %d out of range [0,%d)", i, len(a.items)))
	}
}

func (a *Array) computeValue(raw bool) any {
	if !raw && a.node.computeDisabled() {
		raw = true
	}
	out := make([]any, 0, len(a.items))
	for _, c := range a.items {
		if !raw && c.nd().status == StatusDisabled {
			continue
		}
		out = append(out, c.computeValue(raw))
	}
	return out
}

func (a *Array) applyValue(v any, patch bool, o updateOpts) {
	items, ok := v.([]any)
	if !ok {
		if patch {
			return
		}
		panic(fmt.Sprintf("arbor: cannot apply %T to an array", v))
	}
	if !patch && len(items) != len(a.items) {
		panic(fmt.Sprintf("arbor: array value has %d items, control has %d", len(items), len(a.items)))
	}
	for i, item := range items {
		if i >= len(a.items) {
			break
		}
		a.items[i].nd().setValue(item, patch, o.childScope())
	}
}

func (a *Array) children() []Control {
	return slices.Clone(a.items)
}

func (a *Array) resetSelf(o updateOpts) {
	for _, c := range a.items {
		c.nd().reset(o)
	}
}
