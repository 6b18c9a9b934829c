package arbor

import (
	"fmt"
	"slices"
	"sort"
)

// Group is a composite control with named children. Its value is a
// map[string]any of the enabled children's values; its status derives
// from its own validators and the children.
type Group struct {
	*node
	names  []string
	byName map[string]Control
}

// NewGroup creates a composite from named children. Child iteration order
// is alphabetical by name until controls are added, which append.
func NewGroup(children map[string]Control, vs ...Validator) *Group {
	g := &Group{byName: make(map[string]Control, len(children))}
	g.node = newNode(g)
	g.validators = vs

	names := make([]string, 0, len(children))
	for name := range children {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		g.attach(name, children[name])
	}
	g.revalidateLocal(updateOpts{onlySelf: true, skipEmit: true})
	return g
}

// AddControl attaches a child under name and revalidates. Adding a
// duplicate name is a programmer error and panics; use SetControl to
// replace.
func (g *Group) AddControl(name string, c Control, opts ...UpdateOption) {
	o := buildOpts(opts)
	g.tree.mu.Lock()
	defer g.tree.mu.Unlock()
	if _, ok := g.byName[name]; ok {
		panic(fmt.Sprintf("arbor: group already contains a control named %q", name))
	}
	g.attach(name, c)
	g.revalidate(o)
}

// RemoveControl detaches the named child. Removing an absent name is a
// no-op.
func (g *Group) RemoveControl(name string, opts ...UpdateOption) {
	o := buildOpts(opts)
	g.tree.mu.Lock()
	defer g.tree.mu.Unlock()
	c, ok := g.byName[name]
	if !ok {
		return
	}
	delete(g.byName, name)
	g.names = slices.DeleteFunc(g.names, func(n string) bool { return n == name })
	c.nd().detach()
	g.revalidate(o)
}

// SetControl installs a child under name, replacing any existing control.
func (g *Group) SetControl(name string, c Control, opts ...UpdateOption) {
	o := buildOpts(opts)
	g.tree.mu.Lock()
	defer g.tree.mu.Unlock()
	if old, ok := g.byName[name]; ok {
		old.nd().detach()
		g.byName[name] = c
		c.nd().adopt(g)
	} else {
		g.attach(name, c)
	}
	g.revalidate(o)
}

// Contains reports whether a child exists under name.
func (g *Group) Contains(name string) bool {
	g.tree.mu.Lock()
	defer g.tree.mu.Unlock()
	_, ok := g.byName[name]
	return ok
}

// Names returns the child names in iteration order.
func (g *Group) Names() []string {
	g.tree.mu.Lock()
	defer g.tree.mu.Unlock()
	return slices.Clone(g.names)
}

func (g *Group) attach(name string, c Control) {
	g.names = append(g.names, name)
	g.byName[name] = c
	c.nd().adopt(g)
}

func (g *Group) computeValue(raw bool) any {
	// A disabled group reads as its raw value; exclusion is the parent's
	// concern.
	if !raw && g.node.computeDisabled() {
		raw = true
	}
	out := make(map[string]any, len(g.names))
	for _, name := range g.names {
		c := g.byName[name]
		if !raw && c.nd().status == StatusDisabled {
			continue
		}
		out[name] = c.computeValue(raw)
	}
	return out
}

func (g *Group) applyValue(v any, patch bool, o updateOpts) {
	m, ok := v.(map[string]any)
	if !ok {
		if patch {
			return
		}
		panic(fmt.Sprintf("arbor: cannot apply %T to a group", v))
	}
	if !patch {
		for _, name := range g.names {
			if _, ok := m[name]; !ok {
				panic(fmt.Sprintf("arbor: missing value for control %q", name))
			}
		}
	}
	for _, name := range g.names {
		item, ok := m[name]
		if !ok {
			continue
		}
		g.byName[name].nd().setValue(item, patch, o.childScope())
	}
	if !patch {
		for name := range m {
			if _, ok := g.byName[name]; !ok {
				panic(fmt.Sprintf("arbor: no control named %q", name))
			}
		}
	}
}

func (g *Group) children() []Control {
	out := make([]Control, len(g.names))
	for i, name := range g.names {
		out[i] = g.byName[name]
	}
	return out
}

func (g *Group) resetSelf(o updateOpts) {
	for _, name := range g.names {
		g.byName[name].nd().reset(o)
	}
}
