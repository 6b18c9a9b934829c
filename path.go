package arbor

import (
	"fmt"
	"strings"
)

// resolve walks a path of segments from c. String segments address group
// children and may be dotted ("address.zip"); int segments address array
// indexes. A segment of any other type is a programmer error. Lock held.
func resolve(c Control, path []any) (Control, bool) {
	cur := c
	for _, raw := range path {
		switch seg := raw.(type) {
		case string:
			for _, name := range strings.Split(seg, ".") {
				g, ok := cur.(*Group)
				if !ok {
					return nil, false
				}
				child, ok := g.byName[name]
				if !ok {
					return nil, false
				}
				cur = child
			}
		case int:
			a, ok := cur.(*Array)
			if !ok || seg < 0 || seg >= len(a.items) {
				return nil, false
			}
			cur = a.items[seg]
		default:
			panic(fmt.Sprintf("arbor: invalid path segment of type %T (want string or int)", raw))
		}
	}
	return cur, true
}
