package arbor

import (
	"context"
	"reflect"
	"sync"
)

// subscriberBuffer is the per-subscriber channel capacity. Delivery is
// conflating: when a slow subscriber's buffer fills, the oldest buffered
// emission is dropped in favor of the newest. Ordering within one
// subscriber is preserved; intermediate values may be lost.
const subscriberBuffer = 16

// topic is a replay-1 broadcast channel for one observed property of a
// control. It carries its own lock rather than borrowing the tree's:
// adopting a control into another tree swaps the tree lock out from under
// it, and the teardown goroutine must not race emissions under the new
// lock. Ordering is always tree lock first, then topic lock.
type topic[T any] struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]chan T
}

// subscribe registers a subscriber, pre-loads it with the current value,
// and arranges teardown on context cancellation. The returned channel is
// closed on unsubscribe.
func (t *topic[T]) subscribe(ctx context.Context, current T) <-chan T {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.subs == nil {
		t.subs = make(map[uint64]chan T)
	}
	id := t.nextID
	t.nextID++
	ch := make(chan T, subscriberBuffer)
	ch <- current
	t.subs[id] = ch

	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			t.mu.Lock()
			defer t.mu.Unlock()
			if sub, ok := t.subs[id]; ok {
				delete(t.subs, id)
				close(sub)
			}
		}()
	}
	return ch
}

// emit delivers v to every subscriber without blocking.
func (t *topic[T]) emit(v T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ch := range t.subs {
		offer(ch, v)
	}
}

// offer sends v on ch, evicting the oldest buffered value when full.
// Only ever called under the topic lock, so it never races a close.
func offer[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// -----------------------------------------------------------------------------
// Stream vending
// -----------------------------------------------------------------------------

// ValueChanges returns a stream of the control's value: the current value
// immediately, then one emission per change notification. Cancel ctx to
// unsubscribe; the channel closes on unsubscribe.
func (n *node) ValueChanges(ctx context.Context) <-chan any {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	return n.valueT.subscribe(ctx, n.self.computeValue(false))
}

// StatusChanges returns a stream of the control's status. The status is
// re-read from the node inside the notification path, so composite status
// mutated as a side effect of child mutation is always current.
func (n *node) StatusChanges(ctx context.Context) <-chan Status {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	return n.statusT.subscribe(ctx, n.status)
}

// TouchedChanges returns a deduplicated stream of the touched flag.
func (n *node) TouchedChanges(ctx context.Context) <-chan bool {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	return n.touchedT.subscribe(ctx, n.touched)
}

// DirtyChanges returns a deduplicated stream of the dirty flag.
func (n *node) DirtyChanges(ctx context.Context) <-chan bool {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	return n.dirtyT.subscribe(ctx, n.dirty)
}

// DisabledChanges returns a deduplicated boolean projection of status.
func (n *node) DisabledChanges(ctx context.Context) <-chan bool {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	return n.disabledT.subscribe(ctx, n.status == StatusDisabled)
}

// EnabledChanges returns the inverse projection of DisabledChanges.
func (n *node) EnabledChanges(ctx context.Context) <-chan bool {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	return n.enabledT.subscribe(ctx, n.status != StatusDisabled)
}

// ErrorsChanges returns a stream of the control's error object. Clearing
// emits nil; emissions are not deduplicated.
func (n *node) ErrorsChanges(ctx context.Context) <-chan Errors {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	return n.errorsT.subscribe(ctx, cloneErrors(n.errors))
}

// Select returns a stream of project applied to the control's value, with
// repeated identical projections filtered out.
func (n *node) Select(ctx context.Context, project func(any) any) <-chan any {
	in := n.ValueChanges(ctx)
	out := make(chan any, subscriberBuffer)
	go func() {
		defer close(out)
		var last any
		first := true
		for v := range in {
			p := project(v)
			if !first && reflect.DeepEqual(p, last) {
				continue
			}
			first = false
			last = p
			select {
			case out <- p:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
