package arbor

import "sync"

// errorRing is a thread-safe bounded buffer of recent errors, oldest
// first. A nil ring is valid and retains nothing.
type errorRing struct {
	mu    sync.Mutex
	buf   []error
	head  int
	count int
}

// newErrorRing creates a ring retaining up to size errors. Size zero or
// less disables retention.
func newErrorRing(size int) *errorRing {
	if size <= 0 {
		return nil
	}
	return &errorRing{buf: make([]error, size)}
}

func (r *errorRing) push(err error) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.head] = err
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

func (r *errorRing) clear() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.buf)
	r.head = 0
	r.count = 0
}

// all returns the retained errors, oldest first.
func (r *errorRing) all() []error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]error, 0, r.count)
	start := r.head - r.count
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}
