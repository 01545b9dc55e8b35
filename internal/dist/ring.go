package dist

// pendingRing is a fixed-size circular buffer of serialized envelopes,
// holding events published while no subscriber is ready. When full the
// oldest envelope is overwritten. It is owned by the hub goroutine and
// needs no locking.
type pendingRing struct {
	buf  [][]byte
	pos  int // next write position
	full bool
}

func newPendingRing(capacity int) *pendingRing {
	if capacity <= 0 {
		capacity = 4096
	}
	return &pendingRing{buf: make([][]byte, capacity)}
}

// push appends an envelope, reporting whether an older one was evicted.
func (r *pendingRing) push(frame []byte) bool {
	evicted := r.full
	r.buf[r.pos] = frame
	r.pos = (r.pos + 1) % len(r.buf)
	if r.pos == 0 && !r.full {
		r.full = true
	}
	return evicted
}

// depth returns the number of buffered envelopes.
func (r *pendingRing) depth() int {
	if r.full {
		return len(r.buf)
	}
	return r.pos
}

// drain returns the buffered envelopes oldest-first and empties the ring.
func (r *pendingRing) drain() [][]byte {
	n := r.depth()
	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		idx := i
		if r.full {
			idx = (r.pos + i) % len(r.buf)
		}
		out = append(out, r.buf[idx])
	}
	for i := range r.buf {
		r.buf[i] = nil
	}
	r.pos, r.full = 0, false
	return out
}
