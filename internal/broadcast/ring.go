package broadcast

// ring keeps the most recent frames of one session, oldest first.
type ring struct {
	entries []entry
	start   int
	size    int
	// last is the highest sequence ever seen, even after it was evicted.
	last int64
}

type entry struct {
	seq   int64
	frame []byte
}

func newRing(capacity int) *ring {
	if capacity < 1 {
		capacity = 1
	}
	return &ring{entries: make([]entry, capacity)}
}

func (r *ring) push(seq int64, frame []byte) {
	idx := (r.start + r.size) % len(r.entries)
	r.entries[idx] = entry{seq: seq, frame: frame}
	if r.size < len(r.entries) {
		r.size++
	} else {
		r.start = (r.start + 1) % len(r.entries)
	}
	if seq > r.last {
		r.last = seq
	}
}

// oldest returns the lowest buffered sequence, or 0 when empty.
func (r *ring) oldest() int64 {
	if r.size == 0 {
		return 0
	}
	return r.entries[r.start].seq
}

// since returns the buffered entries with sequence greater than seq.
func (r *ring) since(seq int64) []entry {
	var out []entry
	for i := 0; i < r.size; i++ {
		e := r.entries[(r.start+i)%len(r.entries)]
		if e.seq > seq {
			out = append(out, e)
		}
	}
	return out
}

// gap reports whether events after seq were evicted before they could be replayed.
func (r *ring) gap(seq int64) bool {
	if seq >= r.last {
		return false
	}
	return r.size == 0 || r.oldest() > seq+1
}

// prime records a sequence persisted before this ring existed.
func (r *ring) prime(seq int64) {
	if seq > r.last {
		r.last = seq
	}
}
