package shmring

import "sync/atomic"

// Ring is a single-producer, single-consumer byte ring. The producer is the
// sampling callback; it must never block, so frames that do not fit are
// dropped and counted.
type Ring struct {
	buf  []byte
	mask uint32
	rd   atomic.Uint32 // consumer index (monotonic)
	wr   atomic.Uint32 // producer index (monotonic)

	dropped atomic.Uint32

	readable chan struct{} // 0->>0 available edge
	writable chan struct{} // 0->>0 space edge
}

// New allocates a ring of size bytes. size must be a power of two >= 2.
func New(size int) *Ring {
	if size < 2 || (size&(size-1)) != 0 {
		panic("shmring: size must be power of two >= 2")
	}
	return &Ring{
		buf:      make([]byte, size),
		mask:     uint32(size - 1),
		readable: make(chan struct{}, 1),
		writable: make(chan struct{}, 1),
	}
}

func (r *Ring) size() uint32 { return uint32(len(r.buf)) }

func (r *Ring) Space() int {
	return int(r.size() - (r.wr.Load() - r.rd.Load()))
}

func (r *Ring) Available() int {
	return int(r.wr.Load() - r.rd.Load())
}

// Dropped returns the number of frames rejected by WriteFrame.
func (r *Ring) Dropped() uint32 { return r.dropped.Load() }

// Producer side

// WriteFrom copies as much of src as fits and returns the count.
func (r *Ring) WriteFrom(src []byte) int {
	if len(src) == 0 {
		return 0
	}
	rd := r.rd.Load()
	wr := r.wr.Load()
	space := int(r.size() - (wr - rd))
	if space <= 0 {
		return 0
	}
	n := len(src)
	if n > space {
		n = space
	}
	r.put(rd, wr, src[:n])
	return n
}

// WriteFrame writes all of p or nothing. A rejected frame bumps Dropped.
func (r *Ring) WriteFrame(p []byte) bool {
	if len(p) == 0 {
		return true
	}
	rd := r.rd.Load()
	wr := r.wr.Load()
	if int(r.size()-(wr-rd)) < len(p) {
		r.dropped.Add(1)
		return false
	}
	r.put(rd, wr, p)
	return true
}

func (r *Ring) put(rd, wr uint32, src []byte) {
	n := len(src)
	wrIdx := wr & r.mask
	first := int(r.size() - wrIdx)
	if first > n {
		first = n
	}
	copy(r.buf[wrIdx:wrIdx+uint32(first)], src[:first])
	if second := n - first; second > 0 {
		copy(r.buf[:second], src[first:])
	}
	r.wr.Store(wr + uint32(n)) // release

	if wr == rd {
		select {
		case r.readable <- struct{}{}:
		default:
		}
	}
}

// Consumer side

func (r *Ring) ReadInto(dst []byte) int {
	if len(dst) == 0 {
		return 0
	}
	rd := r.rd.Load()
	wr := r.wr.Load() // acquire
	n := int(wr - rd)
	if n <= 0 {
		return 0
	}
	if n > len(dst) {
		n = len(dst)
	}

	size := r.size()
	rdIdx := rd & r.mask
	first := int(size - rdIdx)
	if first > n {
		first = n
	}
	copy(dst[:first], r.buf[rdIdx:rdIdx+uint32(first)])
	if second := n - first; second > 0 {
		copy(dst[first:n], r.buf[:second])
	}
	r.rd.Store(rd + uint32(n)) // release

	if wr-rd == size {
		select {
		case r.writable <- struct{}{}:
		default:
		}
	}
	return n
}

func (r *Ring) Readable() <-chan struct{} { return r.readable }
func (r *Ring) Writable() <-chan struct{} { return r.writable }
