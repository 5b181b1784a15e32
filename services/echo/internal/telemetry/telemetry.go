// Package telemetry formats the per-cycle text summary and moves it to the
// serial transport. Formatting happens in the sampling callback into a
// fixed frame; a pump goroutine does the blocking write.
package telemetry

import (
	"context"
	"io"
	"sync/atomic"

	"echonode-go/x/conv"
	"echonode-go/x/shmring"
)

// FrameMax bounds one summary, trailing newline included.
const FrameMax = 500

const (
	headPrefix = "\r\nBuffer "
	headSuffix = " finished."
	dumpPrefix = "\r\nMicrovolts: "
)

// AppendSummary appends one summary frame for buffer n to dst. Samples are
// written whole, comma terminated, while they fit; the frame always ends
// in '\n' and never exceeds FrameMax bytes past len(dst).
func AppendSummary(dst []byte, n uint32, samples []uint32) []byte {
	base := len(dst)
	limit := base + FrameMax - 1 // room for '\n'

	dst = append(dst, headPrefix...)
	dst = conv.AppendUint(dst, uint64(n))
	dst = append(dst, headSuffix...)

	if len(dst)+len(dumpPrefix) <= limit {
		dst = append(dst, dumpPrefix...)
		for _, v := range samples {
			var ok bool
			if dst, ok = conv.AppendUintBounded(dst, uint64(v), limit-1); !ok {
				break
			}
			dst = append(dst, ',')
		}
	}
	return append(dst, '\n')
}

type Writer struct {
	out   io.Writer
	ring  *shmring.Ring
	frame []byte

	frames    atomic.Uint32
	writeErrs atomic.Uint32
}

// New creates a writer over out. ringSize must be a power of two of at
// least FrameMax.
func New(out io.Writer, ringSize int) *Writer {
	if ringSize < FrameMax {
		ringSize = 1024
	}
	return &Writer{
		out:   out,
		ring:  shmring.New(ringSize),
		frame: make([]byte, 0, FrameMax),
	}
}

// Emit queues one summary. It never blocks and must be called from a
// single producer.
func (w *Writer) Emit(n uint32, samples []uint32) bool {
	w.frame = AppendSummary(w.frame[:0], n, samples)
	if !w.ring.WriteFrame(w.frame) {
		return false
	}
	w.frames.Add(1)
	return true
}

// Run drains the ring to the transport until ctx ends.
func (w *Writer) Run(ctx context.Context) {
	buf := make([]byte, 256)
	for {
		for {
			n := w.ring.ReadInto(buf)
			if n == 0 {
				break
			}
			if _, err := w.out.Write(buf[:n]); err != nil {
				w.writeErrs.Add(1)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-w.ring.Readable():
		}
	}
}

// Stats returns frames queued, frames dropped and transport write errors.
func (w *Writer) Stats() (frames, dropped, writeErrs uint32) {
	return w.frames.Load(), w.ring.Dropped(), w.writeErrs.Load()
}
