package telemetry

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestAppendSummaryFormat(t *testing.T) {
	got := string(AppendSummary(nil, 3, []uint32{0, 12, 60047}))
	want := "\r\nBuffer 3 finished.\r\nMicrovolts: 0,12,60047,\n"
	if got != want {
		t.Fatalf("got %q\nwant %q", got, want)
	}
}

func TestAppendSummaryBounded(t *testing.T) {
	samples := make([]uint32, 500)
	for i := range samples {
		samples[i] = 1234567
	}
	out := AppendSummary(make([]byte, 0, FrameMax), 99, samples)
	if len(out) > FrameMax {
		t.Fatalf("frame is %d bytes", len(out))
	}
	if out[len(out)-1] != '\n' {
		t.Fatal("missing trailing newline")
	}
	// only whole values are written
	body := strings.TrimSuffix(string(out), "\n")
	if !strings.HasSuffix(body, "1234567,") {
		t.Fatalf("truncated value at end: %q", body[len(body)-12:])
	}
}

func TestAppendSummaryDoesNotAllocate(t *testing.T) {
	samples := make([]uint32, 500)
	buf := make([]byte, 0, FrameMax)
	allocs := testing.AllocsPerRun(50, func() {
		buf = AppendSummary(buf[:0], 7, samples)
	})
	if allocs != 0 {
		t.Fatalf("allocs = %v", allocs)
	}
}

type syncBuf struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuf) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuf) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestPumpDeliversInOrder(t *testing.T) {
	out := &syncBuf{}
	w := New(out, 2048)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	for i := uint32(0); i < 3; i++ {
		if !w.Emit(i, []uint32{i}) {
			t.Fatalf("frame %d dropped", i)
		}
		time.Sleep(5 * time.Millisecond)
	}
	want := "\r\nBuffer 0 finished.\r\nMicrovolts: 0,\n" +
		"\r\nBuffer 1 finished.\r\nMicrovolts: 1,\n" +
		"\r\nBuffer 2 finished.\r\nMicrovolts: 2,\n"
	deadline := time.After(time.Second)
	for out.String() != want {
		select {
		case <-deadline:
			t.Fatalf("got %q", out.String())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestFullRingDropsFrame(t *testing.T) {
	w := New(&syncBuf{}, 512) // no pump running
	big := make([]uint32, 200)
	if !w.Emit(0, big) {
		t.Fatal("first frame should fit")
	}
	if w.Emit(1, big) {
		t.Fatal("second frame should not fit")
	}
	frames, dropped, _ := w.Stats()
	if frames != 1 || dropped != 1 {
		t.Fatalf("frames=%d dropped=%d", frames, dropped)
	}
}
