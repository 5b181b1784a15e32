// Package peak reduces microvolt sample buffers to binned averages and
// decides whether a return signal crossed the threshold inside the
// expected arrival window.
package peak

import (
	"echonode-go/errcode"
	"echonode-go/x/mathx"
)

// NoWindow disables the bin-index test.
const NoWindow = -1

// DefaultNorm divides every bin sum. It equals the buffer length of the
// reference capture, not the bin width; thresholds are calibrated against
// it and must be retuned if it changes.
const DefaultNorm = 500

type Config struct {
	Samples   int    // N
	BinWidth  int    // W
	Norm      uint64 // bin sum divisor
	Threshold uint64 // strict: max average must exceed it
	MaxBin    int    // inclusive; NoWindow disables the window test
	Passes    int
}

// Pass is the outcome of one sweep over a buffer. Bin is numbered within
// the detection window, not within the pass.
type Pass struct {
	MaxAverage uint64
	MaxBin     int
}

// Window aggregates every pass of one decision. PerPass aliases detector
// scratch and is only valid until the next Detect call.
type Window struct {
	MaxAverage uint64
	MaxBin     int
	Bins       int // bins per pass
	Passes     int
	PerPass    []Pass
}

// Detector is stateless between calls apart from its scratch slice.
type Detector struct {
	cfg     Config
	bins    int
	perPass []Pass
	avg     []uint64 // one pass of bin averages
}

func New(cfg Config) (*Detector, error) {
	if cfg.Norm == 0 {
		cfg.Norm = DefaultNorm
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	bins, _ := mathx.DivExact(cfg.Samples, cfg.BinWidth)
	return &Detector{
		cfg:     cfg,
		bins:    bins,
		perPass: make([]Pass, cfg.Passes),
		avg:     make([]uint64, 0, bins),
	}, nil
}

// Validate rejects configurations that would give undefined bin semantics.
func (c Config) Validate() error {
	const op = "peak.Config"
	_, exact := mathx.DivExact(c.Samples, c.BinWidth)
	switch {
	case c.Samples <= 0:
		return errcode.New(errcode.ConfigError, op, "samples must be positive")
	case c.BinWidth <= 0:
		return errcode.New(errcode.ConfigError, op, "bin width must be positive")
	case !exact:
		return errcode.New(errcode.ConfigError, op, "samples not a multiple of bin width")
	case c.Passes < 1:
		return errcode.New(errcode.ConfigError, op, "passes must be >= 1")
	case c.Norm == 0:
		return errcode.New(errcode.ConfigError, op, "norm must be positive")
	case c.MaxBin < NoWindow:
		return errcode.New(errcode.ConfigError, op, "max bin below -1")
	}
	return nil
}

func (d *Detector) Config() Config { return d.cfg }

// Bins returns bins per pass (N / W).
func (d *Detector) Bins() int { return d.bins }

// Detect runs every pass over the same buffer.
func (d *Detector) Detect(buf []uint32) (Window, bool) {
	w := d.begin()
	for p := 0; p < d.cfg.Passes; p++ {
		d.pass(&w, p, buf)
	}
	return w, d.Decide(w)
}

// DetectWindow runs one pass per capture. The number of captures must equal
// the configured pass count.
func (d *Detector) DetectWindow(captures [][]uint32) (Window, bool, error) {
	if len(captures) != d.cfg.Passes {
		return Window{}, false, errcode.New(errcode.InvalidParams, "peak.DetectWindow", "capture count != passes")
	}
	w := d.begin()
	for p, buf := range captures {
		d.pass(&w, p, buf)
	}
	return w, d.Decide(w), nil
}

// BinAverages appends one pass's per-bin averages for buf to dst. Only the
// first N samples are read; a short buffer reads as zeros.
func (d *Detector) BinAverages(buf []uint32, dst []uint64) []uint64 {
	width := d.cfg.BinWidth
	for b := 0; b < d.bins; b++ {
		var sum uint64
		for i := b * width; i < (b+1)*width && i < len(buf); i++ {
			sum += uint64(buf[i])
		}
		dst = append(dst, sum/d.cfg.Norm)
	}
	return dst
}

// Decide applies the threshold and window tests.
func (d *Detector) Decide(w Window) bool {
	if w.MaxAverage <= d.cfg.Threshold {
		return false
	}
	return d.cfg.MaxBin == NoWindow || w.MaxBin <= d.cfg.MaxBin
}

func (d *Detector) begin() Window {
	return Window{Bins: d.bins, Passes: d.cfg.Passes, PerPass: d.perPass[:0]}
}

// pass sweeps buf once. The running max uses strict >, so ties keep the
// lowest bin index.
func (d *Detector) pass(w *Window, p int, buf []uint32) {
	d.avg = d.BinAverages(buf, d.avg[:0])
	res := Pass{MaxBin: p * d.bins}
	for b, avg := range d.avg {
		bin := p*d.bins + b
		if avg > res.MaxAverage {
			res.MaxAverage, res.MaxBin = avg, bin
		}
		if avg > w.MaxAverage {
			w.MaxAverage, w.MaxBin = avg, bin
		}
	}
	w.PerPass = append(w.PerPass, res)
}
