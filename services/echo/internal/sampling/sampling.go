// Package sampling arms continuous double-buffered capture and runs the
// peak detector on each filled buffer, in the converter's callback context.
package sampling

import (
	"sync"
	"sync/atomic"

	"echonode-go/errcode"
	"echonode-go/services/echo/internal/panel"
	"echonode-go/services/echo/internal/peak"
	"echonode-go/services/hal/halcore"
)

type Config struct {
	Channel int
	// CancelAfterDecision stops capture once a cycle has decided; later
	// buffers are dropped until the next Arm. Without it every buffer (or
	// every group of pass captures) is a fresh decision.
	CancelAfterDecision bool
	// IndependentPasses feeds one capture per detector pass instead of
	// sweeping the same capture repeatedly.
	IndependentPasses bool
}

// Summary is handed to the sink after every decision. Samples aliases the
// arena and Window.PerPass aliases detector scratch; both are only valid
// for the duration of the sink call.
type Summary struct {
	Cycle   uint32
	Buffer  uint32 // buffers completed since start
	On      bool
	Window  peak.Window
	Samples []uint32
}

// Sink receives decisions in the sampling context. It must not block.
type Sink func(s *Summary)

type Pipeline struct {
	adc   halcore.ADC
	det   *peak.Detector
	panel *panel.Panel
	cfg   Config
	arena *Arena
	conv  halcore.Conversion
	sink  Sink

	mu      sync.Mutex
	armed   bool
	cycle   uint32
	filled  int
	summary Summary

	buffers   atomic.Uint32
	late      atomic.Uint32
	convErrs  atomic.Uint32
	decisions atomic.Uint32
}

func New(adc halcore.ADC, det *peak.Detector, pnl *panel.Panel, cfg Config, sink Sink) (*Pipeline, error) {
	if cfg.Channel < 0 {
		return nil, errcode.New(errcode.ConfigError, "sampling.New", "negative channel")
	}
	dc := det.Config()
	slots := 1
	if cfg.IndependentPasses {
		slots = dc.Passes
	}
	p := &Pipeline{
		adc:   adc,
		det:   det,
		panel: pnl,
		cfg:   cfg,
		arena: NewArena(dc.Samples, slots),
		sink:  sink,
	}
	p.conv = halcore.Conversion{
		Channel: cfg.Channel,
		Samples: dc.Samples,
		Buffers: p.arena.raw,
		OnFull:  p.onFull,
	}
	return p, nil
}

// Arm starts a capture cycle. A cycle still running is cancelled first.
func (p *Pipeline) Arm() error {
	p.mu.Lock()
	if p.armed {
		p.armed = false
		_ = p.adc.Cancel()
	}
	p.cycle++
	p.filled = 0
	p.armed = true
	p.mu.Unlock()

	if err := p.adc.Convert(&p.conv); err != nil {
		p.mu.Lock()
		p.armed = false
		p.mu.Unlock()
		return errcode.Wrap(errcode.ConvertFailed, "sampling.Arm", err)
	}
	return nil
}

// Cancel stops capture. It never touches the alarm output and may be
// called any number of times.
func (p *Pipeline) Cancel() {
	p.mu.Lock()
	p.armed = false
	p.mu.Unlock()
	_ = p.adc.Cancel()
}

// Armed reports whether a cycle is waiting for buffers.
func (p *Pipeline) Armed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.armed
}

// Stats returns buffers completed, late buffers dropped, conversion or
// detection errors and decisions made.
func (p *Pipeline) Stats() (buffers, late, convErrs, decisions uint32) {
	return p.buffers.Load(), p.late.Load(), p.convErrs.Load(), p.decisions.Load()
}

// onFull runs in the sampling context: adjust, convert, detect, write the
// alarm, then optionally cancel.
func (p *Pipeline) onFull(raw []uint16, _ int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.armed {
		p.late.Add(1)
		return
	}
	n := p.buffers.Add(1)

	slot := p.arena.uv[p.filled]
	p.adc.AdjustRaw(raw)
	if err := p.adc.ToMicroVolts(raw, slot); err != nil {
		p.convErrs.Add(1)
		return
	}
	p.filled++
	if p.filled < len(p.arena.uv) {
		return
	}
	p.filled = 0

	var (
		w  peak.Window
		on bool
	)
	if p.cfg.IndependentPasses {
		var err error
		if w, on, err = p.det.DetectWindow(p.arena.uv); err != nil {
			p.convErrs.Add(1)
			return
		}
	} else {
		w, on = p.det.Detect(slot)
	}
	p.panel.SetAlarm(on)
	p.decisions.Add(1)

	if p.cfg.CancelAfterDecision {
		p.armed = false
		_ = p.adc.Cancel()
	}

	if p.sink != nil {
		p.summary = Summary{Cycle: p.cycle, Buffer: n, On: on, Window: w, Samples: slot}
		p.sink(&p.summary)
	}
}
