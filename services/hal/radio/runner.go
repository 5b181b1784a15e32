// Package radio runs halcore operation chains on a tinygo lora.Radio.
//
// The runner owns one goroutine which stands in for the radio interrupt
// context: operations execute there and completion callbacks are invoked
// from it, never from the caller of RunChain.
package radio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"echonode-go/services/hal/halcore"

	"tinygo.org/x/drivers/lora"
)

const (
	stopNone uint32 = iota
	stopGraceful
	stopAbort
)

type Config struct {
	Lora      lora.Config
	RxSlice   time.Duration // longest single blocking Rx call; bounds stop latency
	TxTimeout time.Duration
	Queue     int
}

// DefaultLora is the link configuration used by every board profile.
func DefaultLora() lora.Config {
	return lora.Config{
		Freq:           lora.MHz_868_1,
		Cr:             lora.CodingRate4_5,
		Sf:             lora.SpreadingFactor7,
		Bw:             lora.Bandwidth_125_0,
		Preamble:       8,
		SyncWord:       lora.SyncPrivate,
		HeaderType:     lora.HeaderExplicit,
		Crc:            lora.CRCOn,
		Iq:             lora.IQStandard,
		LoraTxPowerDBm: 14,
	}
}

func (c *Config) defaults() {
	if c.RxSlice <= 0 {
		c.RxSlice = 50 * time.Millisecond
	}
	if c.TxTimeout <= 0 {
		c.TxTimeout = time.Second
	}
	if c.Queue <= 0 {
		c.Queue = 4
	}
}

type job struct {
	ctx  context.Context
	op   *halcore.Op
	cb   halcore.Callback
	mask halcore.Event
	done chan halcore.Event // nil for posted commands
}

// Runner implements halcore.Radio.
type Runner struct {
	dev lora.Radio
	clk halcore.Clock
	cfg Config

	jobs    chan *job
	quit    chan struct{}
	started atomic.Bool
	busy    atomic.Bool
	fsReady atomic.Bool
	stop    atomic.Uint32

	mu     sync.Mutex
	cancel context.CancelFunc
}

func New(dev lora.Radio, clk halcore.Clock, cfg Config) *Runner {
	cfg.defaults()
	return &Runner{
		dev:  dev,
		clk:  clk,
		cfg:  cfg,
		jobs: make(chan *job, cfg.Queue),
		quit: make(chan struct{}),
	}
}

// Start launches the radio context goroutine. It exits when ctx ends.
func (r *Runner) Start(ctx context.Context) {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	go r.loop(ctx)
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.quit)
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-r.jobs:
			ev := r.run(j)
			if j.done != nil {
				j.done <- ev
			}
		}
	}
}

func (r *Runner) Now() halcore.Ticks { return r.clk.Now() }

// PostCommand queues op without waiting for it. Used for the one-off
// frequency synthesiser command.
func (r *Runner) PostCommand(op *halcore.Op) error {
	if op == nil {
		return halcore.ErrInvalidOp
	}
	if !r.started.Load() {
		return halcore.ErrNotRunning
	}
	op.Status = halcore.StatusPending
	select {
	case r.jobs <- &job{ctx: context.Background(), op: op}:
		return nil
	default:
		return halcore.ErrBusy
	}
}

// RunChain executes the chain starting at op and blocks until it
// terminates. Only one chain may be in flight.
func (r *Runner) RunChain(ctx context.Context, op *halcore.Op, cb halcore.Callback, mask halcore.Event) (halcore.Event, error) {
	if op == nil {
		return 0, halcore.ErrInvalidOp
	}
	if !r.started.Load() {
		return 0, halcore.ErrNotRunning
	}
	if !r.busy.CompareAndSwap(false, true) {
		return 0, halcore.ErrBusy
	}
	defer r.busy.Store(false)

	jctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.stop.Store(stopNone)
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.cancel = nil
		r.mu.Unlock()
		cancel()
	}()

	for o := op; o != nil; o = o.Next {
		o.Status = halcore.StatusPending
		o.RxLen = 0
	}
	j := &job{ctx: jctx, op: op, cb: cb, mask: mask, done: make(chan halcore.Event, 1)}
	select {
	case r.jobs <- j:
	case <-r.quit:
		return 0, halcore.ErrNotRunning
	}
	select {
	case ev := <-j.done:
		return ev, nil
	case <-r.quit:
		return 0, halcore.ErrNotRunning
	}
}

// Stop ends the chain in flight. A graceful stop lets the current
// operation finish its packet; otherwise it is aborted.
func (r *Runner) Stop(graceful bool) {
	mode := stopAbort
	if graceful {
		mode = stopGraceful
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel == nil {
		return
	}
	r.stop.Store(mode)
	r.cancel()
}

// ---- radio context ----

func (r *Runner) run(j *job) halcore.Event {
	op := j.op
	prevEnd := r.clk.Now()
	anyStarted := false

	for op != nil {
		if err := r.waitStart(j.ctx, op, prevEnd); err != nil {
			if errors.Is(err, errPastTrigger) {
				op.Status = halcore.ErrorPar
				op.Started, op.Ended = r.clk.Now(), r.clk.Now()
			} else {
				return r.terminate(j, op, anyStarted, false)
			}
		} else {
			anyStarted = true
			op.Started = r.clk.Now()
			op.Status = halcore.StatusActive
			if interrupted := r.exec(j, op, prevEnd); interrupted {
				return r.terminate(j, op, true, true)
			}
			op.Ended = r.clk.Now()
		}
		prevEnd = op.Ended

		next := op.Next
		switch op.Rule {
		case halcore.RuleStopOnFalse:
			if op.Status != halcore.DoneOK {
				next = nil
			}
		case halcore.RuleNever:
			next = nil
		}
		if next == nil {
			r.notify(j, op, halcore.EventCmdDone|halcore.EventLastCmdDone)
			return halcore.EventLastCmdDone
		}
		r.notify(j, op, halcore.EventCmdDone)
		op = next
	}
	return halcore.EventLastCmdDone
}

var errPastTrigger = errors.New("start trigger in the past")

func (r *Runner) waitStart(ctx context.Context, op *halcore.Op, prevEnd halcore.Ticks) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var at halcore.Ticks
	switch op.Start.Kind {
	case halcore.TriggerNow:
		return nil
	case halcore.TriggerAbs:
		at = op.Start.At
		if !at.After(r.clk.Now()) {
			if op.Start.PastOK {
				return nil
			}
			return errPastTrigger
		}
	case halcore.TriggerRelPrevEnd:
		at = prevEnd.Add(op.Start.Delay)
	default:
		return errPastTrigger
	}
	return r.clk.SleepUntil(ctx, at)
}

// exec runs a started op and reports whether it was interrupted.
func (r *Runner) exec(j *job, op *halcore.Op, prevEnd halcore.Ticks) bool {
	switch op.Kind {
	case halcore.OpFS:
		r.dev.LoraConfig(r.cfg.Lora)
		r.fsReady.Store(true)
		op.Status = halcore.DoneOK
	case halcore.OpTx:
		r.execTx(op)
	case halcore.OpRx:
		return r.execRx(j, op, prevEnd)
	default:
		op.Status = halcore.ErrorPar
	}
	return j.ctx.Err() != nil && r.stop.Load() == stopAbort
}

func (r *Runner) execTx(op *halcore.Op) {
	if !r.fsReady.Load() {
		op.Status = halcore.ErrorNoFS
		return
	}
	if len(op.Packet) == 0 || len(op.Packet) > 255 {
		op.Status = halcore.ErrorPar
		return
	}
	err := r.dev.Tx(op.Packet, durMs(r.cfg.TxTimeout))
	switch {
	case err == nil:
		op.Status = halcore.DoneOK
	case errors.Is(err, lora.ErrUndefinedLoraConf):
		op.Status = halcore.ErrorNoFS
	default:
		op.Status = halcore.DoneAbort
	}
}

func (r *Runner) execRx(j *job, op *halcore.Op, prevEnd halcore.Ticks) bool {
	if !r.fsReady.Load() {
		op.Status = halcore.ErrorNoFS
		return false
	}
	if op.MaxLen <= 0 || op.MaxLen > 255 {
		op.Status = halcore.ErrorPar
		return false
	}
	if len(op.RxBuf) < op.MaxLen {
		op.Status = halcore.ErrorRxBuf
		return false
	}

	var deadline halcore.Ticks
	hasDeadline := true
	switch op.End.Kind {
	case halcore.TriggerNever:
		hasDeadline = false
	case halcore.TriggerAbs:
		deadline = op.End.At
	case halcore.TriggerRelStart:
		deadline = op.Started.Add(op.End.Delay)
	case halcore.TriggerRelPrevEnd:
		deadline = prevEnd.Add(op.End.Delay)
	default:
		op.Status = halcore.ErrorPar
		return false
	}

	for {
		if j.ctx.Err() != nil {
			return true
		}
		slice := r.cfg.RxSlice
		if hasDeadline {
			left := deadline.Sub(r.clk.Now())
			if left <= 0 {
				op.Status = halcore.DoneRxTimeout
				return false
			}
			if left < slice {
				slice = left
			}
		}
		pkt, err := r.dev.Rx(durMs(slice))
		if err != nil {
			if errors.Is(err, lora.ErrUndefinedLoraConf) {
				op.Status = halcore.ErrorNoFS
			} else {
				op.Status = halcore.DoneRxErr
			}
			return false
		}
		if pkt == nil || len(pkt) > op.MaxLen {
			continue
		}
		op.RxLen = copy(op.RxBuf, pkt)
		op.Timestamp = r.clk.Now()
		op.Status = halcore.DoneOK
		r.notify(j, op, halcore.EventRxEntryDone)
		return false
	}
}

// terminate ends the chain early. started reports whether op itself was
// running when the interruption was observed.
func (r *Runner) terminate(j *job, op *halcore.Op, anyStarted, started bool) halcore.Event {
	now := r.clk.Now()
	var ev halcore.Event
	switch {
	case !anyStarted:
		ev = halcore.EventCmdCancelled
		op.Status = halcore.StatusIdle
	case r.stop.Load() == stopGraceful:
		ev = halcore.EventCmdStopped
		op.Status = halcore.DoneStopped
	default:
		ev = halcore.EventCmdAborted
		op.Status = halcore.DoneAbort
	}
	if started {
		op.Ended = now
	}
	r.notify(j, op, ev)
	return ev
}

func (r *Runner) notify(j *job, op *halcore.Op, ev halcore.Event) {
	if j.cb != nil && ev&j.mask != 0 {
		j.cb(op, ev)
	}
}

func durMs(d time.Duration) uint32 {
	ms := d.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return uint32(ms)
}
