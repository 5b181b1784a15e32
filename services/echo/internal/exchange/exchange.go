// Package exchange runs one radio packet exchange per call and classifies
// how it ended. The initiator transmits and waits for its echo; the
// responder waits for a packet and sends it back.
package exchange

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"time"

	"echonode-go/errcode"
	"echonode-go/services/echo/internal/panel"
	"echonode-go/services/hal/halcore"
	"echonode-go/x/conv"
)

type Outcome uint8

const (
	Success Outcome = iota
	Timeout
	Cancelled
	Aborted
	Stopped
	ProtocolError
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Timeout:
		return "timeout"
	case Cancelled:
		return "cancelled"
	case Aborted:
		return "aborted"
	case Stopped:
		return "stopped"
	case ProtocolError:
		return "protocol_error"
	}
	return "unknown"
}

type Config struct {
	PayloadLen int
	RxTimeout  time.Duration // initiator: how long to wait for the echo
	TxLead     time.Duration // initiator: tx start after now
	TxDelay    time.Duration // responder: echo start after rx end
	// StrictTermination halts on an unrecognised termination or status
	// code. When false the code is logged and reported as ProtocolError.
	StrictTermination bool
	Seed              int64
}

func (c Config) Validate() error {
	const op = "exchange.Config"
	switch {
	case c.PayloadLen < 2 || c.PayloadLen > 255:
		return errcode.New(errcode.ConfigError, op, "payload length out of range")
	case c.RxTimeout < 0 || c.TxLead < 0 || c.TxDelay < 0:
		return errcode.New(errcode.ConfigError, op, "negative timing")
	}
	return nil
}

// Result of one exchange. Ref is the timing reference for the burst: the
// completion time of the received packet.
type Result struct {
	Seq         uint16
	Outcome     Outcome
	Termination halcore.Event
	Status      halcore.OpStatus // the status that decided Outcome
	TxStatus    halcore.OpStatus
	RxStatus    halcore.OpStatus
	Echoed      bool
	RxLen       int
	Ref         halcore.Ticks
	TxFrom      halcore.Ticks
	TxUntil     halcore.Ticks
}

type Controller struct {
	radio halcore.Radio
	panel *panel.Panel
	cfg   Config
	rng   *rand.Rand

	seq uint16
	tx  []byte
	rx  []byte

	fsOp halcore.Op
	txOp halcore.Op
	rxOp halcore.Op

	// written in the radio context during a chain
	echoed    atomic.Bool
	rxSuccess bool
}

func New(r halcore.Radio, pnl *panel.Panel, cfg Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Controller{
		radio: r,
		panel: pnl,
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
		tx:    make([]byte, cfg.PayloadLen),
		rx:    make([]byte, cfg.PayloadLen),
	}, nil
}

// Setup programs the frequency synthesiser once, before the first exchange.
func (c *Controller) Setup() error {
	c.fsOp = halcore.Op{Kind: halcore.OpFS}
	if err := c.radio.PostCommand(&c.fsOp); err != nil {
		return radioErr("exchange.Setup", err)
	}
	return nil
}

// Seq returns the sequence number the next initiator packet will carry.
func (c *Controller) Seq() uint16 { return c.seq }

// LastTx returns the payload of the last transmission.
func (c *Controller) LastTx() []byte { return c.tx }

// TransmitAndAwaitEcho sends the next sequenced packet and waits up to
// RxTimeout for it to come back.
func (c *Controller) TransmitAndAwaitEcho(ctx context.Context) (Result, error) {
	res := Result{Seq: c.seq}
	c.tx[0], c.tx[1] = byte(c.seq>>8), byte(c.seq)
	c.seq++
	for i := 2; i < len(c.tx); i++ {
		c.tx[i] = byte(c.rng.Uint32())
	}
	c.echoed.Store(false)
	c.rxSuccess = false

	c.rxOp = halcore.Op{
		Kind:   halcore.OpRx,
		RxBuf:  c.rx,
		MaxLen: c.cfg.PayloadLen,
		End:    halcore.Trigger{Kind: halcore.TriggerRelStart, Delay: c.cfg.RxTimeout},
	}
	c.txOp = halcore.Op{
		Kind:   halcore.OpTx,
		Packet: c.tx,
		Start:  halcore.Trigger{Kind: halcore.TriggerAbs, At: c.radio.Now().Add(c.cfg.TxLead), PastOK: true},
		Next:   &c.rxOp,
		Rule:   halcore.RuleStopOnFalse,
	}

	mask := halcore.EventCmdDone | halcore.EventRxEntryDone | halcore.EventLastCmdDone
	term, err := c.radio.RunChain(ctx, &c.txOp, c.initiatorEvent, mask)
	if err != nil {
		return res, radioErr("exchange.TransmitAndAwaitEcho", err)
	}
	res.Termination = term
	res.TxStatus, res.RxStatus = c.txOp.Status, c.rxOp.Status
	res.RxLen = c.rxOp.RxLen
	res.Echoed = c.echoed.Load()
	res.Ref = c.rxOp.Timestamp
	res.TxFrom, res.TxUntil = c.txOp.Started, c.txOp.Ended

	return c.classify(res, "exchange.TransmitAndAwaitEcho", []*halcore.Op{&c.txOp, &c.rxOp})
}

// AwaitAndEcho waits for a packet (timeout 0 waits forever) and transmits
// it back TxDelay after reception ended.
func (c *Controller) AwaitAndEcho(ctx context.Context, timeout time.Duration) (Result, error) {
	c.echoed.Store(false)
	end := halcore.Trigger{Kind: halcore.TriggerNever}
	if timeout > 0 {
		end = halcore.Trigger{Kind: halcore.TriggerRelStart, Delay: timeout}
	}
	c.txOp = halcore.Op{
		Kind:  halcore.OpTx,
		Start: halcore.Trigger{Kind: halcore.TriggerRelPrevEnd, Delay: c.cfg.TxDelay},
	}
	c.rxOp = halcore.Op{
		Kind:   halcore.OpRx,
		RxBuf:  c.rx,
		MaxLen: c.cfg.PayloadLen,
		End:    end,
		Next:   &c.txOp,
		Rule:   halcore.RuleStopOnFalse,
	}

	mask := halcore.EventRxEntryDone | halcore.EventLastCmdDone
	term, err := c.radio.RunChain(ctx, &c.rxOp, c.responderEvent, mask)
	if err != nil {
		return Result{}, radioErr("exchange.AwaitAndEcho", err)
	}
	res := Result{Termination: term, TxStatus: c.txOp.Status, RxStatus: c.rxOp.Status, RxLen: c.rxOp.RxLen}
	if res.RxLen >= 2 {
		res.Seq = uint16(c.rx[0])<<8 | uint16(c.rx[1])
	}
	res.Echoed = c.echoed.Load()
	res.Ref = c.rxOp.Timestamp
	res.TxFrom, res.TxUntil = c.txOp.Started, c.txOp.Ended

	return c.classify(res, "exchange.AwaitAndEcho", []*halcore.Op{&c.rxOp, &c.txOp})
}

// classify maps the termination event and the op statuses, in chain
// order, to an outcome. The first op not DoneOK decides.
func (c *Controller) classify(res Result, op string, chain []*halcore.Op) (Result, error) {
	switch res.Termination {
	case halcore.EventLastCmdDone:
	case halcore.EventCmdCancelled:
		res.Outcome = Cancelled
		return res, nil
	case halcore.EventCmdAborted:
		res.Outcome = Aborted
		return res, nil
	case halcore.EventCmdStopped:
		res.Outcome = Stopped
		return res, nil
	default:
		return c.unknown(res, errcode.UnknownTermination, op, uint32(res.Termination))
	}

	res.Outcome = Success
	for _, o := range chain {
		res.Status = o.Status
		out, known := statusOutcome(o.Kind, o.Status)
		if !known {
			return c.unknown(res, errcode.UnknownStatus, op, uint32(o.Status))
		}
		if out != Success {
			res.Outcome = out
			return res, nil
		}
	}
	return res, nil
}

func (c *Controller) unknown(res Result, code errcode.Code, op string, raw uint32) (Result, error) {
	msg := append(make([]byte, 0, 12), "0x"...)
	if raw > 0xFFFF {
		msg = conv.AppendHex16(msg, uint16(raw>>16))
	}
	msg = conv.AppendHex16(msg, uint16(raw))
	if c.cfg.StrictTermination {
		res.Outcome = ProtocolError
		return res, errcode.New(code, op, string(msg))
	}
	println("[exchange]", string(code), string(msg), "treated as protocol error")
	res.Outcome = ProtocolError
	return res, nil
}

// statusOutcome lists the codes each operation kind can legitimately end
// with. Anything else is unknown.
func statusOutcome(kind halcore.OpKind, s halcore.OpStatus) (Outcome, bool) {
	switch s {
	case halcore.DoneOK:
		return Success, true
	case halcore.DoneStopped:
		return Stopped, true
	case halcore.DoneAbort:
		return Aborted, true
	case halcore.ErrorPar, halcore.ErrorNoSetup, halcore.ErrorNoFS:
		return ProtocolError, true
	}
	switch kind {
	case halcore.OpTx:
		if s == halcore.ErrorTxUnderflow {
			return ProtocolError, true
		}
	case halcore.OpRx:
		switch s {
		case halcore.DoneRxTimeout:
			return Timeout, true
		case halcore.DoneRxErr, halcore.DoneBreak, halcore.DoneEnded,
			halcore.ErrorRxBuf, halcore.ErrorRxFull, halcore.ErrorRxOverflow:
			return ProtocolError, true
		}
	}
	return ProtocolError, false
}

// ---- radio context ----

func (c *Controller) initiatorEvent(op *halcore.Op, e halcore.Event) {
	switch {
	case e.Has(halcore.EventCmdDone) && !e.Has(halcore.EventLastCmdDone):
		// tx done
		c.panel.Indicate(panel.Toggle, panel.Off)
	case e.Has(halcore.EventRxEntryDone):
		c.rxSuccess = true
		if c.matches(op.RxBuf[:op.RxLen]) {
			c.echoed.Store(true)
			c.panel.Indicate(panel.Toggle, panel.Off)
		} else {
			c.panel.Indicate(panel.On, panel.On)
		}
	case e.Has(halcore.EventLastCmdDone):
		if c.rxSuccess {
			c.rxSuccess = false
		} else {
			// rx timed out
			c.panel.Indicate(panel.Off, panel.On)
		}
	default:
		c.panel.Indicate(panel.On, panel.On)
	}
}

func (c *Controller) responderEvent(op *halcore.Op, e halcore.Event) {
	switch {
	case e.Has(halcore.EventRxEntryDone):
		c.panel.Indicate(panel.Off, panel.Toggle)
		c.txOp.Packet = op.RxBuf[:op.RxLen]
	case e.Has(halcore.EventLastCmdDone):
		if op.Kind == halcore.OpTx && op.Status == halcore.DoneOK {
			c.echoed.Store(true)
		}
		c.panel.Indicate(panel.Off, panel.Toggle)
	default:
		c.panel.Indicate(panel.On, panel.Off)
	}
}

// matches compares the received bytes against the last transmission over
// at most PayloadLen bytes. An empty packet never matches.
func (c *Controller) matches(got []byte) bool {
	n := len(got)
	if n > len(c.tx) {
		n = len(c.tx)
	}
	if n == 0 {
		return false
	}
	for i := 0; i < n; i++ {
		if got[i] != c.tx[i] {
			return false
		}
	}
	return true
}

func radioErr(op string, err error) error {
	switch {
	case errors.Is(err, halcore.ErrNotRunning):
		return errcode.Wrap(errcode.MissingHandle, op, err)
	case errors.Is(err, halcore.ErrBusy):
		return errcode.Wrap(errcode.Busy, op, err)
	}
	return errcode.Wrap(errcode.Error, op, err)
}
