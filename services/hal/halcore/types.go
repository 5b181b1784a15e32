package halcore

import (
	"context"
	"errors"
	"io"
	"time"

	"echonode-go/x/timex"
)

// Ticks is the radio time base shared by every timing reference.
type Ticks = timex.Ticks

// ---- Radio operations ----

type OpKind uint8

const (
	OpFS OpKind = iota // program the frequency synthesiser
	OpTx
	OpRx
)

type TriggerKind uint8

const (
	TriggerNow        TriggerKind = iota
	TriggerNever                  // end trigger only: run until stopped
	TriggerAbs                    // at Trigger.At
	TriggerRelStart               // Delay after the op's own start (end trigger only)
	TriggerRelPrevEnd             // Delay after the previous op in the chain ended
)

// Trigger selects when an operation starts or ends. An absolute start
// already in the past fires immediately when PastOK is set, otherwise the
// operation fails with ErrorPar.
type Trigger struct {
	Kind   TriggerKind
	At     Ticks
	Delay  time.Duration
	PastOK bool
}

// Rule decides whether the next op in a chain runs.
type Rule uint8

const (
	RuleAlways      Rule = iota
	RuleStopOnFalse      // next op runs only if this one ended DoneOK
	RuleNever
)

// Op is one radio operation. Inputs are set by the caller; Status, RxLen,
// Start and End are written by the radio while the chain runs and are
// stable once RunChain returns.
type Op struct {
	Kind  OpKind
	Start Trigger
	End   Trigger // rx only

	Packet []byte // tx payload
	RxBuf  []byte // rx destination; len(RxBuf) must be >= MaxLen
	MaxLen int    // rx length filter; longer packets are ignored

	Next *Op
	Rule Rule

	Status    OpStatus
	RxLen     int
	Started   Ticks
	Ended     Ticks
	Timestamp Ticks // rx: packet completion time
}

// Event is a radio callback/termination bitmask.
type Event uint32

const (
	EventCmdDone Event = 1 << iota
	EventLastCmdDone
	EventRxEntryDone
	EventCmdCancelled
	EventCmdAborted
	EventCmdStopped
	EventInternalError
)

// Has reports whether all bits of m are set.
func (e Event) Has(m Event) bool { return e&m == m && m != 0 }

// Callback runs in the radio context. It must not block.
type Callback func(op *Op, ev Event)

// ---- Operation status taxonomy ----

type OpStatus uint16

const (
	StatusIdle    OpStatus = 0x0000
	StatusPending OpStatus = 0x0001
	StatusActive  OpStatus = 0x0002

	DoneOK        OpStatus = 0x3400
	DoneRxTimeout OpStatus = 0x3401
	DoneBreak     OpStatus = 0x3402
	DoneEnded     OpStatus = 0x3403
	DoneStopped   OpStatus = 0x3404
	DoneAbort     OpStatus = 0x3405
	DoneRxErr     OpStatus = 0x3406

	ErrorPar         OpStatus = 0x3800
	ErrorRxBuf       OpStatus = 0x3801
	ErrorRxFull      OpStatus = 0x3802
	ErrorNoSetup     OpStatus = 0x3803
	ErrorNoFS        OpStatus = 0x3804
	ErrorRxOverflow  OpStatus = 0x3805
	ErrorTxUnderflow OpStatus = 0x3806
)

func (s OpStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusPending:
		return "pending"
	case StatusActive:
		return "active"
	case DoneOK:
		return "done_ok"
	case DoneRxTimeout:
		return "done_rx_timeout"
	case DoneBreak:
		return "done_break"
	case DoneEnded:
		return "done_ended"
	case DoneStopped:
		return "done_stopped"
	case DoneAbort:
		return "done_abort"
	case DoneRxErr:
		return "done_rx_err"
	case ErrorPar:
		return "error_par"
	case ErrorRxBuf:
		return "error_rx_buf"
	case ErrorRxFull:
		return "error_rx_full"
	case ErrorNoSetup:
		return "error_no_setup"
	case ErrorNoFS:
		return "error_no_fs"
	case ErrorRxOverflow:
		return "error_rx_overflow"
	case ErrorTxUnderflow:
		return "error_tx_underflow"
	}
	return "unknown"
}

// ---- Capabilities ----

// Radio runs chains of operations. RunChain blocks until the chain
// terminates and returns the terminating event.
type Radio interface {
	RunChain(ctx context.Context, op *Op, cb Callback, mask Event) (Event, error)
	PostCommand(op *Op) error
	Now() Ticks
	Stop(graceful bool)
}

// PWM is an opened carrier with a fixed period.
type PWM interface {
	Start() error
	SetDuty(duty uint32) error
	DutyMax() uint32
}

// Conversion describes a continuous double-buffered capture. OnFull runs in
// the sampling context once per filled buffer and must not block.
type Conversion struct {
	Channel int
	Samples int
	Buffers [2][]uint16
	OnFull  func(raw []uint16, channel int)
}

// ADC is a buffered converter with calibration helpers.
type ADC interface {
	Convert(c *Conversion) error
	Cancel() error
	AdjustRaw(raw []uint16)
	ToMicroVolts(raw []uint16, out []uint32) error
}

type GPIOPin interface {
	ConfigureOutput(initial bool) error
	Set(level bool)
	Get() bool
	Toggle()
}

// Clock reads and waits on the radio time base.
type Clock interface {
	Now() Ticks
	SleepUntil(ctx context.Context, t Ticks) error
}

// Platform is everything the echo service needs from the board.
type Platform struct {
	Radio     Radio
	PWM       PWM
	ADC       ADC
	Transport io.Writer
	Clock     Clock
	Alarm     GPIOPin
	LED1      GPIOPin
	LED2      GPIOPin
}

var (
	ErrBusy        = errors.New("busy")
	ErrNotRunning  = errors.New("not_running")
	ErrNotArmed    = errors.New("not_armed")
	ErrInvalidOp   = errors.New("invalid_op")
	ErrUnsupported = errors.New("unsupported")
)
