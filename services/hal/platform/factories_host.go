//go:build !rp2040 && !rp2350

package platform

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"echonode-go/services/hal/halcore"
	"echonode-go/services/hal/radio"
	"echonode-go/x/mathx"

	"tinygo.org/x/drivers/lora"
)

// ----------------------------- GPIO (host) -----------------------------------

// FakePin implements halcore.GPIOPin and counts writes.
type FakePin struct {
	mu      sync.RWMutex
	number  int
	level   bool
	modeOut bool
	writes  int
}

func NewFakePin(n int) *FakePin { return &FakePin{number: n} }

func (p *FakePin) ConfigureOutput(initial bool) error {
	p.mu.Lock()
	p.modeOut = true
	p.level = initial
	p.mu.Unlock()
	return nil
}

func (p *FakePin) Set(level bool) {
	p.mu.Lock()
	p.level = level
	p.writes++
	p.mu.Unlock()
}

func (p *FakePin) Get() bool {
	p.mu.RLock()
	v := p.level
	p.mu.RUnlock()
	return v
}

func (p *FakePin) Toggle() {
	p.mu.Lock()
	p.level = !p.level
	p.writes++
	p.mu.Unlock()
}

func (p *FakePin) Number() int { return p.number }

// Writes returns how many times the level was driven.
func (p *FakePin) Writes() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.writes
}

// ----------------------------- PWM (host) ------------------------------------

// DutyChange is one recorded SetDuty call.
type DutyChange struct {
	At   time.Time
	Duty uint32
}

// FakePWM records duty changes so tests can check burst timing.
type FakePWM struct {
	mu      sync.Mutex
	max     uint32
	started bool
	history []DutyChange
}

func NewFakePWM(dutyMax uint32) *FakePWM {
	if dutyMax == 0 {
		dutyMax = 0xFFFF
	}
	return &FakePWM{max: dutyMax}
}

func (p *FakePWM) Start() error {
	p.mu.Lock()
	p.started = true
	p.mu.Unlock()
	return nil
}

func (p *FakePWM) SetDuty(d uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return halcore.ErrNotRunning
	}
	if d > p.max {
		d = p.max
	}
	p.history = append(p.history, DutyChange{At: time.Now(), Duty: d})
	return nil
}

func (p *FakePWM) DutyMax() uint32 { return p.max }

// History returns a copy of the recorded duty changes.
func (p *FakePWM) History() []DutyChange {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]DutyChange(nil), p.history...)
}

// ----------------------------- ADC (host) ------------------------------------

// SampleGen produces the raw 12-bit sample i of buffer fill n.
type SampleGen func(fill, i int) uint16

// FakeADC fills the conversion's two buffers alternately from Gen, one
// buffer per Period, and invokes OnFull on its own goroutine.
type FakeADC struct {
	Gen         SampleGen
	Period      time.Duration
	Offset      uint16 // subtracted by AdjustRaw
	MicroPerLSB uint32

	mu      sync.Mutex
	stop    chan struct{}
	fills   int
	cancels int
}

func NewFakeADC(gen SampleGen) *FakeADC {
	return &FakeADC{
		Gen:         gen,
		Period:      BlockPeriod(500, DefaultSampleHz),
		MicroPerLSB: 806, // 3.3 V / 4096, rounded
	}
}

func (a *FakeADC) Convert(c *halcore.Conversion) error {
	if c == nil || c.OnFull == nil || c.Samples <= 0 {
		return halcore.ErrInvalidOp
	}
	for _, b := range c.Buffers {
		if len(b) < c.Samples {
			return halcore.ErrInvalidOp
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stop != nil {
		return halcore.ErrBusy
	}
	stop := make(chan struct{})
	a.stop = stop
	go a.run(c, stop)
	return nil
}

func (a *FakeADC) run(c *halcore.Conversion, stop chan struct{}) {
	tk := time.NewTicker(a.Period)
	defer tk.Stop()
	for slot := 0; ; slot ^= 1 {
		select {
		case <-stop:
			return
		case <-tk.C:
		}
		a.mu.Lock()
		fill := a.fills
		a.fills++
		a.mu.Unlock()

		buf := c.Buffers[slot][:c.Samples]
		for i := range buf {
			if a.Gen != nil {
				buf[i] = a.Gen(fill, i)
			} else {
				buf[i] = 0
			}
		}
		select {
		case <-stop:
			return
		default:
		}
		c.OnFull(buf, c.Channel)
	}
}

// Cancel stops free-running capture. Calling it when idle is a no-op.
func (a *FakeADC) Cancel() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stop != nil {
		close(a.stop)
		a.stop = nil
		a.cancels++
	}
	return nil
}

func (a *FakeADC) AdjustRaw(raw []uint16) {
	for i, v := range raw {
		if v > a.Offset {
			raw[i] = v - a.Offset
		} else {
			raw[i] = 0
		}
	}
}

func (a *FakeADC) ToMicroVolts(raw []uint16, out []uint32) error {
	if len(out) < len(raw) {
		return halcore.ErrInvalidOp
	}
	for i, v := range raw {
		out[i] = mathx.SatU32(uint64(v) * uint64(a.MicroPerLSB))
	}
	return nil
}

// Stats returns buffers filled and effective cancels so far.
func (a *FakeADC) Stats() (fills, cancels int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fills, a.cancels
}

// ----------------------------- LoRa (host) -----------------------------------

// Air decides what the far end does with transmission n.
type Air uint8

const (
	AirEcho    Air = iota // packet comes back unchanged
	AirSilent             // nothing comes back
	AirCorrupt            // comes back with the last byte flipped
	AirCRC                // reception fails with a CRC error
)

var errCRC = crcError{}

type crcError struct{}

func (crcError) Error() string { return "crc error" }

// EchoLora is a lora.Radio whose far end echoes transmissions after Delay,
// as directed by Plan. With Beacon set the far end behaves as an initiator
// instead: it sends a packet every Beacon and absorbs whatever we send.
// Inject queues an inbound packet directly.
type EchoLora struct {
	Delay  time.Duration
	Plan   func(n int) Air
	Beacon time.Duration

	mu         sync.Mutex
	configured bool
	pending    []byte
	readyAt    time.Time
	crc        bool
	txCount    int
	beaconSeq  uint16
	lastTx     []byte
}

func NewEchoLora(delay time.Duration) *EchoLora { return &EchoLora{Delay: delay} }

func (l *EchoLora) Reset()                   {}
func (l *EchoLora) SetFrequency(uint32)      {}
func (l *EchoLora) SetIqMode(uint8)          {}
func (l *EchoLora) SetCodingRate(uint8)      {}
func (l *EchoLora) SetBandwidth(uint8)       {}
func (l *EchoLora) SetCrc(bool)              {}
func (l *EchoLora) SetSpreadingFactor(uint8) {}
func (l *EchoLora) SetPreambleLength(uint16) {}
func (l *EchoLora) SetTxPower(int8)          {}
func (l *EchoLora) SetSyncWord(uint16)       {}
func (l *EchoLora) SetPublicNetwork(bool)    {}
func (l *EchoLora) SetHeaderType(uint8)      {}

func (l *EchoLora) LoraConfig(cfg lora.Config) {
	l.mu.Lock()
	l.configured = cfg.Freq != 0
	l.mu.Unlock()
}

func (l *EchoLora) Tx(pkt []uint8, _ uint32) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.configured {
		return lora.ErrUndefinedLoraConf
	}
	n := l.txCount
	l.txCount++
	l.lastTx = append(l.lastTx[:0], pkt...)

	if l.Beacon > 0 {
		// far end is an initiator; it absorbs our replies
		return nil
	}
	air := AirEcho
	if l.Plan != nil {
		air = l.Plan(n)
	}
	switch air {
	case AirSilent:
		return nil
	case AirCorrupt:
		l.queue(pkt, false)
		if len(l.pending) > 0 {
			l.pending[len(l.pending)-1] ^= 0xFF
		}
	case AirCRC:
		l.queue(pkt, true)
	default:
		l.queue(pkt, false)
	}
	return nil
}

// caller holds lock
func (l *EchoLora) queue(pkt []byte, crc bool) {
	l.pending = append(l.pending[:0], pkt...)
	l.readyAt = time.Now().Add(l.Delay)
	l.crc = crc
}

// Inject makes pkt available to the next Rx immediately.
func (l *EchoLora) Inject(pkt []byte) {
	l.mu.Lock()
	l.queue(pkt, false)
	l.mu.Unlock()
}

func (l *EchoLora) Rx(timeoutMs uint32) ([]uint8, error) {
	timeout := time.Duration(timeoutMs) * time.Millisecond
	deadline := time.Now().Add(timeout)

	l.mu.Lock()
	if !l.configured {
		l.mu.Unlock()
		return nil, lora.ErrUndefinedLoraConf
	}
	if l.pending == nil && l.Beacon > 0 {
		var pkt [30]byte
		pkt[0], pkt[1] = byte(l.beaconSeq>>8), byte(l.beaconSeq)
		l.beaconSeq++
		l.pending = append([]byte(nil), pkt[:]...)
		l.readyAt = time.Now().Add(l.Beacon)
		l.crc = false
	}
	if l.pending == nil || l.readyAt.After(deadline) {
		l.mu.Unlock()
		time.Sleep(timeout)
		return nil, nil
	}
	at, pkt, crc := l.readyAt, l.pending, l.crc
	l.pending = nil
	l.mu.Unlock()

	if d := time.Until(at); d > 0 {
		time.Sleep(d)
	}
	if crc {
		return nil, errCRC
	}
	return pkt, nil
}

// TxCount returns the number of packets transmitted.
func (l *EchoLora) TxCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.txCount
}

// LastTx returns a copy of the last transmitted packet.
func (l *EchoLora) LastTx() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]byte(nil), l.lastTx...)
}

// ----------------------------- Open ------------------------------------------

// HostParts are the swappable pieces of a host platform. Nil fields get
// the Open defaults.
type HostParts struct {
	Air       *EchoLora
	ADC       *FakeADC
	PWM       *FakePWM
	Transport io.Writer
	Radio     radio.Config
}

// Open builds a host platform: an always-echoing air, a quiet ADC and
// stdout telemetry.
func Open(ctx context.Context, b Board) (halcore.Platform, error) {
	return OpenHost(ctx, b, HostParts{})
}

// OpenHost builds a host platform from parts and starts its radio context.
func OpenHost(ctx context.Context, b Board, parts HostParts) (halcore.Platform, error) {
	if parts.Air == nil {
		parts.Air = NewEchoLora(20 * time.Millisecond)
	}
	if parts.ADC == nil {
		parts.ADC = NewFakeADC(nil)
	}
	if parts.PWM == nil {
		parts.PWM = NewFakePWM(0)
	}
	if parts.Transport == nil {
		parts.Transport = os.Stdout
	}
	if parts.Radio.Lora.Freq == 0 {
		parts.Radio.Lora = radio.DefaultLora()
	}

	clk := NewMonoClock()
	r := radio.New(parts.Air, clk, parts.Radio)
	r.Start(ctx)

	alarm, led1, led2 := NewFakePin(b.Alarm), NewFakePin(b.LED1), NewFakePin(b.LED2)
	for _, p := range []*FakePin{alarm, led1, led2} {
		_ = p.ConfigureOutput(false)
	}
	return halcore.Platform{
		Radio:     r,
		PWM:       parts.PWM,
		ADC:       parts.ADC,
		Transport: parts.Transport,
		Clock:     clk,
		Alarm:     alarm,
		LED1:      led1,
		LED2:      led2,
	}, nil
}
