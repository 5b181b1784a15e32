//go:build rp2040 || rp2350

package platform

import (
	"context"
	"machine"
	"runtime"
	"sync"
	"time"

	"echonode-go/errcode"
	"echonode-go/services/hal/halcore"
	"echonode-go/services/hal/radio"
	"echonode-go/x/mathx"
	"echonode-go/x/timex"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"
	"tinygo.org/x/drivers/sx127x"
)

// Open configures the board peripherals and starts the radio context.
// Any failure is an OpenFailed error; the node cannot run without them.
func Open(ctx context.Context, b Board) (halcore.Platform, error) {
	clk := NewMonoClock()

	alarm, led1, led2 := &rp2Pin{p: machine.Pin(b.Alarm)}, &rp2Pin{p: machine.Pin(b.LED1)}, &rp2Pin{p: machine.Pin(b.LED2)}
	for _, p := range []*rp2Pin{alarm, led1, led2} {
		_ = p.ConfigureOutput(false)
	}

	pwm, err := openPWM(b.PWM, timex.PeriodFromHz(b.PWMHz))
	if err != nil {
		return halcore.Platform{}, errcode.Wrap(errcode.OpenFailed, "platform.pwm", err)
	}

	machine.InitADC()
	adc := &rp2ADC{adc: machine.ADC{Pin: machine.Pin(b.ADC)}, step: time.Duration(timex.PeriodFromHz(b.SampleHz))}
	adc.adc.Configure(machine.ADCConfig{})

	spi := machine.SPI0
	if err := spi.Configure(machine.SPIConfig{
		Frequency: 500000,
		SCK:       machine.Pin(b.SPISCK),
		SDO:       machine.Pin(b.SPISDO),
		SDI:       machine.Pin(b.SPISDI),
	}); err != nil {
		return halcore.Platform{}, errcode.Wrap(errcode.OpenFailed, "platform.spi", err)
	}
	rst := machine.Pin(b.RadioRST)
	rst.Configure(machine.PinConfig{Mode: machine.PinOutput})
	dev := sx127x.New(spi, rst)
	rc := sx127x.NewRadioControl(machine.Pin(b.RadioNSS), machine.Pin(b.RadioDIO0), machine.Pin(b.RadioDIO1))
	if err := dev.SetRadioController(rc); err != nil {
		return halcore.Platform{}, errcode.Wrap(errcode.OpenFailed, "platform.radio", err)
	}
	dev.Reset()
	if !dev.DetectDevice() {
		return halcore.Platform{}, errcode.New(errcode.OpenFailed, "platform.radio", "sx127x not detected")
	}
	r := radio.New(dev, clk, radio.Config{Lora: radio.DefaultLora()})
	r.Start(ctx)

	hw := uartx.UART0
	_ = hw.Configure(uartx.UARTConfig{
		BaudRate: b.Baud,
		TX:       machine.Pin(b.UARTTX),
		RX:       machine.Pin(b.UARTRX),
	})

	return halcore.Platform{
		Radio:     r,
		PWM:       pwm,
		ADC:       adc,
		Transport: hw,
		Clock:     clk,
		Alarm:     alarm,
		LED1:      led1,
		LED2:      led2,
	}, nil
}

// ---- GPIO ----

type rp2Pin struct{ p machine.Pin }

func (r *rp2Pin) ConfigureOutput(initial bool) error {
	r.p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	r.p.Set(initial)
	return nil
}

func (r *rp2Pin) Set(level bool) { r.p.Set(level) }
func (r *rp2Pin) Get() bool      { return r.p.Get() }
func (r *rp2Pin) Toggle()        { r.p.Set(!r.p.Get()) }

// ---- PWM ----

// Local interface to avoid depending on an unexported concrete type in machine.
type pwmCtrl interface {
	Configure(cfg machine.PWMConfig) error
	Top() uint32
	Set(channel uint8, value uint32)
}

// Select controller handle for a given slice number (0..7).
func pwmGroupBySlice(slice uint8) pwmCtrl {
	switch slice {
	case 0:
		return machine.PWM0
	case 1:
		return machine.PWM1
	case 2:
		return machine.PWM2
	case 3:
		return machine.PWM3
	case 4:
		return machine.PWM4
	case 5:
		return machine.PWM5
	case 6:
		return machine.PWM6
	default:
		return machine.PWM7
	}
}

type rp2PWM struct {
	ctrl   pwmCtrl
	pin    machine.Pin
	chIdx  uint8 // even pin => A(0), odd pin => B(1)
	period uint64
	top    uint32
}

func openPWM(pin int, periodNs uint64) (*rp2PWM, error) {
	slice, err := machine.PWMPeripheral(machine.Pin(pin))
	if err != nil {
		return nil, err
	}
	return &rp2PWM{
		ctrl:   pwmGroupBySlice(slice),
		pin:    machine.Pin(pin),
		chIdx:  uint8(pin & 1),
		period: periodNs,
	}, nil
}

// Start configures the slice period and parks the output at duty 0.
func (p *rp2PWM) Start() error {
	if err := p.ctrl.Configure(machine.PWMConfig{Period: p.period}); err != nil {
		return err
	}
	p.pin.Configure(machine.PinConfig{Mode: machine.PinPWM})
	p.top = p.ctrl.Top()
	p.ctrl.Set(p.chIdx, 0)
	return nil
}

func (p *rp2PWM) SetDuty(d uint32) error {
	if p.top == 0 {
		return halcore.ErrNotRunning
	}
	p.ctrl.Set(p.chIdx, mathx.Min(d, p.top))
	return nil
}

func (p *rp2PWM) DutyMax() uint32 { return p.top }

// ---- ADC ----

// rp2ADC polls the converter into the conversion's buffers, one reading
// per step so bin indices keep their time meaning. The RP2040 ADC returns
// 16-bit scaled readings; they are reduced to 12 bits on capture.
type rp2ADC struct {
	adc    machine.ADC
	offset uint16
	step   time.Duration

	mu   sync.Mutex
	stop chan struct{}
}

func (a *rp2ADC) Convert(c *halcore.Conversion) error {
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
	a.stop = make(chan struct{})
	go a.run(c, a.stop)
	return nil
}

func (a *rp2ADC) run(c *halcore.Conversion, stop chan struct{}) {
	for slot := 0; ; slot ^= 1 {
		buf := c.Buffers[slot][:c.Samples]
		t0 := time.Now()
		for i := range buf {
			due := time.Duration(i) * a.step
			for time.Since(t0) < due {
			}
			buf[i] = a.adc.Get() >> 4
		}
		select {
		case <-stop:
			return
		default:
		}
		c.OnFull(buf, c.Channel)
		// The scheduler is cooperative; let the foreground run between buffers.
		runtime.Gosched()
	}
}

func (a *rp2ADC) Cancel() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stop != nil {
		close(a.stop)
		a.stop = nil
	}
	return nil
}

func (a *rp2ADC) AdjustRaw(raw []uint16) {
	for i, v := range raw {
		if v > a.offset {
			raw[i] = v - a.offset
		} else {
			raw[i] = 0
		}
	}
}

func (a *rp2ADC) ToMicroVolts(raw []uint16, out []uint32) error {
	if len(out) < len(raw) {
		return halcore.ErrInvalidOp
	}
	for i, v := range raw {
		out[i] = RawToMicroVolts(v)
	}
	return nil
}
