// Package panel is the single critical section around the node's shared
// output pins: the alarm line and the two indicator LEDs. The radio and
// sampling contexts both write here; nothing else touches the pins.
package panel

import (
	"sync"

	"echonode-go/services/hal/halcore"
)

// Action is what to do with one LED.
type Action uint8

const (
	Keep Action = iota
	On
	Off
	Toggle
)

type Panel struct {
	mu    sync.Mutex
	alarm halcore.GPIOPin
	led1  halcore.GPIOPin
	led2  halcore.GPIOPin
	on    bool
	sets  uint32
}

func New(alarm, led1, led2 halcore.GPIOPin) *Panel {
	return &Panel{alarm: alarm, led1: led1, led2: led2}
}

// SetAlarm drives the alarm output.
func (p *Panel) SetAlarm(on bool) {
	p.mu.Lock()
	p.alarm.Set(on)
	p.on = on
	p.sets++
	p.mu.Unlock()
}

// Alarm returns the last written alarm state and how many writes so far.
func (p *Panel) Alarm() (on bool, writes uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.on, p.sets
}

// Indicate applies both LED actions as one step.
func (p *Panel) Indicate(led1, led2 Action) {
	p.mu.Lock()
	apply(p.led1, led1)
	apply(p.led2, led2)
	p.mu.Unlock()
}

// LEDs reads both indicator levels.
func (p *Panel) LEDs() (led1, led2 bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.led1.Get(), p.led2.Get()
}

// Fatal shows the halt pattern: both LEDs on, alarm off.
func (p *Panel) Fatal() {
	p.mu.Lock()
	p.led1.Set(true)
	p.led2.Set(true)
	p.alarm.Set(false)
	p.on = false
	p.mu.Unlock()
}

func apply(pin halcore.GPIOPin, a Action) {
	switch a {
	case On:
		pin.Set(true)
	case Off:
		pin.Set(false)
	case Toggle:
		pin.Toggle()
	}
}
