// Package burst emits the fixed acoustic burst on the PWM carrier at an
// absolute time derived from a radio timing reference.
package burst

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"echonode-go/errcode"
	"echonode-go/services/hal/halcore"
	"echonode-go/x/mathx"
)

type Config struct {
	DutyPercent uint8         // of the carrier's DutyMax while bursting
	Duration    time.Duration // how long the duty is held
	Guard       time.Duration // minimum gap after a reserved radio slot
}

func (c Config) Validate() error {
	const op = "burst.Config"
	if c.DutyPercent == 0 || c.DutyPercent > 100 {
		return errcode.New(errcode.ConfigError, op, "duty percent out of range")
	}
	if c.Duration <= 0 {
		return errcode.New(errcode.ConfigError, op, "duration must be positive")
	}
	if c.Guard < 0 {
		return errcode.New(errcode.ConfigError, op, "negative guard")
	}
	return nil
}

// Record describes one emitted burst.
type Record struct {
	Requested halcore.Ticks // reference + offset
	Trigger   halcore.Ticks // after any push past the radio slot
	Fired     halcore.Ticks
	Ended     halcore.Ticks
	Duty      uint32
	Deferred  bool
}

// Scheduler is not re-entrant: a burst requested while another is in
// flight waits for it to finish.
type Scheduler struct {
	pwm halcore.PWM
	clk halcore.Clock
	cfg Config

	mu sync.Mutex // held for the whole burst

	slotMu    sync.Mutex
	slotSet   bool
	slotFrom  halcore.Ticks
	slotUntil halcore.Ticks

	count atomic.Uint32
}

// New starts the carrier at duty 0.
func New(pwm halcore.PWM, clk halcore.Clock, cfg Config) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := pwm.Start(); err != nil {
		return nil, errcode.Wrap(errcode.OpenFailed, "burst.New", err)
	}
	if err := pwm.SetDuty(0); err != nil {
		return nil, errcode.Wrap(errcode.OpenFailed, "burst.New", err)
	}
	return &Scheduler{pwm: pwm, clk: clk, cfg: cfg}, nil
}

// ReserveRadio marks [from, until] as a radio transmit slot. Bursts that
// would overlap it are pushed to until + Guard.
func (s *Scheduler) ReserveRadio(from, until halcore.Ticks) {
	s.slotMu.Lock()
	s.slotSet, s.slotFrom, s.slotUntil = true, from, until
	s.slotMu.Unlock()
}

// ClearRadio drops the reserved slot.
func (s *Scheduler) ClearRadio() {
	s.slotMu.Lock()
	s.slotSet = false
	s.slotMu.Unlock()
}

// Schedule bursts at ref+offset and blocks until the burst has ended.
// onFire runs just before the duty is raised.
func (s *Scheduler) Schedule(ctx context.Context, ref halcore.Ticks, offset time.Duration, onFire func()) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := Record{Requested: ref.Add(offset)}
	rec.Trigger, rec.Deferred = s.place(rec.Requested)

	if err := s.clk.SleepUntil(ctx, rec.Trigger); err != nil {
		return rec, errcode.Wrap(errcode.Cancelled, "burst.Schedule", err)
	}
	if onFire != nil {
		onFire()
	}

	rec.Duty = mathx.PercentOf(s.pwm.DutyMax(), s.cfg.DutyPercent)
	rec.Fired = s.clk.Now()
	if err := s.pwm.SetDuty(rec.Duty); err != nil {
		return rec, errcode.Wrap(errcode.Error, "burst.Schedule", err)
	}
	// The carrier must come back to zero even if ctx ends meanwhile.
	_ = s.clk.SleepUntil(context.Background(), rec.Fired.Add(s.cfg.Duration))
	err := s.pwm.SetDuty(0)
	rec.Ended = s.clk.Now()
	s.count.Add(1)
	if err != nil {
		return rec, errcode.Wrap(errcode.Error, "burst.Schedule", err)
	}
	return rec, nil
}

// Fire bursts as soon as any reserved slot allows.
func (s *Scheduler) Fire(ctx context.Context, onFire func()) (Record, error) {
	return s.Schedule(ctx, s.clk.Now(), 0, onFire)
}

// Count returns bursts completed.
func (s *Scheduler) Count() uint32 { return s.count.Load() }

func (s *Scheduler) place(at halcore.Ticks) (halcore.Ticks, bool) {
	s.slotMu.Lock()
	defer s.slotMu.Unlock()
	if !s.slotSet {
		return at, false
	}
	end := at.Add(s.cfg.Duration)
	if s.slotUntil.Add(s.cfg.Guard).After(at) && end.After(s.slotFrom) {
		return s.slotUntil.Add(s.cfg.Guard), true
	}
	return at, false
}
