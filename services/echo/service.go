// Package echo is the node coordinator. It runs one radio exchange per
// loop iteration; a successful exchange schedules the acoustic burst,
// which arms sampling, and the sampling callback decides the alarm.
package echo

import (
	"context"
	"sync/atomic"
	"time"

	"echonode-go/bus"
	"echonode-go/errcode"
	"echonode-go/services/echo/internal/burst"
	"echonode-go/services/echo/internal/exchange"
	"echonode-go/services/echo/internal/panel"
	"echonode-go/services/echo/internal/peak"
	"echonode-go/services/echo/internal/sampling"
	"echonode-go/services/echo/internal/telemetry"
	"echonode-go/services/hal/halcore"
	"echonode-go/types"
	"echonode-go/x/timex"
	"echonode-go/x/util"
)

var (
	topicConfigEcho = bus.T("config", "echo")
	topicState      = bus.T("echo", "state")
	topicAlarm      = bus.T("echo", "alarm")
	topicExchange   = bus.T("echo", "exchange")
	topicCycle      = bus.T("echo", "cycle")
)

// maxReportedPasses bounds the per-pass detail carried out of the
// sampling callback.
const maxReportedPasses = 8

// note is what the sampling callback hands to the publisher. Fixed size so
// the callback never allocates.
type note struct {
	cycle, buffer uint32
	on            bool
	maxAvg        uint64
	maxBin        int
	bins, passes  int
	perPass       [maxReportedPasses]uint64
}

type Service struct {
	plat halcore.Platform
	set  Settings

	panel *panel.Panel
	ctl   *exchange.Controller
	sched *burst.Scheduler
	det   *peak.Detector
	pipe  *sampling.Pipeline
	tel   *telemetry.Writer

	notes chan note
	ready atomic.Bool

	exchanges   atomic.Uint32
	successes   atomic.Uint32
	summaryDrop atomic.Uint32
}

func New(plat halcore.Platform) *Service {
	return &Service{plat: plat, notes: make(chan note, 8)}
}

// Settings returns the resolved configuration once Run has built the node.
func (s *Service) Settings() Settings { return s.set }

// Stats snapshots the node counters. Zero until the node is built.
func (s *Service) Stats() types.EchoStats {
	if !s.ready.Load() {
		return types.EchoStats{}
	}
	buffers, late, _, decisions := s.pipe.Stats()
	st := types.EchoStats{
		Exchanges:   s.exchanges.Load(),
		Successes:   s.successes.Load(),
		Bursts:      s.sched.Count(),
		Buffers:     buffers,
		Late:        late,
		Decisions:   decisions,
		SummaryDrop: s.summaryDrop.Load(),
	}
	if s.tel != nil {
		_, st.FrameDrop, _ = s.tel.Stats()
	}
	return st
}

// Run waits for config/echo, builds the node and runs the role loop until
// ctx ends or a fatal error occurs. A fatal error is returned after the
// halt pattern is shown; the caller must not restart the loop.
func (s *Service) Run(ctx context.Context, conn *bus.Connection) error {
	s.publishState(conn, "idle", "")

	cfgSub := conn.Subscribe(topicConfigEcho)
	var ec types.EchoConfig
	select {
	case <-ctx.Done():
		conn.Unsubscribe(cfgSub)
		return nil
	case m := <-cfgSub.Channel():
		conn.Unsubscribe(cfgSub)
		if err := util.DecodeJSON(m.Payload, &ec); err != nil {
			return s.fatal(conn, errcode.Wrap(errcode.ConfigError, "echo.Run", err))
		}
	}

	set, err := Resolve(ec)
	if err != nil {
		return s.fatal(conn, err)
	}
	if err := s.build(set); err != nil {
		return s.fatal(conn, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.publisher(ctx, conn)
	if s.tel != nil {
		go s.tel.Run(ctx)
	}

	s.publishState(conn, "running", "")
	println("[echo] running as", set.Role)

	switch set.Role {
	case types.RoleMonitor:
		err = s.monitor(ctx)
	case types.RoleResponder:
		err = s.loop(ctx, conn, s.respond, 0)
	default:
		err = s.loop(ctx, conn, s.ctl.TransmitAndAwaitEcho, set.Interval)
	}
	s.pipe.Cancel()
	if err != nil {
		return s.fatal(conn, err)
	}
	s.publishState(conn, "stopped", "")
	return nil
}

// build opens every component against the platform. Any failure here is a
// configuration error.
func (s *Service) build(set Settings) error {
	const op = "echo.build"
	p := s.plat
	if p.Radio == nil || p.PWM == nil || p.ADC == nil || p.Clock == nil ||
		p.Alarm == nil || p.LED1 == nil || p.LED2 == nil {
		return errcode.New(errcode.MissingHandle, op, "platform incomplete")
	}
	s.set = set
	s.panel = panel.New(p.Alarm, p.LED1, p.LED2)

	var err error
	if s.det, err = peak.New(set.Detector); err != nil {
		return err
	}
	if set.Telemetry && p.Transport != nil {
		s.tel = telemetry.New(p.Transport, set.RingSize)
	}
	if s.pipe, err = sampling.New(p.ADC, s.det, s.panel, set.Sampling, s.sink); err != nil {
		return err
	}
	if s.sched, err = burst.New(p.PWM, p.Clock, set.Burst); err != nil {
		return err
	}
	if set.Role != types.RoleMonitor {
		if s.ctl, err = exchange.New(p.Radio, s.panel, set.Exchange); err != nil {
			return err
		}
		if err = s.ctl.Setup(); err != nil {
			return err
		}
	}
	s.ready.Store(true)
	return nil
}

type step func(ctx context.Context) (exchange.Result, error)

// loop runs exactly one exchange per iteration whatever its outcome,
// pausing between iterations.
func (s *Service) loop(ctx context.Context, conn *bus.Connection, run step, pause time.Duration) error {
	var t *time.Timer
	if pause > 0 {
		t = time.NewTimer(pause)
		defer t.Stop()
	}
	for first := true; ; first = false {
		if !first && t != nil {
			util.ResetTimer(t, pause)
			select {
			case <-ctx.Done():
			case <-t.C:
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		res, err := run(ctx)
		if err != nil {
			if errcode.IsFatal(err) {
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
			println("[echo] exchange:", err.Error())
			continue
		}
		s.exchanges.Add(1)

		fired := false
		if res.Outcome == exchange.Success {
			s.successes.Add(1)
			if fired, err = s.burstAndArm(ctx, res); err != nil {
				if errcode.IsFatal(err) {
					return err
				}
				if ctx.Err() != nil {
					return nil
				}
				println("[echo] burst:", err.Error())
			}
		}
		s.publishExchange(conn, res, fired)
	}
}

func (s *Service) respond(ctx context.Context) (exchange.Result, error) {
	return s.ctl.AwaitAndEcho(ctx, s.set.ResponderTimeout)
}

// burstAndArm emits the burst relative to the exchange's timing reference
// and arms sampling at the moment it fires. Only called on Success.
func (s *Service) burstAndArm(ctx context.Context, res exchange.Result) (bool, error) {
	s.sched.ReserveRadio(res.TxFrom, res.TxUntil)
	defer s.sched.ClearRadio()
	var armErr error
	_, err := s.sched.Schedule(ctx, res.Ref, s.set.BurstOffset, func() {
		armErr = s.pipe.Arm()
	})
	if armErr != nil {
		return false, armErr
	}
	return err == nil, err
}

// monitor samples continuously without the radio. With EmitEvery set it
// also drives the transducer as a free-running emitter.
func (s *Service) monitor(ctx context.Context) error {
	if err := s.pipe.Arm(); err != nil {
		return err
	}
	if s.set.EmitEvery <= 0 {
		<-ctx.Done()
		return nil
	}
	tk := time.NewTicker(s.set.EmitEvery)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tk.C:
		}
		if _, err := s.sched.Fire(ctx, nil); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			println("[echo] emit:", err.Error())
		}
	}
}

// sink runs in the sampling context.
func (s *Service) sink(sum *sampling.Summary) {
	if s.tel != nil {
		s.tel.Emit(sum.Buffer, sum.Samples)
	}
	n := note{
		cycle:  sum.Cycle,
		buffer: sum.Buffer,
		on:     sum.On,
		maxAvg: sum.Window.MaxAverage,
		maxBin: sum.Window.MaxBin,
		bins:   sum.Window.Bins,
		passes: sum.Window.Passes,
	}
	for i, p := range sum.Window.PerPass {
		if i == maxReportedPasses {
			break
		}
		n.perPass[i] = p.MaxAverage
	}
	select {
	case s.notes <- n:
	default:
		s.summaryDrop.Add(1)
	}
}

func (s *Service) publisher(ctx context.Context, conn *bus.Connection) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-s.notes:
			k := n.passes
			if k > maxReportedPasses {
				k = maxReportedPasses
			}
			conn.Publish(conn.NewMessage(topicCycle, types.CycleSummary{
				Cycle:      n.cycle,
				Buffer:     n.buffer,
				On:         n.on,
				MaxAverage: n.maxAvg,
				MaxBin:     n.maxBin,
				Bins:       n.bins,
				Passes:     n.passes,
				PerPass:    append([]uint64(nil), n.perPass[:k]...),
			}, false))
			conn.Publish(conn.NewMessage(topicAlarm, types.AlarmValue{
				On:         n.on,
				Cycle:      n.cycle,
				MaxAverage: n.maxAvg,
				MaxBin:     n.maxBin,
			}, true))
		}
	}
}

func (s *Service) publishExchange(conn *bus.Connection, r exchange.Result, fired bool) {
	conn.Publish(conn.NewMessage(topicExchange, types.ExchangeValue{
		Seq:         r.Seq,
		Outcome:     r.Outcome.String(),
		Status:      uint16(r.Status),
		TxStatus:    uint16(r.TxStatus),
		RxStatus:    uint16(r.RxStatus),
		Termination: uint32(r.Termination),
		Echoed:      r.Echoed,
		RxLen:       r.RxLen,
		Ref:         uint32(r.Ref),
		Burst:       fired,
	}, false))
}

func (s *Service) publishState(conn *bus.Connection, level, status string) {
	conn.Publish(conn.NewMessage(topicState, types.EchoState{
		Level:  level,
		Role:   s.set.Role,
		Status: status,
		TS:     timex.NowMs(),
	}, true))
}

// fatal shows the halt pattern and reports err on echo/state.
func (s *Service) fatal(conn *bus.Connection, err error) error {
	if s.panel == nil && s.plat.LED1 != nil && s.plat.LED2 != nil && s.plat.Alarm != nil {
		s.panel = panel.New(s.plat.Alarm, s.plat.LED1, s.plat.LED2)
	}
	if s.panel != nil {
		s.panel.Fatal()
	}
	println("[echo] fatal:", err.Error())
	s.publishState(conn, "fatal", string(errcode.Of(err)))
	return err
}
