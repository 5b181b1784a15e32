package echo

import (
	"time"

	"echonode-go/errcode"
	"echonode-go/services/echo/internal/burst"
	"echonode-go/services/echo/internal/exchange"
	"echonode-go/services/echo/internal/peak"
	"echonode-go/services/echo/internal/sampling"
	"echonode-go/types"
)

// Settings is a resolved EchoConfig: profile defaults with the published
// document laid over them.
type Settings struct {
	Role             string
	Interval         time.Duration
	ResponderTimeout time.Duration
	BurstOffset      time.Duration
	EmitEvery        time.Duration // monitor emitter period; 0 disables

	Exchange exchange.Config
	Burst    burst.Config
	Detector peak.Config
	Sampling sampling.Config

	Telemetry bool
	RingSize  int
}

// roleDefaults are the per-deployment thresholds and windows.
var roleDefaults = map[string]struct {
	threshold uint64
	maxBin    int
	passes    int
	cancel    bool
}{
	types.RoleInitiator: {threshold: 50000, maxBin: 23, passes: 4, cancel: true},
	types.RoleResponder: {threshold: 15000, maxBin: 23, passes: 4, cancel: true},
	types.RoleMonitor:   {threshold: 150000, maxBin: peak.NoWindow, passes: 1, cancel: false},
}

func us(v uint32) time.Duration { return time.Duration(v) * time.Microsecond }
func ms(v uint32) time.Duration { return time.Duration(v) * time.Millisecond }

// Resolve applies defaults and checks everything that can be checked
// without hardware. Component constructors validate the rest.
func Resolve(c types.EchoConfig) (Settings, error) {
	const op = "echo.Resolve"
	rd, ok := roleDefaults[c.Role]
	if !ok {
		return Settings{}, errcode.New(errcode.ConfigError, op, "unknown role "+c.Role)
	}

	s := Settings{
		Role:             c.Role,
		Interval:         time.Second,
		ResponderTimeout: ms(c.Exchange.ResponderTimeoutMs),
		BurstOffset:      us(c.Burst.OffsetUs),
		Exchange: exchange.Config{
			PayloadLen:        30,
			RxTimeout:         500 * time.Millisecond,
			TxLead:            100 * time.Microsecond,
			TxDelay:           100 * time.Millisecond,
			StrictTermination: true,
			Seed:              c.Exchange.Seed,
		},
		Burst: burst.Config{
			DutyPercent: 50,
			Duration:    time.Millisecond,
			Guard:       100 * time.Microsecond,
		},
		Detector: peak.Config{
			Samples:   500,
			BinWidth:  50,
			Norm:      c.Detector.Norm,
			Threshold: rd.threshold,
			MaxBin:    rd.maxBin,
			Passes:    rd.passes,
		},
		Sampling: sampling.Config{
			Channel:             c.Sampling.Channel,
			CancelAfterDecision: rd.cancel,
			IndependentPasses:   c.Sampling.IndependentPasses,
		},
		Telemetry: !c.Telemetry.Disabled,
		RingSize:  2048,
	}

	if c.IntervalMs > 0 {
		s.Interval = ms(c.IntervalMs)
	}
	e := c.Exchange
	if e.PayloadLen > 0 {
		s.Exchange.PayloadLen = e.PayloadLen
	}
	if e.RxTimeoutMs > 0 {
		s.Exchange.RxTimeout = ms(e.RxTimeoutMs)
	}
	if e.TxLeadUs > 0 {
		s.Exchange.TxLead = us(e.TxLeadUs)
	}
	if e.TxDelayMs > 0 {
		s.Exchange.TxDelay = ms(e.TxDelayMs)
	}
	if e.StrictTermination != nil {
		s.Exchange.StrictTermination = *e.StrictTermination
	}

	b := c.Burst
	if b.DurationUs > 0 {
		s.Burst.Duration = us(b.DurationUs)
	}
	if b.DutyPercent > 0 {
		s.Burst.DutyPercent = b.DutyPercent
	}
	if b.GuardUs > 0 {
		s.Burst.Guard = us(b.GuardUs)
	}
	if b.EmitEveryMs > 0 {
		if c.Role != types.RoleMonitor {
			return Settings{}, errcode.New(errcode.ConfigError, op, "emit_every_ms is monitor only")
		}
		s.EmitEvery = ms(b.EmitEveryMs)
	}

	d := c.Detector
	if d.Samples > 0 {
		s.Detector.Samples = d.Samples
	}
	if d.BinWidth > 0 {
		s.Detector.BinWidth = d.BinWidth
	}
	if d.Threshold != nil {
		s.Detector.Threshold = *d.Threshold
	}
	if d.MaxBin != nil {
		s.Detector.MaxBin = *d.MaxBin
	}
	if d.Passes > 0 {
		s.Detector.Passes = d.Passes
	}
	if c.Sampling.CancelAfterDecision != nil {
		s.Sampling.CancelAfterDecision = *c.Sampling.CancelAfterDecision
	}

	if n := c.Telemetry.RingSize; n > 0 {
		if n < 512 || n&(n-1) != 0 {
			return Settings{}, errcode.New(errcode.ConfigError, op, "telemetry ring size must be a power of two >= 512")
		}
		s.RingSize = n
	}
	if s.Detector.MaxBin < peak.NoWindow {
		return Settings{}, errcode.New(errcode.ConfigError, op, "max_bin below -1")
	}
	return s, nil
}
