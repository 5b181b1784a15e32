package echo

import (
	"testing"
	"time"

	"echonode-go/errcode"
	"echonode-go/services/echo/internal/peak"
	"echonode-go/types"
)

func TestResolveRoleDefaults(t *testing.T) {
	cases := []struct {
		role      string
		threshold uint64
		maxBin    int
		passes    int
		cancel    bool
	}{
		{types.RoleInitiator, 50000, 23, 4, true},
		{types.RoleResponder, 15000, 23, 4, true},
		{types.RoleMonitor, 150000, peak.NoWindow, 1, false},
	}
	for _, tc := range cases {
		s, err := Resolve(types.EchoConfig{Role: tc.role})
		if err != nil {
			t.Fatalf("%s: %v", tc.role, err)
		}
		d := s.Detector
		if d.Threshold != tc.threshold || d.MaxBin != tc.maxBin || d.Passes != tc.passes {
			t.Fatalf("%s: detector %+v", tc.role, d)
		}
		if s.Sampling.CancelAfterDecision != tc.cancel {
			t.Fatalf("%s: cancel %v", tc.role, s.Sampling.CancelAfterDecision)
		}
		if !s.Exchange.StrictTermination {
			t.Fatalf("%s: strict termination should default on", tc.role)
		}
		if d.Samples != 500 || d.BinWidth != 50 {
			t.Fatalf("%s: geometry %+v", tc.role, d)
		}
	}
}

func TestResolveOverrides(t *testing.T) {
	lenient, keep, window := false, true, 30
	th := uint64(70000)
	s, err := Resolve(types.EchoConfig{
		Role:       types.RoleMonitor,
		IntervalMs: 250,
		Exchange:   types.ExchangeConfig{RxTimeoutMs: 80, StrictTermination: &lenient},
		Burst:      types.BurstConfig{OffsetUs: 1500, DurationUs: 2000, DutyPercent: 25, EmitEveryMs: 200},
		Detector:   types.DetectorConfig{Threshold: &th, MaxBin: &window, Passes: 2},
		Sampling:   types.SamplingConfig{CancelAfterDecision: &keep, IndependentPasses: true},
		Telemetry:  types.TelemetryConfig{RingSize: 4096},
	})
	if err != nil {
		t.Fatal(err)
	}
	if s.Interval != 250*time.Millisecond || s.Exchange.RxTimeout != 80*time.Millisecond || s.Exchange.StrictTermination {
		t.Fatalf("exchange %+v interval %v", s.Exchange, s.Interval)
	}
	if s.BurstOffset != 1500*time.Microsecond || s.Burst.Duration != 2*time.Millisecond || s.Burst.DutyPercent != 25 {
		t.Fatalf("burst %+v offset %v", s.Burst, s.BurstOffset)
	}
	if s.EmitEvery != 200*time.Millisecond {
		t.Fatalf("emit every %v", s.EmitEvery)
	}
	if s.Detector.Threshold != 70000 || s.Detector.MaxBin != 30 || s.Detector.Passes != 2 {
		t.Fatalf("detector %+v", s.Detector)
	}
	if !s.Sampling.CancelAfterDecision || !s.Sampling.IndependentPasses || s.RingSize != 4096 {
		t.Fatalf("sampling %+v ring %d", s.Sampling, s.RingSize)
	}
}

func TestResolveRejects(t *testing.T) {
	below := -2
	for name, c := range map[string]types.EchoConfig{
		"role":   {Role: "beacon"},
		"ring":   {Role: types.RoleInitiator, Telemetry: types.TelemetryConfig{RingSize: 1000}},
		"maxbin": {Role: types.RoleInitiator, Detector: types.DetectorConfig{MaxBin: &below}},
		"emit":   {Role: types.RoleInitiator, Burst: types.BurstConfig{EmitEveryMs: 100}},
	} {
		if _, err := Resolve(c); errcode.Of(err) != errcode.ConfigError {
			t.Fatalf("%s: err = %v", name, err)
		}
	}
}

func TestResolveZeroThreshold(t *testing.T) {
	zero := uint64(0)
	s, err := Resolve(types.EchoConfig{Role: types.RoleInitiator, Detector: types.DetectorConfig{Threshold: &zero}})
	if err != nil {
		t.Fatal(err)
	}
	if s.Detector.Threshold != 0 {
		t.Fatalf("threshold = %d, want 0", s.Detector.Threshold)
	}
}
