//go:build !rp2040 && !rp2350

package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"echonode-go/services/hal/platform"
	"echonode-go/types"
)

func TestParseScenarioDefaultsAndDurations(t *testing.T) {
	sc, err := ParseScenario([]byte(`
profile: responder
duration: 750ms
air:
  delay: 5ms
  plan: [echo, silent]
echo:
  exchange:
    tx_delay_ms: 10
`))
	if err != nil {
		t.Fatal(err)
	}
	if sc.Duration.Duration() != 750*time.Millisecond || sc.Air.Delay.Duration() != 5*time.Millisecond {
		t.Fatalf("durations %v %v", sc.Duration.Duration(), sc.Air.Delay.Duration())
	}
	if sc.ADC.Period.Duration() != 2500*time.Microsecond {
		t.Fatalf("default adc period %v", sc.ADC.Period.Duration())
	}
	plan := sc.Air.PlanFunc()
	if plan(0) != platform.AirEcho || plan(1) != platform.AirSilent || plan(2) != platform.AirEcho {
		t.Fatal("plan does not cycle")
	}
}

func TestParseScenarioRejects(t *testing.T) {
	for name, in := range map[string]string{
		"mode":     "air: {plan: [bounce]}",
		"duration": "duration: fast",
		"range":    "adc: {signal: {from: 10, to: 5}}",
	} {
		if _, err := ParseScenario([]byte(in)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestBundledScenariosParse(t *testing.T) {
	files, err := filepath.Glob("scenarios/*.yaml")
	if err != nil || len(files) == 0 {
		t.Fatalf("no scenarios: %v", err)
	}
	for _, f := range files {
		if _, err := LoadScenario(f); err != nil {
			t.Fatalf("%s: %v", f, err)
		}
	}
}

func TestApplySets(t *testing.T) {
	sc, _ := ParseScenario(nil)
	err := sc.ApplySets(`detector.threshold=70000 interval_ms=150 name="slow run" duration=2s`)
	if err != nil {
		t.Fatal(err)
	}
	if sc.Name != "slow run" || sc.Duration.Duration() != 2*time.Second {
		t.Fatalf("scenario %+v", sc)
	}
	det, _ := sc.Echo["detector"].(map[string]any)
	if det["threshold"] != 70000 || sc.Echo["interval_ms"] != 150 {
		t.Fatalf("echo overrides %#v", sc.Echo)
	}
	if err := sc.ApplySets("novalue"); err == nil {
		t.Fatal("expected error for missing '='")
	}
	if err := sc.ApplySets(`name="unterminated`); err == nil {
		t.Fatal("expected shlex error")
	}
}

func TestEchoDocumentMergesOverProfile(t *testing.T) {
	sc, _ := ParseScenario([]byte(`
profile: initiator
echo:
  interval_ms: 50
  detector:
    threshold: 65000
`))
	raw, err := echoDocument(sc)
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		Echo types.EchoConfig `json:"echo"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatal(err)
	}
	ec := doc.Echo
	if ec.Role != types.RoleInitiator || ec.IntervalMs != 50 || ec.Detector.Threshold == nil || *ec.Detector.Threshold != 65000 {
		t.Fatalf("echo %+v", ec)
	}
	// untouched profile keys survive the merge
	if ec.Detector.Passes != 4 || ec.Detector.MaxBin == nil || *ec.Detector.MaxBin != 23 {
		t.Fatalf("detector %+v", ec.Detector)
	}
}

func TestSignalGen(t *testing.T) {
	g := ADCSpec{Offset: 10, Signal: SignalSpec{Level: 100, From: 5, To: 7, Every: 2}}.Gen()
	if g(0, 4) != 10 || g(0, 5) != 110 || g(0, 7) != 10 {
		t.Fatal("signal placement")
	}
	if g(1, 5) != 10 {
		t.Fatal("signal should skip odd fills")
	}
	n := ADCSpec{Noise: 3}.Gen()
	for i := 0; i < 100; i++ {
		if v := n(i, i); v > 3 {
			t.Fatalf("noise %d out of range", v)
		}
	}
}

func TestRunInitiatorScenario(t *testing.T) {
	sc, err := ParseScenario([]byte(`
duration: 400ms
air: {delay: 5ms, plan: [echo, silent]}
adc: {signal: {level: 745, from: 250, to: 300}}
echo:
  interval_ms: 20
  exchange: {rx_timeout_ms: 40}
`))
	if err != nil {
		t.Fatal(err)
	}
	rep, err := Run(context.Background(), sc, nil)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Err != nil {
		t.Fatal(rep.Err)
	}
	if rep.Outcomes["success"] == 0 || rep.Outcomes["timeout"] == 0 {
		t.Fatalf("outcomes %v", rep.Outcomes)
	}
	if rep.Bursts != rep.Outcomes["success"] {
		t.Fatalf("bursts %d for %d successes", rep.Bursts, rep.Outcomes["success"])
	}
	if rep.AlarmsOn == 0 {
		t.Fatal("alarm never raised")
	}
	rep.Print(os.Stderr)
}
