//go:build !rp2040 && !rp2350

package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/shlex"
	"gopkg.in/yaml.v3"

	"echonode-go/services/hal/platform"
)

type TimeDuration time.Duration

func (d *TimeDuration) UnmarshalYAML(value *yaml.Node) error {
	duration, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("echo-sim.TimeDuration: failed to parse: %s", err)
	}
	*d = TimeDuration(duration)
	return nil
}

func (d TimeDuration) Duration() time.Duration { return time.Duration(d) }

// Scenario drives one simulated run.
type Scenario struct {
	Name     string       `yaml:"name"`
	Profile  string       `yaml:"profile"`
	Duration TimeDuration `yaml:"duration"`
	Air      AirSpec      `yaml:"air"`
	ADC      ADCSpec      `yaml:"adc"`
	// Echo keys laid over the profile's echo document.
	Echo map[string]any `yaml:"echo"`
}

type AirSpec struct {
	Delay  TimeDuration `yaml:"delay"`
	Beacon TimeDuration `yaml:"beacon"`
	Plan   []string     `yaml:"plan"` // cycled; echo | silent | corrupt | crc
}

type ADCSpec struct {
	Period TimeDuration `yaml:"period"`
	Offset uint16       `yaml:"offset"`
	Noise  uint16       `yaml:"noise"` // peak raw noise added to every sample
	Signal SignalSpec   `yaml:"signal"`
}

// SignalSpec places a constant return between samples From and To of every
// Every-th buffer (0 or 1: every buffer).
type SignalSpec struct {
	Level uint16 `yaml:"level"`
	From  int    `yaml:"from"`
	To    int    `yaml:"to"`
	Every int    `yaml:"every"`
}

var airModes = map[string]platform.Air{
	"echo":    platform.AirEcho,
	"silent":  platform.AirSilent,
	"corrupt": platform.AirCorrupt,
	"crc":     platform.AirCRC,
}

func LoadScenario(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseScenario(raw)
}

func ParseScenario(raw []byte) (*Scenario, error) {
	sc := &Scenario{
		Profile:  "initiator",
		Duration: TimeDuration(3 * time.Second),
		Air:      AirSpec{Delay: TimeDuration(20 * time.Millisecond)},
		ADC:      ADCSpec{Period: TimeDuration(2500 * time.Microsecond)},
	}
	if err := yaml.Unmarshal(raw, sc); err != nil {
		return nil, fmt.Errorf("scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return sc, nil
}

func (sc *Scenario) Validate() error {
	if sc.Duration <= 0 {
		return fmt.Errorf("scenario: duration must be positive")
	}
	for _, p := range sc.Air.Plan {
		if _, ok := airModes[p]; !ok {
			return fmt.Errorf("scenario: unknown air mode %q", p)
		}
	}
	if s := sc.ADC.Signal; s.To < s.From {
		return fmt.Errorf("scenario: signal range %d..%d", s.From, s.To)
	}
	return nil
}

// ApplySets applies "key=value" overrides, e.g.
//
//	-set 'detector.threshold=70000 interval_ms=200 name="slow run"'
//
// Keys name echo document fields (dotted for nesting) except "profile",
// "name" and "duration". Values are YAML scalars.
func (sc *Scenario) ApplySets(s string) error {
	words, err := shlex.Split(s)
	if err != nil {
		return fmt.Errorf("set: %w", err)
	}
	for _, w := range words {
		k, v, ok := strings.Cut(w, "=")
		if !ok || k == "" {
			return fmt.Errorf("set: %q is not key=value", w)
		}
		var val any
		if err := yaml.Unmarshal([]byte(v), &val); err != nil {
			return fmt.Errorf("set %s: %w", k, err)
		}
		switch k {
		case "profile":
			sc.Profile = v
		case "name":
			sc.Name = v
		case "duration":
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("set duration: %w", err)
			}
			sc.Duration = TimeDuration(d)
		default:
			if sc.Echo == nil {
				sc.Echo = map[string]any{}
			}
			setPath(sc.Echo, strings.Split(k, "."), val)
		}
	}
	return sc.Validate()
}

func setPath(m map[string]any, path []string, v any) {
	for _, k := range path[:len(path)-1] {
		next, ok := m[k].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[k] = next
		}
		m = next
	}
	m[path[len(path)-1]] = v
}

// merge lays src over dst, recursing into nested objects.
func merge(dst, src map[string]any) {
	for k, v := range src {
		if sv, ok := v.(map[string]any); ok {
			if dv, ok := dst[k].(map[string]any); ok {
				merge(dv, sv)
				continue
			}
		}
		dst[k] = v
	}
}

// PlanFunc returns the air plan function, or nil for always-echo.
func (a AirSpec) PlanFunc() func(n int) platform.Air {
	if len(a.Plan) == 0 {
		return nil
	}
	modes := make([]platform.Air, len(a.Plan))
	for i, p := range a.Plan {
		modes[i] = airModes[p]
	}
	return func(n int) platform.Air { return modes[n%len(modes)] }
}

// Gen returns the raw sample generator.
func (a ADCSpec) Gen() platform.SampleGen {
	s := a.Signal
	every := s.Every
	if every < 1 {
		every = 1
	}
	return func(fill, i int) uint16 {
		v := a.Offset
		if a.Noise > 0 {
			// cheap deterministic hash noise
			h := uint32(fill*7919+i) * 2654435761
			v += uint16(h>>16) % (a.Noise + 1)
		}
		if s.Level > 0 && fill%every == 0 && i >= s.From && i < s.To {
			v += s.Level
		}
		return v
	}
}
