//go:build !rp2040 && !rp2350

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"echonode-go/bus"
	"echonode-go/services/config"
	"echonode-go/services/echo"
	"echonode-go/services/hal/platform"
	"echonode-go/types"
)

const simDevice = "sim"

// echoDocument returns the profile's config document with the scenario's
// echo keys laid over it.
func echoDocument(sc *Scenario) ([]byte, error) {
	raw, ok := config.EmbeddedConfigLookup(sc.Profile)
	if !ok {
		return nil, fmt.Errorf("unknown profile %q", sc.Profile)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	ec, _ := doc["echo"].(map[string]any)
	if ec == nil {
		ec = map[string]any{}
		doc["echo"] = ec
	}
	merge(ec, sc.Echo)
	return json.Marshal(doc)
}

// Run plays sc against the host platform and collects a report.
func Run(ctx context.Context, sc *Scenario, telemetry io.Writer) (*Report, error) {
	doc, err := echoDocument(sc)
	if err != nil {
		return nil, err
	}
	prev := config.EmbeddedConfigLookup
	config.EmbeddedConfigLookup = func(device string) ([]byte, bool) {
		if device == simDevice {
			return doc, true
		}
		return prev(device)
	}
	defer func() { config.EmbeddedConfigLookup = prev }()

	ctx, cancel := context.WithTimeout(context.WithValue(ctx, config.CtxDeviceKey, simDevice), sc.Duration.Duration())
	defer cancel()

	air := platform.NewEchoLora(sc.Air.Delay.Duration())
	air.Plan = sc.Air.PlanFunc()
	air.Beacon = sc.Air.Beacon.Duration()
	adc := platform.NewFakeADC(sc.ADC.Gen())
	adc.Period = sc.ADC.Period.Duration()
	adc.Offset = sc.ADC.Offset
	if telemetry == nil {
		telemetry = io.Discard
	}
	plat, err := platform.OpenHost(ctx, platform.DefaultBoard(), platform.HostParts{
		Air:       air,
		ADC:       adc,
		Transport: telemetry,
	})
	if err != nil {
		return nil, err
	}

	b := bus.NewBus(64)
	obs := b.NewConnection("sim")
	exchSub := obs.Subscribe(bus.T("echo", "exchange"))
	cycleSub := obs.Subscribe(bus.T("echo", "cycle"))
	stateSub := obs.Subscribe(bus.T("echo", "state"))

	config.NewConfigService().Start(ctx, b.NewConnection("config"))
	svc := echo.New(plat)
	done := make(chan error, 1)
	start := time.Now()
	go func() { done <- svc.Run(ctx, b.NewConnection("echo")) }()

	rep := &Report{
		ID:       uuid.NewString(),
		Name:     sc.Name,
		Profile:  sc.Profile,
		Outcomes: map[string]int{},
	}
	for {
		select {
		case m := <-exchSub.Channel():
			if v, ok := m.Payload.(types.ExchangeValue); ok {
				rep.addExchange(v)
			}
		case m := <-cycleSub.Channel():
			if v, ok := m.Payload.(types.CycleSummary); ok {
				rep.addCycle(v)
			}
		case m := <-stateSub.Channel():
			if v, ok := m.Payload.(types.EchoState); ok {
				rep.State = v
			}
		case err := <-done:
			rep.Elapsed = time.Since(start)
			rep.Stats = svc.Stats()
			rep.Err = err
			rep.TxPackets = air.TxCount()
			drain(rep, exchSub, cycleSub, stateSub)
			return rep, nil
		}
	}
}

// drain picks up whatever was published before Run returned.
func drain(rep *Report, exch, cycle, state *bus.Subscription) {
	for {
		select {
		case m := <-exch.Channel():
			if v, ok := m.Payload.(types.ExchangeValue); ok {
				rep.addExchange(v)
			}
		case m := <-cycle.Channel():
			if v, ok := m.Payload.(types.CycleSummary); ok {
				rep.addCycle(v)
			}
		case m := <-state.Channel():
			if v, ok := m.Payload.(types.EchoState); ok {
				rep.State = v
			}
		default:
			return
		}
	}
}
