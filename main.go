package main

import (
	"context"
	"runtime"
	"time"

	"echonode-go/bus"
	"echonode-go/errcode"
	"echonode-go/services/config"
	"echonode-go/services/echo"
	"echonode-go/services/hal/platform"
	"echonode-go/services/heartbeat"
	"echonode-go/types"
)

// device selects the embedded profile; set with
// -ldflags "-X main.device=responder".
var device = "initiator"

func printTopicWith(prefix string, t bus.Topic) {
	print(prefix)
	print(" ")
	for i := 0; i < t.Len(); i++ {
		if i > 0 {
			print("/")
		}
		switch v := t.At(i).(type) {
		case string:
			print(v)
		case int:
			print(v)
		default:
			print("?")
		}
	}
	println()
}

func main() {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(2 * time.Second)
	println("[main] boot", device)

	ctx := context.WithValue(context.Background(), config.CtxDeviceKey, device)

	b := bus.NewBus(8)
	cfgConn := b.NewConnection("config")
	echoConn := b.NewConnection("echo")
	hbConn := b.NewConnection("heartbeat")
	uiConn := b.NewConnection("ui")

	mon := uiConn.Subscribe(bus.T("echo", "alarm"))
	go func() {
		for m := range mon.Channel() {
			if a, ok := m.Payload.(types.AlarmValue); ok {
				printTopicWith("[monitor] <-", m.Topic)
				println("[monitor] alarm", a.On, "cycle", a.Cycle, "max", uint32(a.MaxAverage), "bin", a.MaxBin)
			}
		}
	}()

	plat, err := platform.Open(ctx, platform.DefaultBoard())
	if err != nil {
		println("[main] platform:", err.Error())
		park(errcode.Of(err))
	}

	svc := echo.New(plat)
	_ = heartbeat.New(svc.Stats).Start(ctx, hbConn)
	config.NewConfigService().Start(ctx, cfgConn)

	if err := svc.Run(ctx, echoConn); err != nil {
		park(errcode.Of(err))
	}
	park(errcode.OK)
}

// park holds the node in its halt state. Only a reset leaves it.
func park(code errcode.Code) {
	for {
		println("[main] halted:", string(code))
		printMem()
		time.Sleep(10 * time.Second)
	}
}

// printMem prints a compact snapshot of runtime memory stats.
func printMem() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	println(
		"[mem]",
		"alloc:", uint32(ms.Alloc),
		"heapInuse:", uint32(ms.HeapInuse),
		"heapSys:", uint32(ms.HeapSys),
		"mallocs:", uint32(ms.Mallocs),
		"frees:", uint32(ms.Frees),
	)
}
