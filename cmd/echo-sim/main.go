//go:build !rp2040 && !rp2350

// Command echo-sim runs the echo node against simulated air and a
// synthetic converter and reports what it decided.
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
)

func main() {
	var (
		scenarioPath = flag.String("scenario", "", "scenario YAML file (defaults apply when empty)")
		sets         = flag.String("set", "", "space separated key=value overrides")
		telemetry    = flag.String("telemetry", "", "write telemetry frames to this file, - for stdout")
	)
	flag.Parse()

	var (
		sc  *Scenario
		err error
	)
	if *scenarioPath != "" {
		sc, err = LoadScenario(*scenarioPath)
	} else {
		sc, err = ParseScenario(nil)
	}
	if err != nil {
		log.Fatal(err)
	}
	if *sets != "" {
		if err := sc.ApplySets(*sets); err != nil {
			log.Fatal(err)
		}
	}

	var out io.Writer
	switch *telemetry {
	case "":
	case "-":
		out = os.Stdout
	default:
		f, err := os.Create(*telemetry)
		if err != nil {
			log.Fatal(err)
		}
		defer f.Close()
		out = f
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rep, err := Run(ctx, sc, out)
	if err != nil {
		log.Fatal(err)
	}
	rep.Print(os.Stdout)
	if rep.Err != nil {
		os.Exit(1)
	}
}
