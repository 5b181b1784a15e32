//go:build !rp2040 && !rp2350

package main

import (
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"gonum.org/v1/gonum/stat"

	"echonode-go/errcode"
	"echonode-go/types"
)

type Report struct {
	ID        string
	Name      string
	Profile   string
	Elapsed   time.Duration
	Outcomes  map[string]int
	Exchanges int
	Echoed    int
	Bursts    int
	Cycles    int
	AlarmsOn  int
	MaxBins   map[int]int
	maxAvgs   []float64
	TxPackets int
	Stats     types.EchoStats
	State     types.EchoState
	Err       error
}

func (r *Report) addExchange(v types.ExchangeValue) {
	r.Exchanges++
	r.Outcomes[v.Outcome]++
	if v.Echoed {
		r.Echoed++
	}
	if v.Burst {
		r.Bursts++
	}
}

func (r *Report) addCycle(v types.CycleSummary) {
	r.Cycles++
	if v.On {
		r.AlarmsOn++
	}
	if r.MaxBins == nil {
		r.MaxBins = map[int]int{}
	}
	r.MaxBins[v.MaxBin]++
	r.maxAvgs = append(r.maxAvgs, float64(v.MaxAverage))
}

// MaxAverageStats returns mean, standard deviation and median of the
// decided window maxima. A single decision has no spread: sd is 0.
func (r *Report) MaxAverageStats() (mean, std, median float64) {
	if len(r.maxAvgs) == 0 {
		return 0, 0, 0
	}
	if len(r.maxAvgs) == 1 {
		mean = r.maxAvgs[0]
	} else {
		mean, std = stat.MeanStdDev(r.maxAvgs, nil)
	}
	sorted := append([]float64(nil), r.maxAvgs...)
	sort.Float64s(sorted)
	median = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	return mean, std, median
}

// si formats v with an SI prefix and two decimals, rounded half away
// from zero. FtoaWithDigits alone truncates.
func si(v float64) string {
	f, suffix := humanize.ComputeSI(v)
	return humanize.FtoaWithDigits(math.Round(f*100)/100, 2) + suffix
}

func (r *Report) Print(w io.Writer) {
	fmt.Fprintf(w, "run %s", r.ID)
	if r.Name != "" {
		fmt.Fprintf(w, " (%s)", r.Name)
	}
	fmt.Fprintf(w, "\nprofile %s, %s simulated\n", r.Profile, r.Elapsed.Round(time.Millisecond))

	if r.Exchanges > 0 {
		fmt.Fprintf(w, "exchanges %s, echoed %s, bursts %s, packets sent %s\n",
			humanize.Comma(int64(r.Exchanges)), humanize.Comma(int64(r.Echoed)),
			humanize.Comma(int64(r.Bursts)), humanize.Comma(int64(r.TxPackets)))
		keys := make([]string, 0, len(r.Outcomes))
		for k := range r.Outcomes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %-15s %s\n", k, humanize.Comma(int64(r.Outcomes[k])))
		}
	}

	fmt.Fprintf(w, "decisions %s, alarm on %s", humanize.Comma(int64(r.Cycles)), humanize.Comma(int64(r.AlarmsOn)))
	if r.Cycles > 0 {
		fmt.Fprintf(w, " (%s%%)", humanize.FtoaWithDigits(100*float64(r.AlarmsOn)/float64(r.Cycles), 1))
	}
	fmt.Fprintln(w)
	if mean, std, median := r.MaxAverageStats(); r.Cycles > 0 {
		fmt.Fprintf(w, "window max average: mean %s, sd %s, median %s\n", si(mean), si(std), si(median))
	}

	st := r.Stats
	fmt.Fprintf(w, "buffers %s, late %s, dropped summaries %s, dropped frames %s\n",
		humanize.Comma(int64(st.Buffers)), humanize.Comma(int64(st.Late)),
		humanize.Comma(int64(st.SummaryDrop)), humanize.Comma(int64(st.FrameDrop)))

	if r.Err != nil {
		fmt.Fprintf(w, "halted: %s (%s)\n", errcode.Of(r.Err), r.Err)
	} else if r.State.Level != "" {
		fmt.Fprintf(w, "final state: %s\n", r.State.Level)
	}
}
