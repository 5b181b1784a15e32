package timex

import "time"

// TickHz is the radio timer rate. Timing references, trigger times and
// radio operation deadlines are expressed in these ticks (250 ns each).
const TickHz = 4_000_000

const tickNs = int64(time.Second) / TickHz

// Ticks is a free-running 32-bit radio timestamp. It wraps roughly every
// 17.9 minutes; compare with After/Sub, never with < or >.
type Ticks uint32

// FromDuration converts d to ticks, truncating. Negative durations give 0.
func FromDuration(d time.Duration) Ticks {
	if d <= 0 {
		return 0
	}
	return Ticks(int64(d) / tickNs)
}

// Duration converts a tick count (an interval, not a timestamp) to time.
func (t Ticks) Duration() time.Duration { return time.Duration(int64(t) * tickNs) }

// Add returns t advanced by d.
func (t Ticks) Add(d time.Duration) Ticks { return t + FromDuration(d) }

// Sub returns the signed interval t-u, correct across one wrap.
func (t Ticks) Sub(u Ticks) time.Duration { return time.Duration(int64(int32(t-u)) * tickNs) }

// After reports whether t is strictly later than u (wrap-aware).
func (t Ticks) After(u Ticks) bool { return int32(t-u) > 0 }

// NowMs returns Unix milliseconds as int64.
func NowMs() int64 { return time.Now().UnixMilli() }

// PeriodFromHz returns a nanosecond period for a requested frequency.
// freqHz==0 is coerced to 1 to avoid division by zero.
func PeriodFromHz(freqHz uint32) uint64 {
	if freqHz == 0 {
		freqHz = 1
	}
	return uint64(1_000_000_000 / uint64(freqHz))
}
