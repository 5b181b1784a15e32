package types

// Documents supplied on "config/<key>" by the config service. Zero or
// absent fields keep the profile defaults.

// Echo roles.
const (
	RoleInitiator = "initiator"
	RoleResponder = "responder"
	RoleMonitor   = "monitor"
)

// EchoConfig is published on "config/echo".
type EchoConfig struct {
	Role       string `json:"role"`
	IntervalMs uint32 `json:"interval_ms,omitempty"` // initiator pause between cycles

	Exchange  ExchangeConfig  `json:"exchange"`
	Burst     BurstConfig     `json:"burst"`
	Detector  DetectorConfig  `json:"detector"`
	Sampling  SamplingConfig  `json:"sampling"`
	Telemetry TelemetryConfig `json:"telemetry"`
}

type ExchangeConfig struct {
	PayloadLen         int    `json:"payload_len,omitempty"`
	RxTimeoutMs        uint32 `json:"rx_timeout_ms,omitempty"`
	ResponderTimeoutMs uint32 `json:"responder_timeout_ms,omitempty"` // 0 waits forever
	TxLeadUs           uint32 `json:"tx_lead_us,omitempty"`
	TxDelayMs          uint32 `json:"tx_delay_ms,omitempty"`
	StrictTermination  *bool  `json:"strict_termination,omitempty"` // default true
	Seed               int64  `json:"seed,omitempty"`
}

type BurstConfig struct {
	OffsetUs    uint32 `json:"offset_us,omitempty"` // after the timing reference
	DurationUs  uint32 `json:"duration_us,omitempty"`
	DutyPercent uint8  `json:"duty_percent,omitempty"`
	GuardUs     uint32 `json:"guard_us,omitempty"`
	EmitEveryMs uint32 `json:"emit_every_ms,omitempty"` // monitor only: free-running emitter period, 0 off
}

type DetectorConfig struct {
	Samples   int     `json:"samples,omitempty"`
	BinWidth  int     `json:"bin_width,omitempty"`
	Norm      uint64  `json:"norm,omitempty"`
	Threshold *uint64 `json:"threshold,omitempty"`
	MaxBin    *int    `json:"max_bin,omitempty"` // -1 disables the window test
	Passes    int     `json:"passes,omitempty"`
}

type SamplingConfig struct {
	Channel             int   `json:"channel,omitempty"`
	CancelAfterDecision *bool `json:"cancel_after_decision,omitempty"`
	IndependentPasses   bool  `json:"independent_passes,omitempty"`
}

type TelemetryConfig struct {
	Disabled bool `json:"disabled,omitempty"`
	RingSize int  `json:"ring_size,omitempty"` // power of two >= 512
}

// HeartbeatConfig is published on "config/heartbeat".
type HeartbeatConfig struct {
	Interval float64 `json:"interval"` // seconds
}
