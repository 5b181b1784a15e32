package types

// ---- Echo service state (retained) ----

// EchoState is retained on "echo/state".
type EchoState struct {
	Level  string `json:"level"`  // "idle", "running", "fatal", "stopped"
	Role   string `json:"role"`
	Status string `json:"status"` // errcode on fatal
	TS     int64  `json:"ts_ms"`
}

// AlarmValue is retained on "echo/alarm".
type AlarmValue struct {
	On         bool   `json:"on"`
	Cycle      uint32 `json:"cycle"`
	MaxAverage uint64 `json:"max_average"`
	MaxBin     int    `json:"max_bin"`
}

// ExchangeValue is published on "echo/exchange" once per exchange.
type ExchangeValue struct {
	Seq         uint16 `json:"seq"`
	Outcome     string `json:"outcome"`
	Status      uint16 `json:"status"`
	TxStatus    uint16 `json:"tx_status"`
	RxStatus    uint16 `json:"rx_status"`
	Termination uint32 `json:"termination"`
	Echoed      bool   `json:"echoed"`
	RxLen       int    `json:"rx_len"`
	Ref         uint32 `json:"ref_ticks"`
	Burst       bool   `json:"burst"`
}

// CycleSummary is published on "echo/cycle" for each detector decision.
type CycleSummary struct {
	Cycle      uint32   `json:"cycle"`
	Buffer     uint32   `json:"buffer"`
	On         bool     `json:"on"`
	MaxAverage uint64   `json:"max_average"`
	MaxBin     int      `json:"max_bin"`
	Bins       int      `json:"bins"`
	Passes     int      `json:"passes"`
	PerPass    []uint64 `json:"per_pass,omitempty"`
}

// EchoStats is the counter snapshot the heartbeat reports.
type EchoStats struct {
	Exchanges   uint32 `json:"exchanges"`
	Successes   uint32 `json:"successes"`
	Bursts      uint32 `json:"bursts"`
	Buffers     uint32 `json:"buffers"`
	Late        uint32 `json:"late"`
	Decisions   uint32 `json:"decisions"`
	SummaryDrop uint32 `json:"summary_drop"`
	FrameDrop   uint32 `json:"frame_drop"`
}
