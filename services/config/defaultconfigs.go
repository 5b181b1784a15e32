package config

// Embedded per-profile configuration. Key: device profile (the value placed
// in ctx under CtxDeviceKey). Fields left out take the echo service
// defaults.

const cfgInitiator = `{
  "echo": {
    "role": "initiator",
    "interval_ms": 1000,
    "exchange": {"payload_len": 30, "rx_timeout_ms": 500, "tx_lead_us": 100},
    "burst": {"offset_us": 0, "duration_us": 1000, "duty_percent": 50, "guard_us": 100},
    "detector": {"samples": 500, "bin_width": 50, "threshold": 50000, "max_bin": 23, "passes": 4},
    "sampling": {"channel": 0, "cancel_after_decision": true}
  },
  "heartbeat": {"interval": 5}
}`

const cfgResponder = `{
  "echo": {
    "role": "responder",
    "exchange": {"payload_len": 30, "tx_delay_ms": 100},
    "burst": {"offset_us": 0, "duration_us": 1000, "duty_percent": 50, "guard_us": 100},
    "detector": {"samples": 500, "bin_width": 50, "threshold": 15000, "max_bin": 23, "passes": 4},
    "sampling": {"channel": 0, "cancel_after_decision": true}
  },
  "heartbeat": {"interval": 5}
}`

const cfgMonitor = `{
  "echo": {
    "role": "monitor",
    "detector": {"samples": 500, "bin_width": 50, "threshold": 150000, "max_bin": -1, "passes": 1},
    "sampling": {"channel": 0, "cancel_after_decision": false}
  },
  "heartbeat": {"interval": 2}
}`

var embeddedConfigs = map[string][]byte{
	"initiator": []byte(cfgInitiator),
	"responder": []byte(cfgResponder),
	"monitor":   []byte(cfgMonitor),
}
