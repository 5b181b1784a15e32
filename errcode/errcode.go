package errcode

// Code is a stable, bus-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK             Code = "ok"
	Busy           Code = "busy"
	Unsupported    Code = "unsupported"
	InvalidParams  Code = "invalid_params"
	InvalidPayload Code = "invalid_payload"
	Timeout        Code = "timeout"
	Cancelled      Code = "cancelled"

	// Configuration errors halt the node.
	ConfigError   Code = "config_error"
	OpenFailed    Code = "open_failed"
	MissingHandle Code = "missing_handle"

	// Radio classification.
	UnknownTermination Code = "unknown_termination"
	UnknownStatus      Code = "unknown_status"
	ProtocolError      Code = "protocol_error"

	// Sampling.
	ConvertFailed Code = "convert_failed"
	NotArmed      Code = "not_armed"

	Error Code = "error" // generic fallback
)

// Optional wrapper when we want to keep context and a cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Wrap builds an *E for op with code c and optional cause.
func Wrap(c Code, op string, cause error) *E { return &E{C: c, Op: op, Err: cause} }

// Newf-free constructor with a short message.
func New(c Code, op, msg string) *E { return &E{C: c, Op: op, Msg: msg} }

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Error
}

// IsFatal reports whether err must halt the node.
func IsFatal(err error) bool {
	switch Of(err) {
	case ConfigError, OpenFailed, MissingHandle, UnknownTermination, UnknownStatus, ConvertFailed:
		return true
	}
	return false
}
