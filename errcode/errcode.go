// Package errcode defines the closed set of sensor error codes shared by
// every driver and by the acquisition framework.
package errcode

import "github.com/pkg/errors"

// Code is a stable sensor error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK                  Code = "ok"
	NotInitialized      Code = "not_initialized"
	CommunicationError  Code = "communication_error"
	InvalidData         Code = "invalid_data"
	Timeout             Code = "timeout"
	CalibrationRequired Code = "calibration_required"
	HardwareFailure     Code = "hardware_failure"
	WarmingUp           Code = "warming_up"
	ConfigError         Code = "config_error"

	Error Code = "error" // generic fallback
)

// Describe returns the human wording used in log lines.
func (c Code) Describe() string {
	switch c {
	case OK:
		return "OK"
	case NotInitialized:
		return "Sensor not initialized"
	case CommunicationError:
		return "Communication error"
	case InvalidData:
		return "Invalid data received"
	case Timeout:
		return "Operation timed out"
	case CalibrationRequired:
		return "Calibration required"
	case HardwareFailure:
		return "Hardware failure"
	case WarmingUp:
		return "Sensor warming up"
	case ConfigError:
		return "Configuration error"
	default:
		return "Error"
	}
}

// E keeps a code together with the failing operation and a cause.
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

// New returns a coded error for op with a short message.
func New(c Code, op, msg string) error {
	return &E{C: c, Op: op, Msg: msg}
}

// Wrap attaches a code and op to err. A nil err yields nil.
func Wrap(c Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &E{C: c, Op: op, Err: err}
}

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	type coder interface{ Code() Code }
	var x coder
	if errors.As(err, &x) {
		return x.Code()
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return Error
}

// Is reports whether err carries code c anywhere in its chain.
func Is(err error, c Code) bool { return Of(err) == c }
