package socketcan

import (
	"errors"
	"fmt"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	ErrResolve     = errors.New("resolve interface")
	ErrSocket      = errors.New("socket")
	ErrConfig      = errors.New("setsockopt")
	ErrBind        = errors.New("bind")
	ErrRegister    = errors.New("register")
	ErrClosed      = errors.New("endpoint closed")
	ErrUnsupported = errors.New("socketcan: CAN_J1939 unsupported on this platform")
)

// OpError describes a failed Open step. It unwraps to both the step sentinel
// (ErrSocket, ErrConfig, ...) and the underlying system error.
type OpError struct {
	Op     error  // step sentinel
	Option string // socket option name for ErrConfig
	If     string
	Err    error
}

func (e *OpError) Error() string {
	step := e.Op.Error()
	if e.Option != "" {
		step += " " + e.Option
	}
	return fmt.Sprintf("j1939 %s: %s: %v", e.If, step, e.Err)
}

func (e *OpError) Unwrap() []error { return []error{e.Op, e.Err} }
