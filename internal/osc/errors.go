package osc

import (
	"errors"
	"fmt"
)

// Decoder errors. A datagram that fails with any of these is dropped whole.
var (
	ErrEmptyPacket     = errors.New("osc: empty packet")
	ErrTruncated       = errors.New("osc: truncated data")
	ErrTrailingBytes   = errors.New("osc: trailing bytes after packet")
	ErrInvalidAddress  = errors.New("osc: invalid address pattern")
	ErrInvalidTypeTags = errors.New("osc: invalid type tag string")
	ErrUnsupportedType = errors.New("osc: unsupported argument type")
	ErrInvalidBundle   = errors.New("osc: invalid bundle")
	ErrNestingTooDeep  = errors.New("osc: bundle nesting too deep")
)

// Accessor errors, returned to handlers reading message arguments.
var (
	ErrAddressMismatch = errors.New("osc: address mismatch")
	ErrArgumentCount   = errors.New("osc: not enough arguments")
	ErrArgumentType    = errors.New("osc: argument missing or of wrong type")
	ErrOutOfRange      = errors.New("osc: argument out of range")
	ErrParse           = errors.New("osc: argument not parseable")
	ErrVarargShape     = errors.New("osc: malformed varargs")
)

// ArgError reports a failed typed read of a single argument.
type ArgError struct {
	Index int
	Name  string
	Want  string
	// Got is the kind found at Index, empty when the index was absent.
	Got    string
	Detail string
	Err    error
}

func (e *ArgError) Error() string {
	var msg string
	switch {
	case e.Got == "":
		msg = fmt.Sprintf("osc: %s %s not found as argument %d", e.Name, e.Want, e.Index)
	case errors.Is(e.Err, ErrArgumentType):
		msg = fmt.Sprintf("osc: %s argument %d is %s, want %s", e.Name, e.Index, e.Got, e.Want)
	default:
		msg = fmt.Sprintf("osc: %s argument %d: %v", e.Name, e.Index, e.Err)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *ArgError) Unwrap() error { return e.Err }

// VarargError names the first element breaking the alternating
// string/float convention.
type VarargError struct {
	Index int
	Want  string
	Got   string
}

func (e *VarargError) Error() string {
	return fmt.Sprintf("osc: malformed varargs: argument %d is %s where %s expected", e.Index, e.Got, e.Want)
}

func (e *VarargError) Unwrap() error { return ErrVarargShape }
