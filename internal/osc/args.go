package osc

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ExpectAddress fails unless the message address equals expected exactly.
func (m Message) ExpectAddress(expected string) error {
	if m.Address != expected {
		return fmt.Errorf("%w: got %s, want %s", ErrAddressMismatch, m.Address, expected)
	}
	return nil
}

// ExpectArgs fails unless the message carries at least n arguments.
func (m Message) ExpectArgs(n int) error {
	if len(m.Arguments) < n {
		return fmt.Errorf("%w: %s has %d, need %d", ErrArgumentCount, m.Address, len(m.Arguments), n)
	}
	return nil
}

// StringAt returns argument i when it is an OSC string.
func (m Message) StringAt(i int, name string) (string, error) {
	arg, err := m.argAt(i, name, "string")
	if err != nil {
		return "", err
	}
	v, ok := arg.(String)
	if !ok {
		return "", mismatch(i, name, "string", arg)
	}
	return string(v), nil
}

// FloatAt returns argument i when it is a float32. Integers are not coerced.
func (m Message) FloatAt(i int, name string) (float32, error) {
	arg, err := m.argAt(i, name, "float32")
	if err != nil {
		return 0, err
	}
	v, ok := arg.(Float32)
	if !ok {
		return 0, mismatch(i, name, "float32", arg)
	}
	return float32(v), nil
}

// IntAt returns argument i when it is an int32. Floats are not coerced.
func (m Message) IntAt(i int, name string) (int32, error) {
	arg, err := m.argAt(i, name, "int32")
	if err != nil {
		return 0, err
	}
	v, ok := arg.(Int32)
	if !ok {
		return 0, mismatch(i, name, "int32", arg)
	}
	return int32(v), nil
}

// Uint64At reads an int32 argument and widens it to uint64, rejecting
// negative values.
func (m Message) Uint64At(i int, name string) (uint64, error) {
	v, err := m.IntAt(i, name)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, &ArgError{
			Index:  i,
			Name:   name,
			Want:   "uint64",
			Got:    "int32",
			Detail: fmt.Sprintf("value %d", v),
			Err:    ErrOutOfRange,
		}
	}
	return uint64(v), nil
}

// DecimalAt reads a string argument holding an arbitrary precision decimal.
func (m Message) DecimalAt(i int, name string) (decimal.Decimal, error) {
	s, err := m.StringAt(i, name)
	if err != nil {
		return decimal.Decimal{}, err
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, &ArgError{
			Index:  i,
			Name:   name,
			Want:   "decimal",
			Got:    "string",
			Detail: fmt.Sprintf("%q", s),
			Err:    ErrParse,
		}
	}
	return d, nil
}

// Varargs returns the arguments from start onwards after checking that they
// follow the alternating key/value convention. Offending positions are
// reported as absolute argument indexes.
func (m Message) Varargs(start int) ([]Argument, error) {
	if start < 0 {
		start = 0
	}
	if start >= len(m.Arguments) {
		return []Argument{}, nil
	}
	rest := m.Arguments[start:]
	if err := ValidateVarargs(rest); err != nil {
		if ve, ok := err.(*VarargError); ok {
			ve.Index += start
		}
		return nil, err
	}
	out := make([]Argument, len(rest))
	copy(out, rest)
	return out, nil
}

func (m Message) argAt(i int, name, want string) (Argument, error) {
	if i < 0 || i >= len(m.Arguments) {
		return nil, &ArgError{Index: i, Name: name, Want: want, Err: ErrArgumentType}
	}
	return m.Arguments[i], nil
}

func mismatch(i int, name, want string, got Argument) error {
	return &ArgError{Index: i, Name: name, Want: want, Got: got.Kind(), Err: ErrArgumentType}
}
