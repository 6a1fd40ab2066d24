// Package osc holds the Open Sound Control data model, a decoder for the
// OSC 1.0 binary format and typed, non-coercing accessors over message
// arguments.
package osc

import (
	"fmt"
	"time"
)

// Argument is a single decoded OSC argument. The concrete types below are the
// only implementations; handlers switch on them or use the Message accessors.
type Argument interface {
	// TypeTag returns the OSC type tag character for the argument.
	TypeTag() byte
	// Kind returns a human readable type name used in diagnostics.
	Kind() string
}

type (
	Int32   int32
	Float32 float32
	String  string
	Symbol  string
	Blob    []byte
	Int64   int64
	Float64 float64
	Char    int32
	RGBA    uint32
	MIDI    [4]byte
	Bool    bool
	Nil     struct{}
	Impulse struct{}
)

func (Int32) TypeTag() byte   { return 'i' }
func (Float32) TypeTag() byte { return 'f' }
func (String) TypeTag() byte  { return 's' }
func (Symbol) TypeTag() byte  { return 'S' }
func (Blob) TypeTag() byte    { return 'b' }
func (Int64) TypeTag() byte   { return 'h' }
func (Float64) TypeTag() byte { return 'd' }
func (TimeTag) TypeTag() byte { return 't' }
func (Char) TypeTag() byte    { return 'c' }
func (RGBA) TypeTag() byte    { return 'r' }
func (MIDI) TypeTag() byte    { return 'm' }
func (Nil) TypeTag() byte     { return 'N' }
func (Impulse) TypeTag() byte { return 'I' }

func (b Bool) TypeTag() byte {
	if b {
		return 'T'
	}
	return 'F'
}

func (Int32) Kind() string   { return "int32" }
func (Float32) Kind() string { return "float32" }
func (String) Kind() string  { return "string" }
func (Symbol) Kind() string  { return "symbol" }
func (Blob) Kind() string    { return "blob" }
func (Int64) Kind() string   { return "int64" }
func (Float64) Kind() string { return "float64" }
func (TimeTag) Kind() string { return "timetag" }
func (Char) Kind() string    { return "char" }
func (RGBA) Kind() string    { return "rgba" }
func (MIDI) Kind() string    { return "midi" }
func (Bool) Kind() string    { return "bool" }
func (Nil) Kind() string     { return "nil" }
func (Impulse) Kind() string { return "impulse" }

// TimeTag is an NTP-format timestamp: seconds since 1900 in the upper 32 bits
// and fractional seconds in the lower 32 bits.
type TimeTag uint64

// Immediately is the reserved time tag meaning "process now".
const Immediately TimeTag = 1

// secondsFrom1900To1970 is the offset between the NTP and Unix epochs.
const secondsFrom1900To1970 = 2208988800

// Time converts the tag to wall clock time. Immediately maps to the zero Time.
func (t TimeTag) Time() time.Time {
	if t == Immediately {
		return time.Time{}
	}
	secs := int64(t>>32) - secondsFrom1900To1970
	frac := uint64(t & 0xffffffff)
	nanos := int64((frac * uint64(time.Second)) >> 32)
	return time.Unix(secs, nanos).UTC()
}

// NewTimeTag converts a wall clock time to an NTP time tag.
func NewTimeTag(t time.Time) TimeTag {
	secs := uint64(t.Unix() + secondsFrom1900To1970)
	frac := (uint64(t.Nanosecond()) << 32) / uint64(time.Second)
	return TimeTag(secs<<32 | frac)
}

// Packet is either a Message or a Bundle.
type Packet interface {
	isPacket()
}

// Message is an address plus an ordered argument list.
type Message struct {
	Address   string
	Arguments []Argument
}

// Bundle is an ordered group of packets sharing a time tag.
type Bundle struct {
	Time     TimeTag
	Elements []Packet
}

func (Message) isPacket() {}
func (Bundle) isPacket()  {}

// NewMessage builds a message from an address and arguments.
func NewMessage(address string, args ...Argument) Message {
	return Message{Address: address, Arguments: args}
}

// NewBundle builds an immediate bundle from the given elements.
func NewBundle(elements ...Packet) Bundle {
	return Bundle{Time: Immediately, Elements: elements}
}

func (m Message) String() string {
	return fmt.Sprintf("%s %v", m.Address, m.Arguments)
}

func (b Bundle) String() string {
	return fmt.Sprintf("#bundle[%d elements]", len(b.Elements))
}

// Describe returns a short description of a packet for log lines.
func Describe(p Packet) string {
	switch v := p.(type) {
	case Message:
		return "message " + v.Address
	case Bundle:
		return fmt.Sprintf("bundle of %d", len(v.Elements))
	default:
		return fmt.Sprintf("%T", p)
	}
}
