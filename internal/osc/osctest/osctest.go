// Package osctest builds OSC datagrams for tests. The stack itself only ever
// decodes; fixtures are produced here so tests can feed real wire bytes into
// the decoder, the listener and the pcap replay.
package osctest

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/banshee-data/oscstack/internal/osc"
)

// Marshal encodes a packet in the OSC 1.0 binary format. It panics on
// argument types it cannot encode, which only happens on a broken fixture.
func Marshal(p osc.Packet) []byte {
	switch v := p.(type) {
	case osc.Message:
		return appendMessage(nil, v)
	case osc.Bundle:
		return appendBundle(nil, v)
	default:
		panic(fmt.Sprintf("osctest: unknown packet %T", p))
	}
}

// Tagged builds a bundle following the /bundle_info convention.
func Tagged(tag string, contents ...osc.Packet) osc.Bundle {
	elems := make([]osc.Packet, 0, len(contents)+1)
	elems = append(elems, osc.NewMessage("/bundle_info", osc.String(tag)))
	elems = append(elems, contents...)
	return osc.NewBundle(elems...)
}

// Timed builds a timed_msg tagged bundle with a float32 time.
func Timed(t float32, p osc.Packet) osc.Bundle {
	return Tagged("timed_msg", osc.NewMessage("/timed_msg_info", osc.Float32(t)), p)
}

// TimedDecimal builds a timed_msg tagged bundle using the legacy
// string-encoded decimal time.
func TimedDecimal(t string, p osc.Packet) osc.Bundle {
	return Tagged("timed_msg", osc.NewMessage("/timed_msg_info", osc.String(t)), p)
}

func appendMessage(b []byte, m osc.Message) []byte {
	b = appendString(b, m.Address)
	tags := []byte{','}
	for _, arg := range m.Arguments {
		tags = append(tags, arg.TypeTag())
	}
	b = appendString(b, string(tags))
	for _, arg := range m.Arguments {
		b = appendArgument(b, arg)
	}
	return b
}

func appendBundle(b []byte, bundle osc.Bundle) []byte {
	b = append(b, "#bundle\x00"...)
	b = binary.BigEndian.AppendUint64(b, uint64(bundle.Time))
	for _, elem := range bundle.Elements {
		encoded := Marshal(elem)
		b = binary.BigEndian.AppendUint32(b, uint32(len(encoded)))
		b = append(b, encoded...)
	}
	return b
}

func appendArgument(b []byte, arg osc.Argument) []byte {
	switch v := arg.(type) {
	case osc.Int32:
		return binary.BigEndian.AppendUint32(b, uint32(v))
	case osc.Float32:
		return binary.BigEndian.AppendUint32(b, math.Float32bits(float32(v)))
	case osc.Char:
		return binary.BigEndian.AppendUint32(b, uint32(v))
	case osc.RGBA:
		return binary.BigEndian.AppendUint32(b, uint32(v))
	case osc.MIDI:
		return append(b, v[:]...)
	case osc.Int64:
		return binary.BigEndian.AppendUint64(b, uint64(v))
	case osc.Float64:
		return binary.BigEndian.AppendUint64(b, math.Float64bits(float64(v)))
	case osc.TimeTag:
		return binary.BigEndian.AppendUint64(b, uint64(v))
	case osc.String:
		return appendString(b, string(v))
	case osc.Symbol:
		return appendString(b, string(v))
	case osc.Blob:
		b = binary.BigEndian.AppendUint32(b, uint32(len(v)))
		b = append(b, v...)
		return padTo4(b)
	case osc.Bool, osc.Nil, osc.Impulse:
		return b
	default:
		panic(fmt.Sprintf("osctest: cannot encode %T", arg))
	}
}

func appendString(b []byte, s string) []byte {
	b = append(b, s...)
	b = append(b, 0)
	return padTo4(b)
}

func padTo4(b []byte) []byte {
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	return b
}
