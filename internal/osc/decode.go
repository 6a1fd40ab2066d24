package osc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// MaxBundleNesting bounds how deeply bundles may nest inside one datagram.
const MaxBundleNesting = 64

var bundlePrefix = []byte("#bundle\x00")

// Decode parses one OSC packet from a complete datagram. The returned packet
// does not alias data, so the caller may reuse its buffer.
func Decode(data []byte) (Packet, error) {
	return decodePacket(data, 0)
}

func decodePacket(data []byte, depth int) (Packet, error) {
	if len(data) == 0 {
		return nil, ErrEmptyPacket
	}
	switch {
	case data[0] == '/':
		return decodeMessage(data)
	case bytes.HasPrefix(data, bundlePrefix):
		if depth >= MaxBundleNesting {
			return nil, ErrNestingTooDeep
		}
		return decodeBundle(data, depth)
	case data[0] == '#':
		return nil, fmt.Errorf("%w: bad bundle header", ErrInvalidBundle)
	default:
		return nil, fmt.Errorf("%w: packet starts with %q", ErrInvalidAddress, data[0])
	}
}

func decodeMessage(data []byte) (Packet, error) {
	addr, off, err := readString(data, 0)
	if err != nil {
		return nil, fmt.Errorf("read address: %w", err)
	}
	msg := Message{Address: addr}

	// OSC 1.0 tolerates messages without a type tag string.
	if off == len(data) {
		return msg, nil
	}

	tags, off, err := readString(data, off)
	if err != nil {
		return nil, fmt.Errorf("read type tags: %w", err)
	}
	if len(tags) == 0 || tags[0] != ',' {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTypeTags, tags)
	}
	tags = tags[1:]

	if len(tags) > 0 {
		msg.Arguments = make([]Argument, 0, len(tags))
	}
	for i := 0; i < len(tags); i++ {
		var arg Argument
		arg, off, err = readArgument(data, off, tags[i])
		if err != nil {
			return nil, fmt.Errorf("argument %d (%c): %w", i, tags[i], err)
		}
		msg.Arguments = append(msg.Arguments, arg)
	}
	if off != len(data) {
		return nil, fmt.Errorf("%w: %d bytes after %s", ErrTrailingBytes, len(data)-off, addr)
	}
	return msg, nil
}

func decodeBundle(data []byte, depth int) (Packet, error) {
	off := len(bundlePrefix)
	if len(data) < off+8 {
		return nil, fmt.Errorf("bundle time tag: %w", ErrTruncated)
	}
	bundle := Bundle{Time: TimeTag(binary.BigEndian.Uint64(data[off : off+8]))}
	off += 8

	for off < len(data) {
		if len(data)-off < 4 {
			return nil, fmt.Errorf("bundle element size: %w", ErrTruncated)
		}
		size := int32(binary.BigEndian.Uint32(data[off : off+4]))
		off += 4
		if size <= 0 || size%4 != 0 {
			return nil, fmt.Errorf("%w: element size %d", ErrInvalidBundle, size)
		}
		if int(size) > len(data)-off {
			return nil, fmt.Errorf("bundle element of %d bytes: %w", size, ErrTruncated)
		}
		elem, err := decodePacket(data[off:off+int(size)], depth+1)
		if err != nil {
			return nil, fmt.Errorf("bundle element %d: %w", len(bundle.Elements), err)
		}
		bundle.Elements = append(bundle.Elements, elem)
		off += int(size)
	}
	return bundle, nil
}

func readArgument(data []byte, off int, tag byte) (Argument, int, error) {
	switch tag {
	case 'i':
		v, next, err := readUint32(data, off)
		return Int32(int32(v)), next, err
	case 'f':
		v, next, err := readUint32(data, off)
		return Float32(math.Float32frombits(v)), next, err
	case 'c':
		v, next, err := readUint32(data, off)
		return Char(int32(v)), next, err
	case 'r':
		v, next, err := readUint32(data, off)
		return RGBA(v), next, err
	case 'm':
		if len(data)-off < 4 {
			return nil, off, ErrTruncated
		}
		var m MIDI
		copy(m[:], data[off:off+4])
		return m, off + 4, nil
	case 'h':
		v, next, err := readUint64(data, off)
		return Int64(int64(v)), next, err
	case 'd':
		v, next, err := readUint64(data, off)
		return Float64(math.Float64frombits(v)), next, err
	case 't':
		v, next, err := readUint64(data, off)
		return TimeTag(v), next, err
	case 's':
		s, next, err := readString(data, off)
		return String(s), next, err
	case 'S':
		s, next, err := readString(data, off)
		return Symbol(s), next, err
	case 'b':
		return readBlob(data, off)
	case 'T':
		return Bool(true), off, nil
	case 'F':
		return Bool(false), off, nil
	case 'N':
		return Nil{}, off, nil
	case 'I':
		return Impulse{}, off, nil
	default:
		return nil, off, fmt.Errorf("%w: %q", ErrUnsupportedType, tag)
	}
}

// readString reads a NUL terminated string padded to a four byte boundary.
func readString(data []byte, off int) (string, int, error) {
	if off >= len(data) {
		return "", off, ErrTruncated
	}
	end := bytes.IndexByte(data[off:], 0)
	if end < 0 {
		return "", off, ErrTruncated
	}
	s := string(data[off : off+end])
	next := pad4(off + end + 1)
	if next > len(data) {
		return "", off, ErrTruncated
	}
	return s, next, nil
}

func readBlob(data []byte, off int) (Argument, int, error) {
	size, next, err := readUint32(data, off)
	if err != nil {
		return nil, off, err
	}
	n := int(int32(size))
	if n < 0 || n > len(data)-next {
		return nil, off, ErrTruncated
	}
	end := pad4(next + n)
	if end > len(data) {
		return nil, off, ErrTruncated
	}
	blob := make(Blob, n)
	copy(blob, data[next:next+n])
	return blob, end, nil
}

func readUint32(data []byte, off int) (uint32, int, error) {
	if len(data)-off < 4 {
		return 0, off, ErrTruncated
	}
	return binary.BigEndian.Uint32(data[off : off+4]), off + 4, nil
}

func readUint64(data []byte, off int) (uint64, int, error) {
	if len(data)-off < 8 {
		return 0, off, ErrTruncated
	}
	return binary.BigEndian.Uint64(data[off : off+8]), off + 8, nil
}

func pad4(n int) int {
	return (n + 3) &^ 3
}
