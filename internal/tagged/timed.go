package tagged

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/banshee-data/oscstack/internal/osc"
)

const (
	// TimedTag names bundles carrying one packet with a relative time.
	TimedTag = "timed_msg"
	// TimedInfoAddress is the address of the message holding the time.
	TimedInfoAddress = "/timed_msg_info"
)

// TimeEncoding selects how the time of a timed packet is carried on the wire.
type TimeEncoding int

const (
	// TimeFloat carries the time as a float32 argument. This is canonical.
	TimeFloat TimeEncoding = iota
	// TimeDecimalString carries the time as a string holding a decimal.
	// Older senders used it; it must be selected explicitly.
	TimeDecimalString
)

func (e TimeEncoding) String() string {
	switch e {
	case TimeFloat:
		return "float"
	case TimeDecimalString:
		return "decimal"
	default:
		return fmt.Sprintf("TimeEncoding(%d)", int(e))
	}
}

// ParseTimeEncoding maps a config value to a TimeEncoding. Empty means float.
func ParseTimeEncoding(s string) (TimeEncoding, error) {
	switch s {
	case "", "float":
		return TimeFloat, nil
	case "decimal":
		return TimeDecimalString, nil
	default:
		return TimeFloat, fmt.Errorf("unknown timed packet time encoding %q", s)
	}
}

// TimedPacket is one packet tagged with a relative time offset, used for
// ordering such as relative execution time in a sequence.
//
//	[/bundle_info, "timed_msg"]
//	[/timed_msg_info, 0.0]
//	[... packet ...]
type TimedPacket struct {
	Time   decimal.Decimal
	Packet osc.Packet
}

// Seconds returns the time as a float64.
func (t TimedPacket) Seconds() float64 {
	f, _ := t.Time.Float64()
	return f
}

// FromBundle decodes a timed packet using the canonical float encoding.
func FromBundle(b Bundle) (TimedPacket, error) {
	return ParseTimed(b, TimeFloat)
}

// ParseTimed decodes a timed packet whose time uses enc. A time carried in the
// other encoding fails; the two are never accepted together.
func ParseTimed(b Bundle, enc TimeEncoding) (TimedPacket, error) {
	if b.Tag != TimedTag {
		return TimedPacket{}, fmt.Errorf("%w: attempted to parse %q as %s", ErrWrongBundleKind, b.Tag, TimedTag)
	}
	if len(b.Contents) == 0 {
		return TimedPacket{}, missingContent(b)
	}
	info, err := b.Message(0)
	if err != nil {
		return TimedPacket{}, err
	}
	if len(b.Contents) < 2 {
		return TimedPacket{}, missingContent(b)
	}
	if err := info.ExpectAddress(TimedInfoAddress); err != nil {
		return TimedPacket{}, err
	}

	var t decimal.Decimal
	switch enc {
	case TimeFloat:
		f, err := info.FloatAt(0, "time")
		if err != nil {
			return TimedPacket{}, err
		}
		if v := float64(f); math.IsNaN(v) || math.IsInf(v, 0) {
			return TimedPacket{}, &osc.ArgError{
				Index:  0,
				Name:   "time",
				Want:   "finite float32",
				Got:    "float32",
				Detail: fmt.Sprintf("value %v", f),
				Err:    osc.ErrOutOfRange,
			}
		}
		t = decimal.NewFromFloat32(f)
	case TimeDecimalString:
		t, err = info.DecimalAt(0, "time")
		if err != nil {
			return TimedPacket{}, err
		}
	default:
		return TimedPacket{}, fmt.Errorf("unknown time encoding %v", enc)
	}

	return TimedPacket{Time: t, Packet: b.Contents[1]}, nil
}

func missingContent(b Bundle) error {
	return fmt.Errorf("%w: %s needs an info message and a packet, got %d elements", ErrMissingContent, TimedTag, len(b.Contents))
}
