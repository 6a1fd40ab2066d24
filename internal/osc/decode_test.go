package osc_test

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/oscstack/internal/osc"
	"github.com/banshee-data/oscstack/internal/osc/osctest"
)

func TestDecode_MessageRoundTrip(t *testing.T) {
	msg := osc.NewMessage("/s_new",
		osc.String("default"),
		osc.Int32(1001),
		osc.Float32(0.5),
		osc.Int64(-7),
		osc.Float64(3.25),
		osc.Blob{1, 2, 3},
		osc.Bool(true),
		osc.Bool(false),
		osc.Nil{},
		osc.Impulse{},
		osc.Symbol("sym"),
		osc.Char('x'),
		osc.RGBA(0xff00ff00),
		osc.MIDI{0, 0x90, 60, 100},
		osc.TimeTag(42),
	)

	got, err := osc.Decode(osctest.Marshal(msg))
	require.NoError(t, err)
	if diff := cmp.Diff(osc.Packet(msg), got); diff != "" {
		t.Errorf("decoded message mismatch (-want +got):\n%s", diff)
	}
}

func TestDecode_MessageWithoutArguments(t *testing.T) {
	got, err := osc.Decode(osctest.Marshal(osc.NewMessage("/status")))
	require.NoError(t, err)
	assert.Equal(t, osc.Message{Address: "/status"}, got)
}

func TestDecode_MessageWithoutTypeTags(t *testing.T) {
	// "/ping" padded to 8 bytes, no type tag string at all.
	data := []byte{'/', 'p', 'i', 'n', 'g', 0, 0, 0}
	got, err := osc.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, osc.Message{Address: "/ping"}, got)
}

func TestDecode_NestedBundlePreservesOrder(t *testing.T) {
	inner := osc.NewBundle(osc.NewMessage("/b", osc.Int32(2)))
	bundle := osc.NewBundle(
		osc.NewMessage("/a", osc.Int32(1)),
		inner,
		osc.NewMessage("/c", osc.Int32(3)),
	)

	got, err := osc.Decode(osctest.Marshal(bundle))
	require.NoError(t, err)
	if diff := cmp.Diff(osc.Packet(bundle), got); diff != "" {
		t.Errorf("decoded bundle mismatch (-want +got):\n%s", diff)
	}
}

func TestDecode_EmptyBundle(t *testing.T) {
	got, err := osc.Decode(osctest.Marshal(osc.NewBundle()))
	require.NoError(t, err)
	b, ok := got.(osc.Bundle)
	require.True(t, ok)
	assert.Empty(t, b.Elements)
	assert.Equal(t, osc.Immediately, b.Time)
}

func TestDecode_Errors(t *testing.T) {
	valid := osctest.Marshal(osc.NewMessage("/n_set", osc.Int32(1), osc.String("freq")))

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, osc.ErrEmptyPacket},
		{"no leading slash", []byte("abc\x00"), osc.ErrInvalidAddress},
		{"unterminated address", []byte("/abc"), osc.ErrTruncated},
		{"bad type tags", append(osctest.Marshal(osc.NewMessage("/x"))[:4], []byte("ii\x00\x00")...), osc.ErrInvalidTypeTags},
		{"truncated argument", valid[:len(valid)-8], osc.ErrTruncated},
		{"trailing bytes", append(append([]byte{}, valid...), 0, 0, 0, 0), osc.ErrTrailingBytes},
		{"unsupported tag", []byte("/x\x00\x00,[]\x00"), osc.ErrUnsupportedType},
		{"bundle header only", []byte("#bundle\x00"), osc.ErrTruncated},
		{"bad bundle prefix", []byte("#bungle\x00"), osc.ErrInvalidBundle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := osc.Decode(tt.data)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDecode_BundleElementSizes(t *testing.T) {
	header := osctest.Marshal(osc.NewBundle())

	negative := binary.BigEndian.AppendUint32(append([]byte{}, header...), 0xfffffffc)
	_, err := osc.Decode(negative)
	assert.ErrorIs(t, err, osc.ErrInvalidBundle)

	unaligned := binary.BigEndian.AppendUint32(append([]byte{}, header...), 6)
	unaligned = append(unaligned, make([]byte, 6)...)
	_, err = osc.Decode(unaligned)
	assert.ErrorIs(t, err, osc.ErrInvalidBundle)

	overlong := binary.BigEndian.AppendUint32(append([]byte{}, header...), 64)
	overlong = append(overlong, make([]byte, 8)...)
	_, err = osc.Decode(overlong)
	assert.ErrorIs(t, err, osc.ErrTruncated)
}

func TestDecode_NestingLimit(t *testing.T) {
	var p osc.Packet = osc.NewMessage("/leaf")
	for i := 0; i < osc.MaxBundleNesting+1; i++ {
		p = osc.NewBundle(p)
	}
	_, err := osc.Decode(osctest.Marshal(p))
	assert.ErrorIs(t, err, osc.ErrNestingTooDeep)
}

func TestDecode_DoesNotAliasInput(t *testing.T) {
	data := osctest.Marshal(osc.NewMessage("/blob", osc.Blob{9, 9, 9, 9}))
	got, err := osc.Decode(data)
	require.NoError(t, err)

	for i := range data {
		data[i] = 0
	}
	msg := got.(osc.Message)
	assert.Equal(t, "/blob", msg.Address)
	assert.Equal(t, osc.Blob{9, 9, 9, 9}, msg.Arguments[0])
}

func TestTimeTag_Conversion(t *testing.T) {
	assert.True(t, osc.Immediately.Time().IsZero())

	tag := osc.TimeTag(uint64(2208988800+10)<<32 | 1<<31)
	got := tag.Time()
	assert.Equal(t, int64(10), got.Unix())
	assert.Equal(t, 500000000, got.Nanosecond())
	assert.Equal(t, tag, osc.NewTimeTag(got))
}
