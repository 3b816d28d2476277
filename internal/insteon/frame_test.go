package insteon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	addr := Address{0x08, 0x2F, 0x5C}

	tests := []struct {
		name  string
		state State
		level byte
		want  Frame
	}{
		{"on/full", On, 0xFF, Frame{0x02, 0x62, 0x08, 0x2F, 0x5C, 0x0F, 0x12, 0xFF}},
		{"off/zero", Off, 0x00, Frame{0x02, 0x62, 0x08, 0x2F, 0x5C, 0x0F, 0x14, 0x00}},
		{"on/half", On, 0x80, Frame{0x02, 0x62, 0x08, 0x2F, 0x5C, 0x0F, 0x12, 0x80}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Encode(addr, tt.state, tt.level))
			// Same inputs, same frame.
			assert.Equal(t, Encode(addr, tt.state, tt.level), Encode(addr, tt.state, tt.level))
		})
	}
}

func TestFrameString(t *testing.T) {
	f := Encode(Address{0x08, 0x2F, 0x5C}, On, LevelFull)
	assert.Equal(t, "02 62 08 2F 5C 0F 12 FF", f.String())
	assert.Len(t, f.Bytes(), FrameSize)
}

func TestCommandFrame(t *testing.T) {
	cmd := Command{Address: Address{0x1A, 0xEE, 0x97}, State: Off, Level: LevelFull}
	assert.Equal(t, "02 62 1A EE 97 0F 14 FF", cmd.Frame().String())
}

func TestParseAddress(t *testing.T) {
	want := Address{0x08, 0x2F, 0x5C}

	for _, in := range []string{"08.2F.5C", "08:2f:5c", "08 2F 5C", "082F5C", " 08.2F.5C "} {
		got, err := ParseAddress(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "08.2F", "08.2F.5C.01", "ZZ.2F.5C", "0x082F5C"} {
		_, err := ParseAddress(in)
		assert.ErrorIs(t, err, ErrInvalidAddress, in)
	}
}

func TestAddressString(t *testing.T) {
	assert.Equal(t, "0B.F6.A8", Address{0x0B, 0xF6, 0xA8}.String())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "on", On.String())
	assert.Equal(t, "off", Off.String())
}
