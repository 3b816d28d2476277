// Package insteon encodes PowerLinc Modem commands for switched devices.
package insteon

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Frame bytes of a PLM "send standard message" command.
const (
	plmStart        = 0x02
	standardMessage = 0x62
	messageFlags    = 0x0F

	cmdFastOn  = 0x12
	cmdFastOff = 0x14

	// LevelFull is the brightness sent when a rule does not set one.
	LevelFull byte = 0xFF
)

// FrameSize is the fixed length of an encoded command.
const FrameSize = 8

// ErrInvalidAddress is returned for device addresses that are not exactly 3 bytes.
var ErrInvalidAddress = errors.New("invalid device address")

// State is the target state of a switched device.
type State int

const (
	Off State = iota
	On
)

func (s State) String() string {
	if s == On {
		return "on"
	}
	return "off"
}

// Address identifies a physical Insteon unit.
type Address [3]byte

// ParseAddress accepts "08.2F.5C", "08:2F:5C", "08 2F 5C" and "082F5C".
func ParseAddress(s string) (Address, error) {
	var addr Address

	cleaned := strings.NewReplacer(".", "", ":", "", " ", "").Replace(strings.TrimSpace(s))
	if len(cleaned) != 6 {
		return addr, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}

	raw, err := hex.DecodeString(cleaned)
	if err != nil {
		return addr, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}

	copy(addr[:], raw)
	return addr, nil
}

// String renders the address in the dotted form printed on device labels.
func (a Address) String() string {
	return fmt.Sprintf("%02X.%02X.%02X", a[0], a[1], a[2])
}

// Frame is an encoded command ready for the wire.
type Frame [FrameSize]byte

// String renders the frame as space separated hex, e.g. "02 62 08 2F 5C 0F 12 FF".
func (f Frame) String() string {
	return fmt.Sprintf("% X", f[:])
}

// Bytes returns the frame as a slice.
func (f Frame) Bytes() []byte {
	return f[:]
}

// Encode builds the standard-message frame that switches addr to state.
func Encode(addr Address, state State, level byte) Frame {
	cmd := byte(cmdFastOff)
	if state == On {
		cmd = cmdFastOn
	}

	return Frame{
		plmStart,
		standardMessage,
		addr[0], addr[1], addr[2],
		messageFlags,
		cmd,
		level,
	}
}

// Command is a single device instruction handed to the send path.
type Command struct {
	Address Address
	State   State
	Level   byte
}

// Frame encodes the command.
func (c Command) Frame() Frame {
	return Encode(c.Address, c.State, c.Level)
}
