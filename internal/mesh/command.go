package mesh

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Opcodes for outbound packets.
const (
	OpPower      byte = 0xd0
	OpBrightness byte = 0xd2
	OpColor      byte = 0xe2
	OpStatus     byte = 0xda

	colorSubRGB         byte = 0x04
	colorSubTemperature byte = 0x05
)

// BroadcastID addresses every device on the mesh.
const BroadcastID uint16 = 0xffff

// Command is an encoded intent ready for Mesh.SendPacket.
type Command struct {
	Opcode byte
	Params []byte
}

// PowerCommand switches a device on or off.
func PowerCommand(on bool) Command {
	var v byte
	if on {
		v = 1
	}
	return Command{Opcode: OpPower, Params: []byte{v}}
}

// BrightnessCommand sets the brightness.
func BrightnessCommand(level uint8) Command {
	return Command{Opcode: OpBrightness, Params: []byte{level}}
}

// TemperatureCommand selects white mode at the given colour temperature.
func TemperatureCommand(temperature uint8) Command {
	return Command{Opcode: OpColor, Params: []byte{colorSubTemperature, temperature}}
}

// RGBCommand selects colour mode.
func RGBCommand(red, green, blue uint8) Command {
	return Command{Opcode: OpColor, Params: []byte{colorSubRGB, red, green, blue}}
}

// StatusRequest asks the addressed device(s) to report their state.
func StatusRequest() Command {
	return Command{Opcode: OpStatus, Params: []byte{}}
}

// ParseLevel validates a level received from an outer surface (JSON number,
// integer or numeric string) and converts it to a byte. Values outside 0-255
// and non-integral numbers are rejected rather than clamped.
func ParseLevel(v any) (uint8, error) {
	var n float64
	switch x := v.(type) {
	case int:
		n = float64(x)
	case int64:
		n = float64(x)
	case uint8:
		return x, nil
	case float64:
		n = x
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidLevel, x)
		}
		n = f
	default:
		return 0, fmt.Errorf("%w: unsupported type %T", ErrInvalidLevel, v)
	}

	if n != math.Trunc(n) {
		return 0, fmt.Errorf("%w: %v is not an integer", ErrInvalidLevel, v)
	}
	if n < 0 || n > math.MaxUint8 {
		return 0, fmt.Errorf("%w: %v outside 0-255", ErrInvalidLevel, v)
	}
	return uint8(n), nil
}
