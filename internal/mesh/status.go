package mesh

// Status frame layout (inbound, byte offsets):
//
//	[7]      frame-type marker, StatusMarker for a status report
//	[10:14]  first device record
//	[14:18]  second device record
//
// Each record is [deviceID, _, brightnessOrMode, colourPayload].
const (
	// StatusMarker identifies a status report frame.
	StatusMarker byte = 0xdc

	// MinFrameLength is the shortest frame that can carry both records.
	MinFrameLength = 18

	markerOffset    = 7
	recordsOffset   = 10
	recordSize      = 4
	recordsPerFrame = 2

	// rgbModeFlag is set in the combined byte when the device is in RGB mode.
	rgbModeFlag = 0x80
)

// ColorMode is the mutually exclusive operating mode of a device.
type ColorMode int

const (
	// ModeTemperature is white light with a colour temperature.
	ModeTemperature ColorMode = iota

	// ModeRGB is coloured light.
	ModeRGB
)

// String returns the mode name used in state payloads.
func (m ColorMode) String() string {
	if m == ModeRGB {
		return "rgb"
	}
	return "temperature"
}

// StateDelta is the state of one device as reported by a status frame.
// Temperature is meaningful only in ModeTemperature, Red/Green/Blue only in
// ModeRGB.
type StateDelta struct {
	DeviceID    uint8
	Brightness  uint8
	Mode        ColorMode
	Temperature uint8
	Red         uint8
	Green       uint8
	Blue        uint8
}

// DecodeStatus decodes an inbound frame into per-device state deltas.
//
// Frames that are not status reports, or are shorter than MinFrameLength,
// decode to nil. Decoding never fails: any byte sequence is accepted.
func DecodeStatus(frame []byte) []StateDelta {
	if len(frame) < MinFrameLength || frame[markerOffset] != StatusMarker {
		return nil
	}

	deltas := make([]StateDelta, 0, recordsPerFrame)
	for i := 0; i < recordsPerFrame; i++ {
		start := recordsOffset + i*recordSize
		deltas = append(deltas, decodeRecord(frame[start:start+recordSize]))
	}
	return deltas
}

// decodeRecord unpacks one 4-byte record.
//
// The combined byte carries the mode in its high bit. In RGB mode the colour
// payload is 3-3-2 packed (red bits 7-5, green 4-2, blue 1-0) and each channel
// is scaled to 0-255 with integer truncation.
func decodeRecord(rec []byte) StateDelta {
	d := StateDelta{DeviceID: rec[0]}
	combined, payload := rec[2], rec[3]

	if combined >= rgbModeFlag {
		d.Mode = ModeRGB
		d.Brightness = combined - rgbModeFlag
		d.Red = scale(int(payload>>5)&0x7, 7)
		d.Green = scale(int(payload>>2)&0x7, 7)
		d.Blue = scale(int(payload)&0x3, 3)
		return d
	}

	d.Mode = ModeTemperature
	d.Brightness = combined
	d.Temperature = payload
	return d
}

func scale(v, max int) uint8 {
	return uint8(v * 255 / max)
}

// StatusRecord is one device entry for EncodeStatusFrame.
type StatusRecord struct {
	DeviceID    uint8
	Brightness  uint8 // 0-127; the high bit is reserved for the mode flag
	Mode        ColorMode
	Temperature uint8
	Red         uint8
	Green       uint8
	Blue        uint8
}

// EncodeStatusFrame builds a status report carrying up to two records, laid
// out exactly as DecodeStatus reads it. Colour channels are quantised to the
// 3-3-2 wire resolution.
//
// An empty slot must carry a device ID that matches no device; ID 0 is
// conventionally unused.
func EncodeStatusFrame(records ...StatusRecord) []byte {
	frame := make([]byte, MinFrameLength)
	frame[markerOffset] = StatusMarker

	for i, r := range records {
		if i >= recordsPerFrame {
			break
		}
		start := recordsOffset + i*recordSize
		frame[start] = r.DeviceID

		combined := r.Brightness &^ rgbModeFlag
		payload := r.Temperature
		if r.Mode == ModeRGB {
			combined |= rgbModeFlag
			payload = (r.Red>>5)<<5 | (r.Green>>5)<<2 | r.Blue>>6
		}
		frame[start+2] = combined
		frame[start+3] = payload
	}
	return frame
}
