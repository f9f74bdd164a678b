package mesh

// TypeCode is the opaque device-type code reported by the directory.
type TypeCode int

// Capability names a feature a device supports.
type Capability string

const (
	CapOnOff            Capability = "on_off"
	CapDim              Capability = "dim"
	CapColorTemperature Capability = "color_temperature"
	CapRGB              Capability = "rgb"
)

// Type codes are policy data. Adding a product is a table change.
var (
	rgbTypes = map[TypeCode]struct{}{
		6: {}, 7: {}, 8: {}, 21: {}, 22: {}, 23: {},
	}

	// temperatureTypes lists devices with tunable white but no RGB.
	// Every RGB type also supports temperature.
	temperatureTypes = map[TypeCode]struct{}{
		5: {}, 19: {}, 20: {}, 80: {}, 83: {}, 85: {},
	}
)

// SupportsRGB reports whether devices of type t accept RGB colour commands.
func SupportsRGB(t TypeCode) bool {
	_, ok := rgbTypes[t]
	return ok
}

// SupportsTemperature reports whether devices of type t accept colour
// temperature commands.
func SupportsTemperature(t TypeCode) bool {
	if SupportsRGB(t) {
		return true
	}
	_, ok := temperatureTypes[t]
	return ok
}

// CapabilitiesOf returns the capability list advertised for type t.
// Unknown codes still switch and dim.
func CapabilitiesOf(t TypeCode) []Capability {
	caps := []Capability{CapOnOff, CapDim}
	if SupportsTemperature(t) {
		caps = append(caps, CapColorTemperature)
	}
	if SupportsRGB(t) {
		caps = append(caps, CapRGB)
	}
	return caps
}
