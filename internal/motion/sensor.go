package motion

import (
	"errors"
	"fmt"
	"strings"
)

// SensorType selects which physical sensor is active.
type SensorType int

const (
	Unknown SensorType = iota
	Accelerometer
	LinearAcceleration
	Gyroscope
)

// ErrSensorUnavailable is returned when a source has no hardware for the
// requested sensor type.
var ErrSensorUnavailable = errors.New("sensor not available")

// SensorTypes lists the supported sensor types in selection order.
var SensorTypes = []SensorType{Accelerometer, LinearAcceleration, Gyroscope}

// String returns the wire tag, e.g. "ACCELEROMETER".
func (t SensorType) String() string {
	switch t {
	case Accelerometer:
		return "ACCELEROMETER"
	case LinearAcceleration:
		return "LINEAR_ACCELERATION"
	case Gyroscope:
		return "GYROSCOPE"
	default:
		return "UNKNOWN"
	}
}

// Known reports whether t is one of the three supported sensor types.
func (t SensorType) Known() bool {
	return t == Accelerometer || t == LinearAcceleration || t == Gyroscope
}

// ParseSensorType maps a tag to a SensorType. Unrecognized tags yield Unknown.
func ParseSensorType(tag string) SensorType {
	switch strings.ToUpper(strings.TrimSpace(tag)) {
	case "ACCELEROMETER", "ACC":
		return Accelerometer
	case "LINEAR_ACCELERATION", "LIN":
		return LinearAcceleration
	case "GYROSCOPE", "GYR":
		return Gyroscope
	default:
		return Unknown
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t SensorType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Unknown tags decode to
// Unknown rather than failing, so the reading can still be logged.
func (t *SensorType) UnmarshalText(text []byte) error {
	*t = ParseSensorType(string(text))
	return nil
}

// Unavailable wraps ErrSensorUnavailable with the sensor type that was asked for.
func Unavailable(t SensorType) error {
	return fmt.Errorf("%s: %w", t, ErrSensorUnavailable)
}
