package motion

import "fmt"

// Labels is the presentation text for a sensor type.
type Labels struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	AxisUnit    string `json:"axis_unit"`
}

// LabelsFor returns the label set for t. Anything other than the three
// supported types gets the fallback set.
func LabelsFor(t SensorType) Labels {
	switch t {
	case Accelerometer:
		return Labels{
			Title:       "Accelerometer",
			Description: "Acceleration vs time (accelerometer)",
			AxisUnit:    "m/s²",
		}
	case LinearAcceleration:
		return Labels{
			Title:       "Linear acceleration",
			Description: "Acceleration vs time (linear acceleration)",
			AxisUnit:    "m/s²",
		}
	case Gyroscope:
		return Labels{
			Title:       "Gyroscope",
			Description: "Angular velocity vs time (gyroscope)",
			AxisUnit:    "rad/s",
		}
	default:
		return Labels{
			Title:       "Sensor",
			Description: "Data vs time",
		}
	}
}

// Readout renders one axis value, e.g. "Gyroscope x: 0.5 rad/s".
func (l Labels) Readout(axis string, value float64) string {
	if l.AxisUnit == "" {
		return fmt.Sprintf("%s %s: %g", l.Title, axis, value)
	}
	return fmt.Sprintf("%s %s: %g %s", l.Title, axis, value, l.AxisUnit)
}
