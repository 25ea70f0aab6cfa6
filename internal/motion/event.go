package motion

import (
	"encoding/json"
	"time"

	"github.com/golang/geo/r3"
)

// Event is one raw reading delivered by a sensor source.
type Event struct {
	Sensor SensorType
	Values r3.Vector // raw x, y, z, unfiltered
	Time   time.Time // zero when the source did not stamp it
}

type eventJSON struct {
	Sensor SensorType `json:"sensor"`
	X      float64    `json:"x"`
	Y      float64    `json:"y"`
	Z      float64    `json:"z"`
	Time   *time.Time `json:"time,omitempty"`
}

// NewEvent builds an Event from three axis values.
func NewEvent(t SensorType, x, y, z float64, at time.Time) Event {
	return Event{Sensor: t, Values: r3.Vector{X: x, Y: y, Z: z}, Time: at}
}

// MarshalJSON encodes the event as {"sensor":..,"x":..,"y":..,"z":..,"time":..}.
func (e Event) MarshalJSON() ([]byte, error) {
	out := eventJSON{Sensor: e.Sensor, X: e.Values.X, Y: e.Values.Y, Z: e.Values.Z}
	if !e.Time.IsZero() {
		at := e.Time
		out.Time = &at
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the wire form written by MarshalJSON.
func (e *Event) UnmarshalJSON(data []byte) error {
	var in eventJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*e = Event{Sensor: in.Sensor, Values: r3.Vector{X: in.X, Y: in.Y, Z: in.Z}}
	if in.Time != nil {
		e.Time = *in.Time
	}
	return nil
}
