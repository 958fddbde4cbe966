package automation

import "time"

// Coordinate is a WGS84 position in decimal degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// EvalContext is an immutable snapshot of home state for one evaluation
// cycle. It is built fresh for every cycle and must not be retained after
// the cycle ends; location and sensor data go stale quickly.
//
// Nothing in this package writes to an EvalContext.
type EvalContext struct {
	Now time.Time

	// Location is the current position of the user (nil when unknown).
	Location *Coordinate

	// PreviousLocation is the position reported before Location.
	PreviousLocation *Coordinate

	// Home is the fixed home coordinate geofences are measured from.
	Home Coordinate

	// Sensors maps device ID to characteristic name to value.
	Sensors map[string]map[string]any

	// Devices maps device ID to its on/off state.
	Devices map[string]bool

	// Weather is the current weather description (nil when unknown).
	Weather *string

	Occupied bool
}

// sensorValue looks up a characteristic. Missing devices or
// characteristics report ok=false.
func (c *EvalContext) sensorValue(deviceID, characteristic string) (any, bool) {
	if c == nil || c.Sensors == nil {
		return nil, false
	}
	chars, ok := c.Sensors[deviceID]
	if !ok {
		return nil, false
	}
	v, ok := chars[characteristic]
	return v, ok
}

// deviceOn reports the device state, defaulting to off when unknown.
func (c *EvalContext) deviceOn(deviceID string) bool {
	if c == nil || c.Devices == nil {
		return false
	}
	return c.Devices[deviceID]
}
