package automation

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
)

// MaxConditionDepth bounds the nesting of condition groups, including
// groups reached through Conditional actions. Deeper trees fail closed.
const MaxConditionDepth = 16

const (
	minutesPerHour = 60
	hoursPerDay    = 24
)

// Evaluate reports whether the condition tree holds for the context.
//
// It is pure and total: malformed conditions, unknown kinds and missing
// context data all evaluate to false rather than returning an error, so a
// mis-specified automation simply does not fire.
//
// Semantics:
//   - AND: every leaf and nested group is true
//   - OR: at least one leaf or nested group is true
//   - NOT: not every child is true (negation of the AND aggregate)
func Evaluate(group ConditionGroup, ctx *EvalContext) bool {
	if ctx == nil {
		return false
	}
	return evaluateGroup(group, ctx, 1)
}

func evaluateGroup(group ConditionGroup, ctx *EvalContext, depth int) bool {
	if depth > MaxConditionDepth {
		return false
	}

	switch group.Operator {
	case OperatorAnd:
		return allChildren(group, ctx, depth)
	case OperatorNot:
		return !allChildren(group, ctx, depth)
	case OperatorOr:
		for _, c := range group.Conditions {
			if evaluateCondition(c, ctx) {
				return true
			}
		}
		for _, g := range group.Groups {
			if evaluateGroup(g, ctx, depth+1) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// allChildren short-circuits on the first false child. Leaves are pure, so
// the order is not observable.
func allChildren(group ConditionGroup, ctx *EvalContext, depth int) bool {
	for _, c := range group.Conditions {
		if !evaluateCondition(c, ctx) {
			return false
		}
	}
	for _, g := range group.Groups {
		if !evaluateGroup(g, ctx, depth+1) {
			return false
		}
	}
	return true
}

func evaluateCondition(c Condition, ctx *EvalContext) bool {
	switch c.Kind {
	case KindTimeWindow:
		return c.TimeWindow != nil && evalTimeWindow(*c.TimeWindow, ctx)
	case KindGeofence:
		return c.Geofence != nil && evalGeofence(*c.Geofence, ctx)
	case KindSensorThreshold:
		return c.SensorThreshold != nil && evalSensor(*c.SensorThreshold, ctx)
	case KindDeviceState:
		return c.DeviceState != nil && ctx.deviceOn(c.DeviceState.DeviceID) == c.DeviceState.ExpectedOn
	case KindWeatherMatch:
		return c.WeatherMatch != nil && evalWeather(*c.WeatherMatch, ctx)
	case KindOccupancy:
		return c.Occupancy != nil && ctx.Occupied == c.Occupancy.ExpectedOccupied
	default:
		return false
	}
}

// evalTimeWindow checks [start, end) in minutes since midnight. When end
// is before start the window spans midnight and the end bound is inclusive.
func evalTimeWindow(tw TimeWindow, ctx *EvalContext) bool {
	if !validClock(tw.StartHour, tw.StartMinute) || !validClock(tw.EndHour, tw.EndMinute) {
		return false
	}

	current := ctx.Now.Hour()*minutesPerHour + ctx.Now.Minute()
	start := tw.StartHour*minutesPerHour + tw.StartMinute
	end := tw.EndHour*minutesPerHour + tw.EndMinute

	if start <= end {
		return current >= start && current < end
	}
	return current >= start || current <= end
}

func validClock(hour, minute int) bool {
	return hour >= 0 && hour < hoursPerDay && minute >= 0 && minute < minutesPerHour
}

func evalGeofence(g Geofence, ctx *EvalContext) bool {
	if ctx.Location == nil || !(g.RadiusMeters > 0) || math.IsInf(g.RadiusMeters, 0) {
		return false
	}

	inside := Distance(*ctx.Location, ctx.Home) <= g.RadiusMeters

	switch g.Trigger {
	case TriggerInside:
		return inside
	case TriggerArriving:
		if !inside {
			return false
		}
		if ctx.PreviousLocation == nil {
			return true
		}
		return Distance(*ctx.PreviousLocation, ctx.Home) > g.RadiusMeters
	case TriggerLeaving:
		if inside || ctx.PreviousLocation == nil {
			return false
		}
		return Distance(*ctx.PreviousLocation, ctx.Home) <= g.RadiusMeters
	default:
		return false
	}
}

func evalSensor(s SensorThreshold, ctx *EvalContext) bool {
	actual, ok := ctx.sensorValue(s.DeviceID, s.Characteristic)
	if !ok || actual == nil || s.Value == nil {
		return false
	}

	switch s.Comparator {
	case ComparatorEquals:
		return textual(actual) == textual(s.Value)
	case ComparatorGreaterThan, ComparatorLessThan:
		a, aok := numeric(actual)
		e, eok := numeric(s.Value)
		if !aok || !eok {
			return false
		}
		if s.Comparator == ComparatorGreaterThan {
			return a > e
		}
		return a < e
	default:
		return false
	}
}

func evalWeather(w WeatherMatch, ctx *EvalContext) bool {
	if ctx.Weather == nil || w.Substring == "" {
		return false
	}
	fold := cases.Fold()
	return strings.Contains(fold.String(*ctx.Weather), fold.String(w.Substring))
}

// textual renders a value the way Equals compares it. Whole floats render
// without a fractional part so 22 and 22.0 compare equal.
func textual(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// numeric converts numbers and numeric strings to float64. NaN is rejected.
func numeric(v any) (float64, bool) {
	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case float32:
		f = float64(val)
	case int:
		f = float64(val)
	case int32:
		f = float64(val)
	case int64:
		f = float64(val)
	case uint:
		f = float64(val)
	case uint32:
		f = float64(val)
	case uint64:
		f = float64(val)
	case json.Number:
		parsed, err := val.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) {
		return 0, false
	}
	return f, true
}
