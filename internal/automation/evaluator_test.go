package automation

import (
	"encoding/json"
	"math"
	"testing"
	"time"
)

var testHome = Coordinate{Latitude: 51.5007, Longitude: -0.1246}

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 14, hour, minute, 0, 0, time.UTC)
}

func leaf(v bool) Condition {
	return Condition{Kind: KindOccupancy, Occupancy: &Occupancy{ExpectedOccupied: v}}
}

// occupiedCtx evaluates leaf(true) as true and leaf(false) as false.
func occupiedCtx() *EvalContext {
	return &EvalContext{Now: at(12, 0), Home: testHome, Occupied: true}
}

func TestEvaluate_TruthTables(t *testing.T) {
	tests := []struct {
		name string
		op   LogicOperator
		in   []bool
		want bool
	}{
		{"AND true true", OperatorAnd, []bool{true, true}, true},
		{"AND true false", OperatorAnd, []bool{true, false}, false},
		{"OR false false", OperatorOr, []bool{false, false}, false},
		{"OR false true", OperatorOr, []bool{false, true}, true},
		{"NOT true true", OperatorNot, []bool{true, true}, false},
		{"NOT true false", OperatorNot, []bool{true, false}, true},
		{"NOT single true", OperatorNot, []bool{true}, false},
		{"NOT single false", OperatorNot, []bool{false}, true},
		{"AND empty", OperatorAnd, nil, true},
		{"OR empty", OperatorOr, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := ConditionGroup{Operator: tt.op}
			for _, v := range tt.in {
				g.Conditions = append(g.Conditions, leaf(v))
			}
			if got := Evaluate(g, occupiedCtx()); got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluate_NestedGroups(t *testing.T) {
	// (true AND (false OR true))
	g := ConditionGroup{
		Operator:   OperatorAnd,
		Conditions: []Condition{leaf(true)},
		Groups: []ConditionGroup{{
			Operator:   OperatorOr,
			Conditions: []Condition{leaf(false), leaf(true)},
		}},
	}
	if !Evaluate(g, occupiedCtx()) {
		t.Error("nested group should be true")
	}

	g.Groups[0].Operator = OperatorAnd
	if Evaluate(g, occupiedCtx()) {
		t.Error("nested AND with a false leaf should be false")
	}
}

func TestEvaluate_UnknownOperatorFailsClosed(t *testing.T) {
	g := ConditionGroup{Operator: "XOR", Conditions: []Condition{leaf(true)}}
	if Evaluate(g, occupiedCtx()) {
		t.Error("unknown operator should evaluate false")
	}
}

func TestEvaluate_NilContext(t *testing.T) {
	g := ConditionGroup{Operator: OperatorAnd}
	if Evaluate(g, nil) {
		t.Error("nil context should evaluate false")
	}
}

func TestEvaluate_DepthLimit(t *testing.T) {
	build := func(depth int) ConditionGroup {
		g := ConditionGroup{Operator: OperatorAnd, Conditions: []Condition{leaf(true)}}
		for i := 1; i < depth; i++ {
			g = ConditionGroup{Operator: OperatorAnd, Groups: []ConditionGroup{g}}
		}
		return g
	}

	if !Evaluate(build(MaxConditionDepth), occupiedCtx()) {
		t.Error("tree at the depth limit should evaluate")
	}
	if Evaluate(build(MaxConditionDepth+1), occupiedCtx()) {
		t.Error("tree beyond the depth limit should fail closed")
	}
}

func TestEvaluate_TimeWindow(t *testing.T) {
	window := func(sh, sm, eh, em int) ConditionGroup {
		return ConditionGroup{Operator: OperatorAnd, Conditions: []Condition{{
			Kind:       KindTimeWindow,
			TimeWindow: &TimeWindow{StartHour: sh, StartMinute: sm, EndHour: eh, EndMinute: em},
		}}}
	}

	tests := []struct {
		name   string
		window ConditionGroup
		now    time.Time
		want   bool
	}{
		{"plain inside", window(9, 0, 17, 0), at(12, 0), true},
		{"plain before", window(9, 0, 17, 0), at(8, 0), false},
		{"plain at start", window(9, 0, 17, 0), at(9, 0), true},
		{"plain at end is exclusive", window(9, 0, 17, 0), at(17, 0), false},
		{"wrapping late evening", window(22, 0, 6, 0), at(23, 30), true},
		{"wrapping early morning", window(22, 0, 6, 0), at(5, 59), true},
		{"wrapping midday", window(22, 0, 6, 0), at(12, 0), false},
		{"wrapping end is inclusive", window(22, 0, 6, 0), at(6, 0), true},
		{"invalid hour", window(25, 0, 6, 0), at(23, 0), false},
		{"invalid minute", window(9, 60, 17, 0), at(12, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := &EvalContext{Now: tt.now}
			if got := Evaluate(tt.window, ctx); got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluate_Geofence(t *testing.T) {
	fence := func(trigger GeofenceTrigger, radius float64) ConditionGroup {
		return ConditionGroup{Operator: OperatorAnd, Conditions: []Condition{{
			Kind:     KindGeofence,
			Geofence: &Geofence{RadiusMeters: radius, Trigger: trigger},
		}}}
	}
	ptr := func(c Coordinate) *Coordinate { return &c }

	near := ptr(OffsetNorth(testHome, 50))
	far := ptr(OffsetNorth(testHome, 150))

	tests := []struct {
		name     string
		trigger  GeofenceTrigger
		radius   float64
		current  *Coordinate
		previous *Coordinate
		want     bool
	}{
		{"arriving from outside", TriggerArriving, 100, near, far, true},
		{"leaving on arrival", TriggerLeaving, 100, near, far, false},
		{"arriving without previous", TriggerArriving, 100, near, nil, true},
		{"arriving while already inside", TriggerArriving, 100, near, near, false},
		{"leaving from inside", TriggerLeaving, 100, far, near, true},
		{"leaving without previous", TriggerLeaving, 100, far, nil, false},
		{"inside", TriggerInside, 100, near, nil, true},
		{"outside", TriggerInside, 100, far, nil, false},
		{"missing location", TriggerInside, 100, nil, near, false},
		{"zero radius", TriggerInside, 0, near, nil, false},
		{"NaN radius", TriggerInside, math.NaN(), near, nil, false},
		{"unknown trigger", "hovering", 100, near, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := &EvalContext{
				Now:              at(12, 0),
				Home:             testHome,
				Location:         tt.current,
				PreviousLocation: tt.previous,
			}
			if got := Evaluate(fence(tt.trigger, tt.radius), ctx); got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDistance(t *testing.T) {
	d := Distance(testHome, OffsetNorth(testHome, 1000))
	if math.Abs(d-1000) > 0.5 {
		t.Errorf("Distance() = %f, want ~1000", d)
	}
	if Distance(testHome, testHome) != 0 {
		t.Error("distance to self should be 0")
	}
}

func TestEvaluate_SensorThreshold(t *testing.T) {
	sensor := func(cmp Comparator, value any) ConditionGroup {
		return ConditionGroup{Operator: OperatorAnd, Conditions: []Condition{{
			Kind: KindSensorThreshold,
			SensorThreshold: &SensorThreshold{
				DeviceID:       "thermo-1",
				Characteristic: "temperature",
				Comparator:     cmp,
				Value:          value,
			},
		}}}
	}

	ctx := &EvalContext{
		Now: at(12, 0),
		Sensors: map[string]map[string]any{
			"thermo-1": {"temperature": 21.5, "mode": "heat"},
		},
	}

	tests := []struct {
		name  string
		group ConditionGroup
		want  bool
	}{
		{"greater than", sensor(ComparatorGreaterThan, 20), true},
		{"not greater than", sensor(ComparatorGreaterThan, 22), false},
		{"less than", sensor(ComparatorLessThan, 22.0), true},
		{"numeric string threshold", sensor(ComparatorLessThan, "22"), true},
		{"json number threshold", sensor(ComparatorGreaterThan, json.Number("21")), true},
		{"equals textual", sensor(ComparatorEquals, "21.5"), true},
		{"equals number", sensor(ComparatorEquals, 21.5), true},
		{"equals mismatch", sensor(ComparatorEquals, "21"), false},
		{"non-numeric threshold", sensor(ComparatorGreaterThan, "warm"), false},
		{"nil threshold", sensor(ComparatorEquals, nil), false},
		{"unknown comparator", sensor("between", 20), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(tt.group, ctx); got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("non-numeric actual", func(t *testing.T) {
		g := sensor(ComparatorGreaterThan, 1)
		g.Conditions[0].SensorThreshold.Characteristic = "mode"
		if Evaluate(g, ctx) {
			t.Error("non-numeric sensor value should not compare")
		}
	})

	t.Run("missing device", func(t *testing.T) {
		g := sensor(ComparatorEquals, "21.5")
		g.Conditions[0].SensorThreshold.DeviceID = "thermo-2"
		if Evaluate(g, ctx) {
			t.Error("missing device should fail closed")
		}
	})

	t.Run("missing characteristic", func(t *testing.T) {
		g := sensor(ComparatorEquals, "21.5")
		g.Conditions[0].SensorThreshold.Characteristic = "humidity"
		if Evaluate(g, ctx) {
			t.Error("missing characteristic should fail closed")
		}
	})
}

func TestEvaluate_DeviceState(t *testing.T) {
	state := func(id string, on bool) ConditionGroup {
		return ConditionGroup{Operator: OperatorAnd, Conditions: []Condition{{
			Kind:        KindDeviceState,
			DeviceState: &DeviceState{DeviceID: id, ExpectedOn: on},
		}}}
	}
	ctx := &EvalContext{Devices: map[string]bool{"lamp": true}}

	if !Evaluate(state("lamp", true), ctx) {
		t.Error("lamp on should match expected on")
	}
	if Evaluate(state("lamp", false), ctx) {
		t.Error("lamp on should not match expected off")
	}
	if !Evaluate(state("unknown", false), ctx) {
		t.Error("unknown device should default to off")
	}
	if Evaluate(state("unknown", true), ctx) {
		t.Error("unknown device should not match expected on")
	}
}

func TestEvaluate_WeatherMatch(t *testing.T) {
	weather := func(sub string) ConditionGroup {
		return ConditionGroup{Operator: OperatorAnd, Conditions: []Condition{{
			Kind:         KindWeatherMatch,
			WeatherMatch: &WeatherMatch{Substring: sub},
		}}}
	}
	desc := "Light RAIN showers"
	ctx := &EvalContext{Weather: &desc}

	if !Evaluate(weather("rain"), ctx) {
		t.Error("match should be case-insensitive")
	}
	if Evaluate(weather("snow"), ctx) {
		t.Error("absent substring should not match")
	}
	if Evaluate(weather(""), ctx) {
		t.Error("empty substring should fail closed")
	}
	if Evaluate(weather("rain"), &EvalContext{}) {
		t.Error("missing weather should fail closed")
	}
}

func TestEvaluate_MalformedLeavesFailClosed(t *testing.T) {
	ctx := &EvalContext{
		Now:      at(12, 0),
		Location: &testHome,
		Home:     testHome,
		Occupied: true,
	}

	kinds := []ConditionKind{
		KindTimeWindow, KindGeofence, KindSensorThreshold,
		KindDeviceState, KindWeatherMatch, KindOccupancy, "teleport",
	}
	for _, kind := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			g := ConditionGroup{Operator: OperatorAnd, Conditions: []Condition{{Kind: kind}}}
			if Evaluate(g, ctx) {
				t.Errorf("%s without payload should evaluate false", kind)
			}
		})
	}
}
