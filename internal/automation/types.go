package automation

import "time"

// Automation is a user-defined rule pairing a condition tree with an
// ordered action list.
//
// The Registry owns the canonical copy. Callers only ever see deep copies,
// so mutating a returned Automation never affects stored state.
type Automation struct {
	// Identity
	ID   string `json:"id"`
	Name string `json:"name"`

	// Free-text description (optional)
	Description string `json:"description,omitempty"`

	// Trigger predicate
	Condition ConditionGroup `json:"condition"`

	// ConditionExpr is an optional DSL source for Condition. When set on
	// create/update the Registry compiles it and replaces Condition.
	ConditionExpr string `json:"condition_expr,omitempty"`

	// Actions to execute (ordered)
	Actions []Action `json:"actions"`

	Enabled bool `json:"enabled"`

	// Timestamps
	CreatedAt   time.Time  `json:"created_at"`
	LastFiredAt *time.Time `json:"last_fired_at,omitempty"` // written only by the Registry
}

// LogicOperator combines the children of a ConditionGroup.
type LogicOperator string

const (
	OperatorAnd LogicOperator = "AND"
	OperatorOr  LogicOperator = "OR"

	// OperatorNot is true when not all children are true. It negates the
	// group's AND aggregate rather than each child.
	OperatorNot LogicOperator = "NOT"
)

// ConditionGroup is a node in the condition tree.
type ConditionGroup struct {
	Operator   LogicOperator    `json:"operator"`
	Conditions []Condition      `json:"conditions,omitempty"`
	Groups     []ConditionGroup `json:"groups,omitempty"`
}

// ConditionKind identifies which payload of a Condition is populated.
type ConditionKind string

const (
	KindTimeWindow      ConditionKind = "time_window"
	KindGeofence        ConditionKind = "geofence"
	KindSensorThreshold ConditionKind = "sensor_threshold"
	KindDeviceState     ConditionKind = "device_state"
	KindWeatherMatch    ConditionKind = "weather_match"
	KindOccupancy       ConditionKind = "occupancy"
)

// Condition is a leaf predicate. Exactly one payload field matching Kind
// is expected to be set; anything else evaluates to false.
type Condition struct {
	Kind ConditionKind `json:"kind"`

	TimeWindow      *TimeWindow      `json:"time_window,omitempty"`
	Geofence        *Geofence        `json:"geofence,omitempty"`
	SensorThreshold *SensorThreshold `json:"sensor_threshold,omitempty"`
	DeviceState     *DeviceState     `json:"device_state,omitempty"`
	WeatherMatch    *WeatherMatch    `json:"weather_match,omitempty"`
	Occupancy       *Occupancy       `json:"occupancy,omitempty"`
}

// TimeWindow matches a time-of-day range [start, end). A window whose end
// is before its start spans midnight.
type TimeWindow struct {
	StartHour   int `json:"start_hour"`
	StartMinute int `json:"start_minute"`
	EndHour     int `json:"end_hour"`
	EndMinute   int `json:"end_minute"`
}

// GeofenceTrigger selects which transition a Geofence matches.
type GeofenceTrigger string

const (
	TriggerArriving GeofenceTrigger = "arriving"
	TriggerLeaving  GeofenceTrigger = "leaving"
	TriggerInside   GeofenceTrigger = "inside"
)

// Geofence matches the current (and previous) location against a circle
// around the home coordinate.
type Geofence struct {
	RadiusMeters float64         `json:"radius_meters"`
	Trigger      GeofenceTrigger `json:"trigger"`
}

// Comparator is the operator of a SensorThreshold.
type Comparator string

const (
	ComparatorEquals      Comparator = "equals"
	ComparatorGreaterThan Comparator = "greater_than"
	ComparatorLessThan    Comparator = "less_than"
)

// SensorThreshold compares a device characteristic with a fixed value.
type SensorThreshold struct {
	DeviceID       string     `json:"device_id"`
	Characteristic string     `json:"characteristic"`
	Comparator     Comparator `json:"comparator"`
	Value          any        `json:"value"`
}

// DeviceState matches a device's on/off state.
type DeviceState struct {
	DeviceID   string `json:"device_id"`
	ExpectedOn bool   `json:"expected_on"`
}

// WeatherMatch is a case-insensitive substring match on the weather text.
type WeatherMatch struct {
	Substring string `json:"substring"`
}

// Occupancy matches the home's occupancy flag.
type Occupancy struct {
	ExpectedOccupied bool `json:"expected_occupied"`
}

// ActionKind identifies which payload of an Action is populated.
type ActionKind string

const (
	ActionSetDevice     ActionKind = "set_device"
	ActionActivateScene ActionKind = "activate_scene"
	ActionDelay         ActionKind = "delay"
	ActionNotify        ActionKind = "notify"
	ActionConditional   ActionKind = "conditional"
)

// Action is a single step of an automation. Actions are data; the
// Executor interprets them.
type Action struct {
	Kind ActionKind `json:"kind"`

	SetDevice     *SetDeviceAction     `json:"set_device,omitempty"`
	ActivateScene *ActivateSceneAction `json:"activate_scene,omitempty"`
	Delay         *DelayAction         `json:"delay,omitempty"`
	Notify        *NotifyAction        `json:"notify,omitempty"`
	Conditional   *ConditionalAction   `json:"conditional,omitempty"`
}

// SetDeviceAction switches a device on or off.
type SetDeviceAction struct {
	DeviceID string `json:"device_id"`
	On       bool   `json:"on"`
}

// ActivateSceneAction requests a scene activation.
type ActivateSceneAction struct {
	SceneID string `json:"scene_id"`
}

// DelayAction suspends the remaining actions of a run.
type DelayAction struct {
	DurationMS int64 `json:"duration_ms"`
}

// Duration returns the delay as a time.Duration.
func (d DelayAction) Duration() time.Duration {
	return time.Duration(d.DurationMS) * time.Millisecond
}

// NotifyAction emits a user notification.
type NotifyAction struct {
	Message string `json:"message"`
}

// ConditionalAction runs Actions inline when Condition holds.
type ConditionalAction struct {
	Condition ConditionGroup `json:"condition"`
	Actions   []Action       `json:"actions"`
}

// ExecutionResult summarises one run of an action list.
type ExecutionResult struct {
	Success       bool    `json:"success"`
	ExecutedCount int     `json:"executed_count"`
	Error         *string `json:"error,omitempty"`
	Cancelled     bool    `json:"cancelled,omitempty"`
}

// ExecutionLogEntry records one automation run (or skipped firing).
//
// AutomationName is captured at execution time so that renaming an
// automation does not rewrite its history.
type ExecutionLogEntry struct {
	ID             string    `json:"id"`
	AutomationID   string    `json:"automation_id"`
	AutomationName string    `json:"automation_name"`
	Timestamp      time.Time `json:"timestamp"`
	Success        bool      `json:"success"`
	ExecutedCount  int       `json:"executed_count"`
	Error          *string   `json:"error,omitempty"`
	Skipped        bool      `json:"skipped,omitempty"`
	Cancelled      bool      `json:"cancelled,omitempty"`
	DurationMS     int64     `json:"duration_ms"`
}

// DeepCopy creates a complete independent copy of the Automation.
func (a *Automation) DeepCopy() *Automation {
	if a == nil {
		return nil
	}

	cpy := *a
	cpy.Condition = a.Condition.DeepCopy()
	cpy.Actions = copyActions(a.Actions)
	if a.LastFiredAt != nil {
		t := *a.LastFiredAt
		cpy.LastFiredAt = &t
	}
	return &cpy
}

// DeepCopy creates an independent copy of the group and all descendants.
func (g ConditionGroup) DeepCopy() ConditionGroup {
	cpy := ConditionGroup{Operator: g.Operator}
	if g.Conditions != nil {
		cpy.Conditions = make([]Condition, len(g.Conditions))
		for i, c := range g.Conditions {
			cpy.Conditions[i] = c.deepCopy()
		}
	}
	if g.Groups != nil {
		cpy.Groups = make([]ConditionGroup, len(g.Groups))
		for i, sub := range g.Groups {
			cpy.Groups[i] = sub.DeepCopy()
		}
	}
	return cpy
}

func (c Condition) deepCopy() Condition {
	cpy := Condition{Kind: c.Kind}
	if c.TimeWindow != nil {
		v := *c.TimeWindow
		cpy.TimeWindow = &v
	}
	if c.Geofence != nil {
		v := *c.Geofence
		cpy.Geofence = &v
	}
	if c.SensorThreshold != nil {
		v := *c.SensorThreshold
		cpy.SensorThreshold = &v
	}
	if c.DeviceState != nil {
		v := *c.DeviceState
		cpy.DeviceState = &v
	}
	if c.WeatherMatch != nil {
		v := *c.WeatherMatch
		cpy.WeatherMatch = &v
	}
	if c.Occupancy != nil {
		v := *c.Occupancy
		cpy.Occupancy = &v
	}
	return cpy
}

func copyActions(actions []Action) []Action {
	if actions == nil {
		return nil
	}
	cpy := make([]Action, len(actions))
	for i, a := range actions {
		cpy[i] = Action{Kind: a.Kind}
		if a.SetDevice != nil {
			v := *a.SetDevice
			cpy[i].SetDevice = &v
		}
		if a.ActivateScene != nil {
			v := *a.ActivateScene
			cpy[i].ActivateScene = &v
		}
		if a.Delay != nil {
			v := *a.Delay
			cpy[i].Delay = &v
		}
		if a.Notify != nil {
			v := *a.Notify
			cpy[i].Notify = &v
		}
		if a.Conditional != nil {
			cpy[i].Conditional = &ConditionalAction{
				Condition: a.Conditional.Condition.DeepCopy(),
				Actions:   copyActions(a.Conditional.Actions),
			}
		}
	}
	return cpy
}

// cloneStringPtr creates an independent copy of a *string.
func cloneStringPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func stringPtr(s string) *string {
	return &s
}
