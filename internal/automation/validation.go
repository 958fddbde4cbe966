package automation

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
)

// Validation constants.
const (
	maxNameLength     = 100
	maxDescriptionLen = 500
	maxActions        = 100
	maxDelayMS        = 24 * 60 * 60 * 1000 // 24 hours
	maxMessageLength  = 1000
)

// ValidateAutomation performs comprehensive validation on an automation.
// Returns an error describing the first validation failure found.
func ValidateAutomation(a *Automation) error {
	if a == nil {
		return ErrInvalidAutomation
	}

	if err := ValidateName(a.Name); err != nil {
		return err
	}
	if len(a.Description) > maxDescriptionLen {
		return fmt.Errorf("%w: description exceeds %d characters", ErrInvalidAutomation, maxDescriptionLen)
	}

	if err := ValidateCondition(a.Condition); err != nil {
		return err
	}

	if len(a.Actions) == 0 {
		return ErrNoActions
	}
	if len(a.Actions) > maxActions {
		return fmt.Errorf("%w: exceeds maximum of %d actions", ErrInvalidAction, maxActions)
	}
	for i, action := range a.Actions {
		if err := validateAction(action, 1); err != nil {
			return fmt.Errorf("action[%d]: %w", i, err)
		}
	}
	return nil
}

// ValidateName checks if an automation name is valid.
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateCondition checks that a condition tree is well formed.
//
// The evaluator already fails closed on malformed input; validation exists
// so that authors learn about mistakes when saving rather than by the
// automation silently never firing.
func ValidateCondition(group ConditionGroup) error {
	return validateGroup(group, 1)
}

func validateGroup(group ConditionGroup, depth int) error {
	if depth > MaxConditionDepth {
		return fmt.Errorf("%w: nesting exceeds %d levels", ErrInvalidCondition, MaxConditionDepth)
	}
	switch group.Operator {
	case OperatorAnd, OperatorOr, OperatorNot:
	default:
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidCondition, group.Operator)
	}

	for i, c := range group.Conditions {
		if err := validateLeaf(c); err != nil {
			return fmt.Errorf("condition[%d]: %w", i, err)
		}
	}
	for i, g := range group.Groups {
		if err := validateGroup(g, depth+1); err != nil {
			return fmt.Errorf("group[%d]: %w", i, err)
		}
	}
	return nil
}

func validateLeaf(c Condition) error { //nolint:gocyclo // one case per condition kind
	missing := fmt.Errorf("%w: %s payload is required", ErrInvalidCondition, c.Kind)

	switch c.Kind {
	case KindTimeWindow:
		if c.TimeWindow == nil {
			return missing
		}
		tw := c.TimeWindow
		if !validClock(tw.StartHour, tw.StartMinute) || !validClock(tw.EndHour, tw.EndMinute) {
			return fmt.Errorf("%w: time window must use hours 0-23 and minutes 0-59", ErrInvalidCondition)
		}

	case KindGeofence:
		if c.Geofence == nil {
			return missing
		}
		if !(c.Geofence.RadiusMeters > 0) || math.IsInf(c.Geofence.RadiusMeters, 0) {
			return fmt.Errorf("%w: geofence radius must be a positive number of metres", ErrInvalidCondition)
		}
		switch c.Geofence.Trigger {
		case TriggerArriving, TriggerLeaving, TriggerInside:
		default:
			return fmt.Errorf("%w: unknown geofence trigger %q", ErrInvalidCondition, c.Geofence.Trigger)
		}

	case KindSensorThreshold:
		s := c.SensorThreshold
		if s == nil {
			return missing
		}
		if s.DeviceID == "" || s.Characteristic == "" {
			return fmt.Errorf("%w: sensor threshold needs device_id and characteristic", ErrInvalidCondition)
		}
		if s.Value == nil {
			return fmt.Errorf("%w: sensor threshold value is required", ErrInvalidCondition)
		}
		switch s.Comparator {
		case ComparatorEquals:
		case ComparatorGreaterThan, ComparatorLessThan:
			if _, ok := numeric(s.Value); !ok {
				return fmt.Errorf("%w: %s needs a numeric value", ErrInvalidCondition, s.Comparator)
			}
		default:
			return fmt.Errorf("%w: unknown comparator %q", ErrInvalidCondition, s.Comparator)
		}

	case KindDeviceState:
		if c.DeviceState == nil {
			return missing
		}
		if c.DeviceState.DeviceID == "" {
			return fmt.Errorf("%w: device_state needs device_id", ErrInvalidCondition)
		}

	case KindWeatherMatch:
		if c.WeatherMatch == nil {
			return missing
		}
		if strings.TrimSpace(c.WeatherMatch.Substring) == "" {
			return fmt.Errorf("%w: weather match needs a substring", ErrInvalidCondition)
		}

	case KindOccupancy:
		if c.Occupancy == nil {
			return missing
		}

	default:
		return fmt.Errorf("%w: unknown condition kind %q", ErrInvalidCondition, c.Kind)
	}
	return nil
}

func validateAction(action Action, depth int) error { //nolint:gocognit,gocyclo // one case per action kind
	missing := fmt.Errorf("%w: %s payload is required", ErrInvalidAction, action.Kind)

	switch action.Kind {
	case ActionSetDevice:
		if action.SetDevice == nil {
			return missing
		}
		if action.SetDevice.DeviceID == "" {
			return fmt.Errorf("%w: device_id is required", ErrInvalidAction)
		}

	case ActionActivateScene:
		if action.ActivateScene == nil {
			return missing
		}
		if action.ActivateScene.SceneID == "" {
			return fmt.Errorf("%w: scene_id is required", ErrInvalidAction)
		}

	case ActionDelay:
		if action.Delay == nil {
			return missing
		}
		if action.Delay.DurationMS < 0 || action.Delay.DurationMS > maxDelayMS {
			return fmt.Errorf("%w: duration_ms must be 0-%d", ErrInvalidAction, maxDelayMS)
		}

	case ActionNotify:
		if action.Notify == nil {
			return missing
		}
		if strings.TrimSpace(action.Notify.Message) == "" {
			return fmt.Errorf("%w: message is required", ErrInvalidAction)
		}
		if len(action.Notify.Message) > maxMessageLength {
			return fmt.Errorf("%w: message exceeds %d characters", ErrInvalidAction, maxMessageLength)
		}

	case ActionConditional:
		if action.Conditional == nil {
			return missing
		}
		if depth >= MaxActionDepth {
			return fmt.Errorf("%w: conditional nesting exceeds %d levels", ErrInvalidAction, MaxActionDepth)
		}
		if err := ValidateCondition(action.Conditional.Condition); err != nil {
			return err
		}
		if len(action.Conditional.Actions) > maxActions {
			return fmt.Errorf("%w: exceeds maximum of %d actions", ErrInvalidAction, maxActions)
		}
		for i, nested := range action.Conditional.Actions {
			if err := validateAction(nested, depth+1); err != nil {
				return fmt.Errorf("actions[%d]: %w", i, err)
			}
		}

	default:
		return fmt.Errorf("%w: unknown action kind %q", ErrInvalidAction, action.Kind)
	}
	return nil
}

// ConditionWarnings lists constructs that are valid but easy to misread.
// Currently that is a NOT group with more than one child, which negates
// the AND of its children rather than each child.
func ConditionWarnings(group ConditionGroup) []string {
	var warnings []string
	collectWarnings(group, "condition", &warnings, 1)
	return warnings
}

func collectWarnings(group ConditionGroup, path string, out *[]string, depth int) {
	if depth > MaxConditionDepth {
		return
	}
	if group.Operator == OperatorNot && len(group.Conditions)+len(group.Groups) > 1 {
		*out = append(*out, fmt.Sprintf("%s: NOT over %d children is true when not all of them hold",
			path, len(group.Conditions)+len(group.Groups)))
	}
	for i, g := range group.Groups {
		collectWarnings(g, fmt.Sprintf("%s.groups[%d]", path, i), out, depth+1)
	}
}

// AutomationWarnings lists the ConditionWarnings of an automation's
// condition and of every Conditional action predicate.
func AutomationWarnings(a *Automation) []string {
	if a == nil {
		return nil
	}
	var warnings []string
	collectWarnings(a.Condition, "condition", &warnings, 1)
	collectActionWarnings(a.Actions, "actions", &warnings, 1)
	return warnings
}

func collectActionWarnings(actions []Action, path string, out *[]string, depth int) {
	if depth > MaxActionDepth {
		return
	}
	for i, action := range actions {
		if action.Kind != ActionConditional || action.Conditional == nil {
			continue
		}
		at := fmt.Sprintf("%s[%d]", path, i)
		collectWarnings(action.Conditional.Condition, at+".condition", out, 1)
		collectActionWarnings(action.Conditional.Actions, at+".actions", out, depth+1)
	}
}

// NormalizeValues converts numeric sensor threshold values to float64, the
// type they decode to from JSON, so a stored automation compares equal to
// its serialized form.
func NormalizeValues(a *Automation) {
	if a == nil {
		return
	}
	normalizeGroup(&a.Condition, 1)
	normalizeActions(a.Actions, 1)
}

func normalizeGroup(group *ConditionGroup, depth int) {
	if depth > MaxConditionDepth {
		return
	}
	for i := range group.Conditions {
		if s := group.Conditions[i].SensorThreshold; s != nil {
			s.Value = normalizeValue(s.Value)
		}
	}
	for i := range group.Groups {
		normalizeGroup(&group.Groups[i], depth+1)
	}
}

func normalizeActions(actions []Action, depth int) {
	if depth > MaxActionDepth {
		return
	}
	for i := range actions {
		if c := actions[i].Conditional; c != nil {
			normalizeGroup(&c.Condition, 1)
			normalizeActions(c.Actions, depth+1)
		}
	}
}

func normalizeValue(v any) any {
	switch v.(type) {
	case float32, int, int32, int64, uint, uint32, uint64, json.Number:
		if f, ok := numeric(v); ok {
			return f
		}
	}
	return v
}

// GenerateID creates a new UUID for an automation or log entry.
func GenerateID() string {
	return uuid.New().String()
}
