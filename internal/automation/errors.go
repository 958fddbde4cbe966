package automation

import "errors"

// Domain errors for the automation package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, automation.ErrAutomationNotFound) {
//	    // handle not found case
//	}
var (
	// ErrAutomationNotFound is returned when an automation ID does not exist.
	ErrAutomationNotFound = errors.New("automation: not found")

	// ErrAutomationExists is returned when creating an automation with an ID that already exists.
	ErrAutomationExists = errors.New("automation: already exists")

	// ErrAutomationDisabled is returned when manually triggering a disabled automation.
	ErrAutomationDisabled = errors.New("automation: disabled")

	// ErrInvalidAutomation is returned when automation validation fails.
	ErrInvalidAutomation = errors.New("automation: invalid")

	// ErrInvalidName is returned when an automation name is empty or too long.
	ErrInvalidName = errors.New("automation: invalid name")

	// ErrNoActions is returned when an automation has no actions defined.
	ErrNoActions = errors.New("automation: no actions")

	// ErrInvalidAction is returned when an action is malformed.
	ErrInvalidAction = errors.New("automation: invalid action")

	// ErrInvalidCondition is returned when a condition tree is malformed.
	ErrInvalidCondition = errors.New("automation: invalid condition")

	// ErrInvalidDocument is returned when a serialized registry document cannot be restored.
	ErrInvalidDocument = errors.New("automation: invalid document")
)

// DSL errors. A condition expression that fails to compile never fires.
var (
	// ErrDSLTooLong is returned when an expression exceeds the maximum length.
	ErrDSLTooLong = errors.New("condition dsl: expression too long")

	// ErrDSLTooDeep is returned when parentheses nest beyond the maximum depth.
	ErrDSLTooDeep = errors.New("condition dsl: nesting too deep")

	// ErrDSLInvalidChar is returned when an operand contains a disallowed character.
	ErrDSLInvalidChar = errors.New("condition dsl: invalid character")

	// ErrDSLSyntax is returned for any other malformed expression.
	ErrDSLSyntax = errors.New("condition dsl: syntax error")
)
