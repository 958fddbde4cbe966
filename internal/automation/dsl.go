package automation

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// DSL limits.
const (
	MaxDSLLength = 512
	MaxDSLDepth  = 8
)

// ParseCondition compiles a condition expression into a ConditionGroup.
//
// The expression is compiled once; evaluation never re-parses text.
//
// Grammar (AND binds tighter than OR):
//
//	expr    = and { " OR " and }
//	and     = unary { " AND " unary }
//	unary   = "NOT" "(" expr ")" | "(" expr ")" | operand
//	operand = "time" HH:MM-HH:MM
//	        | "occupied" | "vacant"
//	        | "device" <id> ("on" | "off")
//	        | "sensor" <id>.<characteristic> ("=" | ">" | "<") <value>
//	        | "weather" "~" <word>
//	        | "geofence" ("arriving" | "leaving" | "inside") <radius-metres>
//
// Example:
//
//	group, err := automation.ParseCondition("time 06:00-09:00 AND occupied")
func ParseCondition(expr string) (ConditionGroup, error) {
	if len(expr) > MaxDSLLength {
		return ConditionGroup{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrDSLTooLong, len(expr), MaxDSLLength)
	}
	if !utf8.ValidString(expr) {
		return ConditionGroup{}, fmt.Errorf("%w: not valid UTF-8", ErrDSLInvalidChar)
	}
	for i, r := range expr {
		if !allowedDSLRune(r) {
			return ConditionGroup{}, fmt.Errorf("%w: %q at offset %d", ErrDSLInvalidChar, r, i)
		}
	}

	p := &dslParser{tokens: tokenize(expr)}
	if len(p.tokens) == 0 {
		return ConditionGroup{}, fmt.Errorf("%w: empty expression", ErrDSLSyntax)
	}

	n, err := p.parseOr(0)
	if err != nil {
		return ConditionGroup{}, err
	}
	if !p.done() {
		return ConditionGroup{}, fmt.Errorf("%w: unexpected %q", ErrDSLSyntax, p.peek())
	}
	return n.asGroup(), nil
}

// EvaluateExpression compiles and evaluates an expression. Any compile
// error makes the result false; the error is returned for logging.
func EvaluateExpression(expr string, ctx *EvalContext) (bool, error) {
	group, err := ParseCondition(expr)
	if err != nil {
		return false, err
	}
	return Evaluate(group, ctx), nil
}

func allowedDSLRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	switch r {
	case '_', '.', ':', '~', '=', '<', '>', '-', '(', ')', ' ', '\t':
		return true
	}
	return false
}

// tokenize splits on whitespace and isolates parentheses.
func tokenize(expr string) []string {
	expr = strings.ReplaceAll(expr, "(", " ( ")
	expr = strings.ReplaceAll(expr, ")", " ) ")
	return strings.Fields(expr)
}

// dslNode is either a leaf condition or a group.
type dslNode struct {
	leaf  *Condition
	group *ConditionGroup
}

func (n dslNode) asGroup() ConditionGroup {
	if n.group != nil {
		return *n.group
	}
	return ConditionGroup{Operator: OperatorAnd, Conditions: []Condition{*n.leaf}}
}

func combine(op LogicOperator, nodes []dslNode) dslNode {
	g := ConditionGroup{Operator: op}
	for _, n := range nodes {
		if n.leaf != nil {
			g.Conditions = append(g.Conditions, *n.leaf)
		} else {
			g.Groups = append(g.Groups, *n.group)
		}
	}
	return dslNode{group: &g}
}

type dslParser struct {
	tokens []string
	pos    int
}

func (p *dslParser) done() bool { return p.pos >= len(p.tokens) }

func (p *dslParser) peek() string {
	if p.done() {
		return ""
	}
	return p.tokens[p.pos]
}

func (p *dslParser) next() string {
	t := p.peek()
	p.pos++
	return t
}

func (p *dslParser) parseOr(depth int) (dslNode, error) {
	first, err := p.parseAnd(depth)
	if err != nil {
		return dslNode{}, err
	}
	nodes := []dslNode{first}
	for p.peek() == "OR" {
		p.next()
		n, err := p.parseAnd(depth)
		if err != nil {
			return dslNode{}, err
		}
		nodes = append(nodes, n)
	}
	if len(nodes) == 1 {
		return first, nil
	}
	return combine(OperatorOr, nodes), nil
}

func (p *dslParser) parseAnd(depth int) (dslNode, error) {
	first, err := p.parseUnary(depth)
	if err != nil {
		return dslNode{}, err
	}
	nodes := []dslNode{first}
	for p.peek() == "AND" {
		p.next()
		n, err := p.parseUnary(depth)
		if err != nil {
			return dslNode{}, err
		}
		nodes = append(nodes, n)
	}
	if len(nodes) == 1 {
		return first, nil
	}
	return combine(OperatorAnd, nodes), nil
}

func (p *dslParser) parseUnary(depth int) (dslNode, error) {
	switch p.peek() {
	case "NOT":
		p.next()
		if p.peek() != "(" {
			return dslNode{}, fmt.Errorf("%w: NOT must be followed by a parenthesised expression", ErrDSLSyntax)
		}
		inner, err := p.parseParens(depth)
		if err != nil {
			return dslNode{}, err
		}
		return combine(OperatorNot, []dslNode{inner}), nil
	case "(":
		return p.parseParens(depth)
	case "", ")", "AND", "OR":
		return dslNode{}, fmt.Errorf("%w: expected operand, got %q", ErrDSLSyntax, p.peek())
	default:
		return p.parseOperand()
	}
}

func (p *dslParser) parseParens(depth int) (dslNode, error) {
	if depth+1 > MaxDSLDepth {
		return dslNode{}, fmt.Errorf("%w: limit is %d", ErrDSLTooDeep, MaxDSLDepth)
	}
	p.next() // "("
	n, err := p.parseOr(depth + 1)
	if err != nil {
		return dslNode{}, err
	}
	if p.next() != ")" {
		return dslNode{}, fmt.Errorf("%w: missing closing parenthesis", ErrDSLSyntax)
	}
	return n, nil
}

func (p *dslParser) parseOperand() (dslNode, error) {
	var words []string
loop:
	for !p.done() {
		switch p.peek() {
		case "AND", "OR", "NOT", "(", ")":
			break loop
		}
		words = append(words, p.next())
	}

	c, err := buildOperand(words)
	if err != nil {
		return dslNode{}, err
	}
	return dslNode{leaf: &c}, nil
}

func buildOperand(words []string) (Condition, error) {
	switch strings.ToLower(words[0]) {
	case "occupied", "vacant":
		if len(words) != 1 {
			break
		}
		return Condition{
			Kind:      KindOccupancy,
			Occupancy: &Occupancy{ExpectedOccupied: strings.EqualFold(words[0], "occupied")},
		}, nil

	case "time":
		if len(words) != 2 {
			break
		}
		tw, err := parseTimeRange(words[1])
		if err != nil {
			return Condition{}, err
		}
		return Condition{Kind: KindTimeWindow, TimeWindow: &tw}, nil

	case "device":
		if len(words) != 3 {
			break
		}
		state := strings.ToLower(words[2])
		if state != "on" && state != "off" {
			return Condition{}, fmt.Errorf("%w: device state must be on or off, got %q", ErrDSLSyntax, words[2])
		}
		return Condition{
			Kind:        KindDeviceState,
			DeviceState: &DeviceState{DeviceID: words[1], ExpectedOn: state == "on"},
		}, nil

	case "sensor":
		if len(words) != 4 {
			break
		}
		return buildSensor(words[1], words[2], words[3])

	case "weather":
		if len(words) != 3 || words[1] != "~" {
			break
		}
		return Condition{Kind: KindWeatherMatch, WeatherMatch: &WeatherMatch{Substring: words[2]}}, nil

	case "geofence":
		if len(words) != 3 {
			break
		}
		trigger := GeofenceTrigger(strings.ToLower(words[1]))
		if trigger != TriggerArriving && trigger != TriggerLeaving && trigger != TriggerInside {
			return Condition{}, fmt.Errorf("%w: unknown geofence trigger %q", ErrDSLSyntax, words[1])
		}
		radius, err := strconv.ParseFloat(words[2], 64)
		if err != nil || radius <= 0 {
			return Condition{}, fmt.Errorf("%w: invalid geofence radius %q", ErrDSLSyntax, words[2])
		}
		return Condition{Kind: KindGeofence, Geofence: &Geofence{RadiusMeters: radius, Trigger: trigger}}, nil
	}

	return Condition{}, fmt.Errorf("%w: unrecognised operand %q", ErrDSLSyntax, strings.Join(words, " "))
}

func buildSensor(target, op, raw string) (Condition, error) {
	deviceID, characteristic, ok := strings.Cut(target, ".")
	if !ok || deviceID == "" || characteristic == "" {
		return Condition{}, fmt.Errorf("%w: sensor target must be <device>.<characteristic>, got %q", ErrDSLSyntax, target)
	}

	var cmp Comparator
	switch op {
	case "=":
		cmp = ComparatorEquals
	case ">":
		cmp = ComparatorGreaterThan
	case "<":
		cmp = ComparatorLessThan
	default:
		return Condition{}, fmt.Errorf("%w: unknown comparator %q", ErrDSLSyntax, op)
	}

	var value any = raw
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		value = f
	}

	return Condition{
		Kind: KindSensorThreshold,
		SensorThreshold: &SensorThreshold{
			DeviceID:       deviceID,
			Characteristic: characteristic,
			Comparator:     cmp,
			Value:          value,
		},
	}, nil
}

// parseTimeRange parses "HH:MM-HH:MM".
func parseTimeRange(s string) (TimeWindow, error) {
	from, to, ok := strings.Cut(s, "-")
	if !ok {
		return TimeWindow{}, fmt.Errorf("%w: time range must be HH:MM-HH:MM, got %q", ErrDSLSyntax, s)
	}
	sh, sm, err := parseClock(from)
	if err != nil {
		return TimeWindow{}, err
	}
	eh, em, err := parseClock(to)
	if err != nil {
		return TimeWindow{}, err
	}
	return TimeWindow{StartHour: sh, StartMinute: sm, EndHour: eh, EndMinute: em}, nil
}

func parseClock(s string) (int, int, error) {
	hs, ms, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("%w: invalid clock %q", ErrDSLSyntax, s)
	}
	h, herr := strconv.Atoi(hs)
	m, merr := strconv.Atoi(ms)
	if herr != nil || merr != nil || !validClock(h, m) {
		return 0, 0, fmt.Errorf("%w: invalid clock %q", ErrDSLSyntax, s)
	}
	return h, m, nil
}
