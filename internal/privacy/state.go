package privacy

import "fmt"

// Tracking columns appended to every tracked relation, in this order.
const (
	IDColumn     = "_PRIVACY_UNIT_"
	WeightColumn = "_PRIVACY_UNIT_WEIGHT_"
)

// Kind is the tracking capability of a node.
type Kind int

const (
	NotTracked Kind = iota
	Tracked
	Unreachable
)

func (k Kind) String() string {
	switch k {
	case Tracked:
		return "Tracked"
	case Unreachable:
		return "Unreachable"
	}
	return "NotTracked"
}

// State annotates one rewritten node.
type State struct {
	Kind Kind
	// ID and Weight name the tracking columns of a Tracked node.
	ID, Weight string
	// Unit identifies the logical unit; tracked relations are only combined
	// when their units agree.
	Unit string
	// KeyField is the output column still holding the raw unit key, or "".
	KeyField string
	// Reason explains an Unreachable state.
	Reason string
}

func notTracked() State { return State{Kind: NotTracked} }

func tracked(unit, keyField string) State {
	return State{Kind: Tracked, ID: IDColumn, Weight: WeightColumn, Unit: unit, KeyField: keyField}
}

func unreachable(format string, args ...interface{}) State {
	return State{Kind: Unreachable, Reason: fmt.Sprintf(format, args...)}
}

// IsTracked reports whether rows carry their unit.
func (s State) IsTracked() bool { return s.Kind == Tracked }

func (s State) String() string {
	switch s.Kind {
	case Tracked:
		if s.KeyField != "" {
			return fmt.Sprintf("Tracked(%s, key %s)", s.Unit, s.KeyField)
		}
		return fmt.Sprintf("Tracked(%s)", s.Unit)
	case Unreachable:
		return "Unreachable(" + s.Reason + ")"
	}
	return "NotTracked"
}
