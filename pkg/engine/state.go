package engine

import (
	"fmt"
	"reflect"
	"strings"
)

// State is the outcome of stepping a Node. It is one of Return, Throw, Noop or Waiting.
type State interface {
	fmt.Stringer
	isState()
}

// Return indicates that a Node successfully produced a value.
type Return struct {
	Value any
}

// Throw indicates that a Node should have been able to produce a value, but failed.
type Throw struct {
	Err error
}

// Noop indicates that a Node did not have the inputs it would need to run.
// It is not an error: an optional consumer may treat it as an absent value.
type Noop struct {
	Msg string
}

// Waiting indicates that a Node needs the states of the listed dependencies
// before it can make progress. The list is the complete set the Node needs
// at this point of its lifecycle, not a delta.
type Waiting struct {
	Dependencies []Node
}

func (Return) isState()  {}
func (Throw) isState()   {}
func (Noop) isState()    {}
func (Waiting) isState() {}

func (s Return) String() string { return fmt.Sprintf("Return(%v)", s.Value) }

func (s Throw) String() string {
	if s.Err == nil {
		return "Throw(<nil>)"
	}
	return fmt.Sprintf("Throw(%s)", s.Err.Error())
}

func (s Noop) String() string { return fmt.Sprintf("Noop(%s)", s.Msg) }

func (s Waiting) String() string {
	names := make([]string, len(s.Dependencies))
	for i, d := range s.Dependencies {
		names[i] = d.String()
	}
	return fmt.Sprintf("Waiting([%s])", strings.Join(names, ", "))
}

// Noopf builds a Noop with a formatted message.
func Noopf(format string, args ...any) Noop {
	return Noop{Msg: fmt.Sprintf(format, args...)}
}

// IsTerminal reports whether the state completes a Node.
func IsTerminal(s State) bool {
	switch s.(type) {
	case Return, Throw, Noop:
		return true
	default:
		return false
	}
}

// StatesEqual compares two states by value. Throws compare equal when their
// errors render identically, since error values are rarely comparable.
func StatesEqual(a, b State) bool {
	switch av := a.(type) {
	case Return:
		bv, ok := b.(Return)
		return ok && reflect.DeepEqual(av.Value, bv.Value)
	case Throw:
		bv, ok := b.(Throw)
		if !ok {
			return false
		}
		if av.Err == nil || bv.Err == nil {
			return av.Err == bv.Err
		}
		return av.Err.Error() == bv.Err.Error()
	case Noop:
		bv, ok := b.(Noop)
		return ok && av.Msg == bv.Msg
	case Waiting:
		bv, ok := b.(Waiting)
		if !ok || len(av.Dependencies) != len(bv.Dependencies) {
			return false
		}
		for i := range av.Dependencies {
			if av.Dependencies[i] != bv.Dependencies[i] {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// StateName returns the short name of a state variant, used for metrics and logs.
func StateName(s State) string {
	switch s.(type) {
	case Return:
		return "return"
	case Throw:
		return "throw"
	case Noop:
		return "noop"
	case Waiting:
		return "waiting"
	default:
		return "unknown"
	}
}
