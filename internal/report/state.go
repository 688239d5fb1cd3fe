package report

import "fmt"

type State string

const (
	StateIdle       State = "idle"
	StateUploaded   State = "uploaded"
	StateExtracting State = "extracting"
	StateExtracted  State = "extracted"
	StateDiagnosing State = "diagnosing"
	StateDone       State = "done"
	StateError      State = "error"
)

var transitions = map[State][]State{
	StateIdle:       {StateUploaded},
	StateUploaded:   {StateExtracting, StateError},
	StateExtracting: {StateExtracted, StateError},
	StateExtracted:  {StateDiagnosing, StateError},
	StateDiagnosing: {StateDone, StateError},
}

func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal states accept no further transitions.
func (s State) Terminal() bool { return s == StateDone || s == StateError }

type TransitionError struct {
	From, To State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal report transition %s -> %s", e.From, e.To)
}
