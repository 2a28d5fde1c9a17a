package run

// Phase names a stage of the research state machine.
type Phase string

const (
	// PhasePlanning produces the query set for the current iteration.
	PhasePlanning Phase = "planning"
	// PhaseSearching fans the query set out to the search providers.
	PhaseSearching Phase = "searching"
	// PhaseEvaluating scores the gathered sources and routes the run.
	PhaseEvaluating Phase = "evaluating"
	// PhaseWriting compiles the final report.
	PhaseWriting Phase = "writing"
	// PhaseDone is terminal: the report is available.
	PhaseDone Phase = "done"
	// PhaseFailed is terminal: the run stopped with a recorded reason.
	PhaseFailed Phase = "failed"
)

// allowedTransitions lists every edge of the state machine. FAILED is
// reachable from any non-terminal phase.
var allowedTransitions = map[Phase]map[Phase]struct{}{
	PhasePlanning: {
		PhaseSearching: {},
		PhaseFailed:    {},
	},
	PhaseSearching: {
		PhaseEvaluating: {},
		PhaseFailed:     {},
	},
	PhaseEvaluating: {
		PhasePlanning: {},
		PhaseWriting:  {},
		PhaseFailed:   {},
	},
	PhaseWriting: {
		PhaseDone:   {},
		PhaseFailed: {},
	},
}

// Terminal reports whether no further transitions are accepted from p.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// Valid reports whether p is one of the known phases.
func (p Phase) Valid() bool {
	switch p {
	case PhasePlanning, PhaseSearching, PhaseEvaluating, PhaseWriting, PhaseDone, PhaseFailed:
		return true
	}
	return false
}

// CanTransition reports whether the machine has an edge from -> to.
func CanTransition(from, to Phase) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}
