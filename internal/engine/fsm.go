package engine

import "github.com/quotekit/quotekit/pkg/schema"

// validRunTransitions defines the allowed run lifecycle transitions.
// A completed run may reopen to active: goBack replays the ledger and the
// derived position can land before the terminal node again.
var validRunTransitions = map[schema.RunStatus][]schema.RunStatus{
	schema.RunStatusActive:    {schema.RunStatusCompleted, schema.RunStatusAbandoned},
	schema.RunStatusCompleted: {schema.RunStatusActive},
	schema.RunStatusAbandoned: {},
}

// CanTransition reports whether a run may move from one status to another.
func CanTransition(from, to schema.RunStatus) bool {
	if from == to {
		return true
	}
	for _, allowed := range validRunTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition validates a run status change.
func Transition(runID string, from, to schema.RunStatus) error {
	if !CanTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeState,
			"invalid run transition: %s -> %s", from, to).
			WithDetails(map[string]any{"run_id": runID, "from": string(from), "to": string(to)})
	}
	return nil
}
