package pipeline

import "fmt"

// Stage is a turn's position in the processing lifecycle. Every turn walks
// the same machine; invalid transitions are programming errors and fail the
// turn rather than corrupting session state.
type Stage string

const (
	Received              Stage = "received"
	StateUpdated          Stage = "state_updated"
	MemoryProcessed       Stage = "memory_processed"
	ContextComposed       Stage = "context_composed"
	AwaitingGeneration    Stage = "awaiting_generation"
	Validating            Stage = "validating"
	Accepted              Stage = "accepted"
	RegenerationRequested Stage = "regeneration_requested"
	Finalized             Stage = "finalized"
	Discarded             Stage = "discarded"
)

// transitions is the legal edge set of the stage machine. Discarded is
// reachable from every non-terminal stage via ctx cancellation and is not
// listed per-stage here.
var transitions = map[Stage][]Stage{
	Received:        {StateUpdated},
	StateUpdated:    {MemoryProcessed},
	MemoryProcessed: {ContextComposed},
	ContextComposed: {AwaitingGeneration},
	// AwaitingGeneration may finalize directly when the provider tier fails
	// and the fallback reply is used.
	AwaitingGeneration:    {Validating, Finalized},
	Validating:            {Accepted, RegenerationRequested},
	RegenerationRequested: {AwaitingGeneration, Finalized},
	Accepted:              {Finalized},
}

// terminal reports whether no further transition leaves s.
func (s Stage) terminal() bool {
	return s == Finalized || s == Discarded
}

// canTransition reports whether from → to is a legal edge. Any non-terminal
// stage may transition to Discarded.
func canTransition(from, to Stage) bool {
	if to == Discarded {
		return !from.terminal()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// advance moves the turn to the next stage, enforcing the edge set.
func (t *turn) advance(to Stage) error {
	if !canTransition(t.stage, to) {
		return fmt.Errorf("pipeline: illegal transition %s -> %s", t.stage, to)
	}
	t.stage = to
	return nil
}
