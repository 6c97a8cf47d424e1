package campaign

// State is a campaign phase. Transitions only move forward.
type State int

const (
	StateBootstrapping State = iota
	StateGenerating
	StatePartitioning
	StateProcessingBatches
	StateDone
	StateAborted
)

var stateNames = []string{"bootstrapping", "generating", "partitioning", "processing_batches", "done", "aborted"}

func (s State) String() string {
	if int(s) < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateAborted
}
