package engine

import "log/slog"

// State is a step of the deploy pipeline.
type State string

const (
	StateReceived      State = "received"
	StateMaterializing State = "materializing"
	StateSynthesizing  State = "synthesizing"
	StateBuilding      State = "building"
	StateOrchestrating State = "orchestrating"
	StateRouting       State = "routing"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
)

// pipelineOrder ranks the non-terminal states. Repositories loop through
// materializing, synthesizing and building, so moving back to an earlier
// rank is allowed only between those three.
var pipelineOrder = map[State]int{
	StateReceived:      0,
	StateMaterializing: 1,
	StateSynthesizing:  2,
	StateBuilding:      3,
	StateOrchestrating: 4,
	StateRouting:       5,
	StateCompleted:     6,
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// CanTransition reports whether the pipeline may move from one state to
// another. Failed is reachable from every non-terminal state.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	fromRank, ok := pipelineOrder[from]
	if !ok {
		return false
	}
	toRank, ok := pipelineOrder[to]
	if !ok {
		return false
	}
	if toRank > fromRank {
		return true
	}
	// Next repository of the same job.
	return to == StateMaterializing && (from == StateSynthesizing || from == StateBuilding || from == StateOrchestrating)
}

// StateObserver is told about every state a job enters.
type StateObserver interface {
	StateEntered(state string)
}

// tracker follows one deploy job through the pipeline.
type tracker struct {
	state    State
	logger   *slog.Logger
	observer StateObserver
}

func newTracker(logger *slog.Logger, observer StateObserver) *tracker {
	t := &tracker{state: StateReceived, logger: logger, observer: observer}
	t.notify()
	return t
}

// enter moves to the next state. Invalid moves are logged and ignored so a
// bookkeeping slip never fails a deployment.
func (t *tracker) enter(next State, attrs ...any) {
	if t.state == next {
		return
	}
	if !CanTransition(t.state, next) {
		t.logger.Warn("unexpected pipeline transition", "from", t.state, "to", next)
		return
	}
	t.state = next
	t.logger.Info("pipeline state", append([]any{"state", next}, attrs...)...)
	t.notify()
}

func (t *tracker) notify() {
	if t.observer != nil {
		t.observer.StateEntered(string(t.state))
	}
}
