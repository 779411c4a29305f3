package checkout

import (
	"fmt"

	"go.opentelemetry.io/otel/trace"
)

// State is the lifecycle position of one order
type State string

const (
	StateValidating State = "validating"
	StateReserving  State = "reserving"
	StatePersisting State = "persisting"
	StateCommitted  State = "committed"
	StateAborting   State = "aborting"
	StateAborted    State = "aborted"
)

var transitions = map[State][]State{
	StateValidating: {StateReserving, StateAborting},
	StateReserving:  {StatePersisting, StateAborting},
	StatePersisting: {StateCommitted, StateAborting},
	StateAborting:   {StateAborted},
}

// orderRun tracks the state of one PlaceOrder call
type orderRun struct {
	state State
	span  trace.Span
}

func newOrderRun(span trace.Span) *orderRun {
	run := &orderRun{state: StateValidating, span: span}
	span.AddEvent("state." + string(StateValidating))
	return run
}

// transition panics on an edge the state machine does not have
func (o *orderRun) transition(to State) {
	for _, allowed := range transitions[o.state] {
		if allowed == to {
			o.state = to
			o.span.AddEvent("state." + string(to))
			return
		}
	}
	panic(fmt.Sprintf("checkout: illegal transition %s -> %s", o.state, to))
}

// beginReservation enters Reserving. A storage transaction that is
// re-executed after a transient error starts over from Reserving.
func (o *orderRun) beginReservation() {
	switch o.state {
	case StateReserving, StatePersisting:
		o.state = StateReserving
		o.span.AddEvent("transaction.retry")
	default:
		o.transition(StateReserving)
	}
}

// abort moves any non-terminal state to Aborted
func (o *orderRun) abort() {
	if o.state == StateCommitted || o.state == StateAborted {
		panic(fmt.Sprintf("checkout: cannot abort a %s order", o.state))
	}
	o.transition(StateAborting)
	o.transition(StateAborted)
}
