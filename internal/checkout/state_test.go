package checkout

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace/noop"
)

func newTestRun() *orderRun {
	_, span := noop.NewTracerProvider().Tracer("test").Start(context.Background(), "order")
	return newOrderRun(span)
}

func TestOrderRun_HappyPath(t *testing.T) {
	run := newTestRun()

	run.beginReservation()
	run.transition(StatePersisting)
	run.transition(StateCommitted)

	assert.Equal(t, StateCommitted, run.state)
}

func TestOrderRun_AbortFromAnyNonTerminalState(t *testing.T) {
	for _, steps := range [][]State{
		{},
		{StateReserving},
		{StateReserving, StatePersisting},
	} {
		run := newTestRun()
		for _, s := range steps {
			run.transition(s)
		}

		run.abort()

		assert.Equal(t, StateAborted, run.state)
	}
}

func TestOrderRun_IllegalTransitionsPanic(t *testing.T) {
	run := newTestRun()
	assert.Panics(t, func() { run.transition(StateCommitted) })

	committed := newTestRun()
	committed.transition(StateReserving)
	committed.transition(StatePersisting)
	committed.transition(StateCommitted)
	assert.Panics(t, func() { committed.abort() })
	assert.Panics(t, func() { committed.transition(StateReserving) })
}

func TestOrderRun_TransactionRetryRestartsReservation(t *testing.T) {
	run := newTestRun()
	run.beginReservation()
	run.transition(StatePersisting)

	run.beginReservation()

	assert.Equal(t, StateReserving, run.state)
}
