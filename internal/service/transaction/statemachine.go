package transaction

import (
	"fmt"

	"github.com/seu-repo/sigec-csms/internal/domain"
)

// Event drives one connector's state machine.
type Event string

const (
	EventPluggedIn     Event = "PluggedIn"
	EventAuthorized    Event = "Authorized"
	EventAuthRejected  Event = "AuthRejected"
	EventEnergyStarted Event = "EnergyStarted"
	EventSuspendedEV   Event = "SuspendedEV"
	EventSuspendedEVSE Event = "SuspendedEVSE"
	EventResumed       Event = "Resumed"
	EventStopRequested Event = "StopRequested"
	EventClosed        Event = "Closed"
	EventFaulted       Event = "Faulted"
	EventReset         Event = "Reset"
)

// Events lists every event the machine understands.
var Events = []Event{
	EventPluggedIn, EventAuthorized, EventAuthRejected, EventEnergyStarted,
	EventSuspendedEV, EventSuspendedEVSE, EventResumed, EventStopRequested,
	EventClosed, EventFaulted, EventReset,
}

// States lists every state a connector can be in.
var States = []domain.TransactionState{
	domain.TransactionStateIdle,
	domain.TransactionStatePreparing,
	domain.TransactionStateAuthorized,
	domain.TransactionStateCharging,
	domain.TransactionStateSuspendedEV,
	domain.TransactionStateSuspendedEVSE,
	domain.TransactionStateFinishing,
	domain.TransactionStateCompleted,
	domain.TransactionStateAborted,
	domain.TransactionStateFaulted,
}

// Next returns the state reached from state on event. energized tells the
// machine whether energy ever flowed in the current transaction, which decides
// how Finishing closes. An illegal event returns ErrStateConflict and the
// unchanged state.
func Next(state domain.TransactionState, event Event, energized bool) (domain.TransactionState, error) {
	if event == EventFaulted {
		return domain.TransactionStateFaulted, nil
	}

	switch state {
	case domain.TransactionStateIdle, domain.TransactionStateCompleted, domain.TransactionStateAborted:
		if event == EventPluggedIn {
			return domain.TransactionStatePreparing, nil
		}

	case domain.TransactionStatePreparing:
		switch event {
		case EventAuthorized:
			return domain.TransactionStateAuthorized, nil
		case EventAuthRejected:
			return domain.TransactionStatePreparing, nil
		case EventStopRequested:
			return domain.TransactionStateFinishing, nil
		}

	case domain.TransactionStateAuthorized:
		switch event {
		case EventEnergyStarted:
			return domain.TransactionStateCharging, nil
		case EventStopRequested:
			return domain.TransactionStateFinishing, nil
		}

	case domain.TransactionStateCharging:
		switch event {
		case EventSuspendedEV:
			return domain.TransactionStateSuspendedEV, nil
		case EventSuspendedEVSE:
			return domain.TransactionStateSuspendedEVSE, nil
		case EventEnergyStarted:
			return domain.TransactionStateCharging, nil
		case EventStopRequested:
			return domain.TransactionStateFinishing, nil
		}

	case domain.TransactionStateSuspendedEV, domain.TransactionStateSuspendedEVSE:
		switch event {
		case EventSuspendedEV:
			return domain.TransactionStateSuspendedEV, nil
		case EventSuspendedEVSE:
			return domain.TransactionStateSuspendedEVSE, nil
		case EventResumed, EventEnergyStarted:
			return domain.TransactionStateCharging, nil
		case EventStopRequested:
			return domain.TransactionStateFinishing, nil
		}

	case domain.TransactionStateFinishing:
		if event == EventClosed {
			if energized {
				return domain.TransactionStateCompleted, nil
			}
			return domain.TransactionStateAborted, nil
		}

	case domain.TransactionStateFaulted:
		if event == EventReset {
			return domain.TransactionStateIdle, nil
		}
	}

	return state, fmt.Errorf("%w: %s is not allowed in state %s", domain.ErrStateConflict, event, state)
}
