package transaction

import (
	"errors"
	"testing"

	"github.com/seu-repo/sigec-csms/internal/domain"
)

func TestNext_ClosedOverStates(t *testing.T) {
	known := make(map[domain.TransactionState]bool, len(States))
	for _, s := range States {
		known[s] = true
	}

	for _, state := range States {
		for _, event := range Events {
			for _, energized := range []bool{false, true} {
				next, err := Next(state, event, energized)
				if !known[next] {
					t.Fatalf("Next(%s, %s) produced undefined state %q", state, event, next)
				}
				if err != nil {
					if !errors.Is(err, domain.ErrStateConflict) {
						t.Fatalf("Next(%s, %s) returned unexpected error %v", state, event, err)
					}
					if next != state {
						t.Fatalf("rejected Next(%s, %s) changed state to %s", state, event, next)
					}
				}
			}
		}
	}
}

func TestNext_Rules(t *testing.T) {
	tests := []struct {
		from      domain.TransactionState
		event     Event
		energized bool
		want      domain.TransactionState
	}{
		{domain.TransactionStateIdle, EventPluggedIn, false, domain.TransactionStatePreparing},
		{domain.TransactionStatePreparing, EventAuthorized, false, domain.TransactionStateAuthorized},
		{domain.TransactionStatePreparing, EventAuthRejected, false, domain.TransactionStatePreparing},
		{domain.TransactionStateAuthorized, EventEnergyStarted, false, domain.TransactionStateCharging},
		{domain.TransactionStateCharging, EventSuspendedEV, true, domain.TransactionStateSuspendedEV},
		{domain.TransactionStateCharging, EventSuspendedEVSE, true, domain.TransactionStateSuspendedEVSE},
		{domain.TransactionStateSuspendedEV, EventSuspendedEVSE, true, domain.TransactionStateSuspendedEVSE},
		{domain.TransactionStateSuspendedEVSE, EventResumed, true, domain.TransactionStateCharging},
		{domain.TransactionStateCharging, EventStopRequested, true, domain.TransactionStateFinishing},
		{domain.TransactionStateSuspendedEV, EventStopRequested, true, domain.TransactionStateFinishing},
		{domain.TransactionStateAuthorized, EventStopRequested, false, domain.TransactionStateFinishing},
		{domain.TransactionStateFinishing, EventClosed, true, domain.TransactionStateCompleted},
		{domain.TransactionStateFinishing, EventClosed, false, domain.TransactionStateAborted},
		{domain.TransactionStateCharging, EventFaulted, true, domain.TransactionStateFaulted},
		{domain.TransactionStateIdle, EventFaulted, false, domain.TransactionStateFaulted},
		{domain.TransactionStateFaulted, EventReset, false, domain.TransactionStateIdle},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.event), func(t *testing.T) {
			got, err := Next(tt.from, tt.event, tt.energized)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestNext_Conflicts(t *testing.T) {
	tests := []struct {
		from  domain.TransactionState
		event Event
	}{
		{domain.TransactionStateIdle, EventEnergyStarted},
		{domain.TransactionStatePreparing, EventEnergyStarted},
		{domain.TransactionStateFinishing, EventStopRequested},
		{domain.TransactionStateFaulted, EventPluggedIn},
		{domain.TransactionStateIdle, EventClosed},
		{domain.TransactionStateCharging, EventReset},
	}

	for _, tt := range tests {
		if _, err := Next(tt.from, tt.event, false); !errors.Is(err, domain.ErrStateConflict) {
			t.Errorf("Next(%s, %s): expected state conflict, got %v", tt.from, tt.event, err)
		}
	}
}
