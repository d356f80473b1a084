package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func paymentState(p PaymentState) *PaymentState {
	return &p
}

func TestTransitionRevocationWinsFromAnywhere(t *testing.T) {
	states := []PurchaseState{
		StatePending, StateActive, StateGracePeriod, StateOnHold,
		StatePaused, StateCanceled, StateExpired,
	}
	sig := &Signal{Kind: KindRevoked}
	for _, current := range states {
		target, result := Transition(current, sig)
		assert.Equal(t, StateRevoked, target, "from %s", current)
		assert.Equal(t, TransitionApply, result, "from %s", current)
	}

	target, result := Transition(StateRevoked, sig)
	assert.Equal(t, StateRevoked, target)
	assert.Equal(t, TransitionNoop, result)
}

func TestTransitionExpiryWinsExceptFromTerminal(t *testing.T) {
	sig := &Signal{Kind: KindExpired}

	target, result := Transition(StateActive, sig)
	assert.Equal(t, StateExpired, target)
	assert.Equal(t, TransitionApply, result)

	target, result = Transition(StateRevoked, sig)
	assert.Equal(t, StateRevoked, target)
	assert.Equal(t, TransitionNoop, result)

	target, result = Transition(StateExpired, sig)
	assert.Equal(t, StateExpired, target)
	assert.Equal(t, TransitionNoop, result)
}

func TestTransitionTerminalRejectsEverythingElse(t *testing.T) {
	for _, current := range []PurchaseState{StateRevoked, StateExpired} {
		for _, kind := range []EventKind{KindRenewed, KindRecovered, KindCanceled, KindGracePeriod, KindRestarted, KindPaused} {
			target, result := Transition(current, &Signal{Kind: kind})
			assert.Equal(t, current, target, "%s on %s", kind, current)
			assert.Equal(t, TransitionAnomaly, result, "%s on %s", kind, current)
		}
	}
}

func TestTransitionPurchasedRequiresSettledPayment(t *testing.T) {
	settled := &Signal{Kind: KindPurchased, PaymentState: paymentState(PaymentReceived)}
	target, result := Transition(StatePending, settled)
	assert.Equal(t, StateActive, target)
	assert.Equal(t, TransitionApply, result)

	trial := &Signal{Kind: KindPurchased, PaymentState: paymentState(PaymentFreeTrial)}
	target, result = Transition(StatePending, trial)
	assert.Equal(t, StateActive, target)
	assert.Equal(t, TransitionApply, result)

	pending := &Signal{Kind: KindPurchased, PaymentState: paymentState(PaymentPending)}
	target, result = Transition(StatePending, pending)
	assert.Equal(t, StatePending, target)
	assert.Equal(t, TransitionApply, result)

	unreported := &Signal{Kind: KindPurchased}
	target, _ = Transition(StateActive, unreported)
	assert.Equal(t, StatePending, target, "no payment proof never grants active")
}

func TestTransitionLifecyclePaths(t *testing.T) {
	tests := []struct {
		name    string
		current PurchaseState
		kind    EventKind
		target  PurchaseState
		result  TransitionResult
	}{
		{"renewal keeps active", StateActive, KindRenewed, StateActive, TransitionApply},
		{"renewal from canceled is anomalous", StateCanceled, KindRenewed, StateCanceled, TransitionAnomaly},
		{"grace period from active", StateActive, KindGracePeriod, StateGracePeriod, TransitionApply},
		{"grace period repeated", StateGracePeriod, KindGracePeriod, StateGracePeriod, TransitionNoop},
		{"hold follows grace period", StateGracePeriod, KindOnHold, StateOnHold, TransitionApply},
		{"hold from active is anomalous", StateActive, KindOnHold, StateActive, TransitionAnomaly},
		{"recovery from grace period", StateGracePeriod, KindRecovered, StateActive, TransitionApply},
		{"recovery from hold", StateOnHold, KindRecovered, StateActive, TransitionApply},
		{"recovery when already active", StateActive, KindRecovered, StateActive, TransitionNoop},
		{"cancel from active", StateActive, KindCanceled, StateCanceled, TransitionApply},
		{"cancel repeated", StateCanceled, KindCanceled, StateCanceled, TransitionNoop},
		{"restart after cancel", StateCanceled, KindRestarted, StateActive, TransitionApply},
		{"restart after pause", StatePaused, KindRestarted, StateActive, TransitionApply},
		{"pause from active", StateActive, KindPaused, StatePaused, TransitionApply},
		{"pause from grace period is anomalous", StateGracePeriod, KindPaused, StateGracePeriod, TransitionAnomaly},
		{"deferral applies without moving state", StateActive, KindDeferred, StateActive, TransitionApply},
		{"price change is benign", StateActive, KindPriceChangeConfirmed, StateActive, TransitionNoop},
		{"pause schedule change is benign", StateActive, KindPauseScheduleChanged, StateActive, TransitionNoop},
		{"unknown kind is benign", StateActive, KindUnknown, StateActive, TransitionNoop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, result := Transition(tt.current, &Signal{Kind: tt.kind})
			assert.Equal(t, tt.target, target)
			assert.Equal(t, tt.result, result)
		})
	}
}

func TestInitialState(t *testing.T) {
	assert.Equal(t, StateActive, InitialState(&Signal{Kind: KindPurchased, PaymentState: paymentState(PaymentReceived)}))
	assert.Equal(t, StatePending, InitialState(&Signal{Kind: KindPurchased, PaymentState: paymentState(PaymentPending)}))
	assert.Equal(t, StateActive, InitialState(&Signal{Kind: KindRenewed, PaymentState: paymentState(PaymentReceived)}))
	assert.Equal(t, StateCanceled, InitialState(&Signal{Kind: KindCanceled}))
	assert.Equal(t, StateGracePeriod, InitialState(&Signal{Kind: KindGracePeriod}))
	assert.Equal(t, StateOnHold, InitialState(&Signal{Kind: KindOnHold}))
	assert.Equal(t, StatePaused, InitialState(&Signal{Kind: KindPaused}))
	assert.Equal(t, StateRevoked, InitialState(&Signal{Kind: KindRevoked}))
	assert.Equal(t, StateExpired, InitialState(&Signal{Kind: KindExpired}))
}

func TestKindFromNotificationType(t *testing.T) {
	assert.Equal(t, KindRecovered, KindFromNotificationType(1))
	assert.Equal(t, KindExpired, KindFromNotificationType(13))
	assert.Equal(t, KindUnknown, KindFromNotificationType(0))
	assert.Equal(t, KindUnknown, KindFromNotificationType(14))
	assert.Equal(t, KindUnknown, KindFromNotificationType(-3))
}
