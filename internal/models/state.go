package models

// TransitionResult classifies the outcome of evaluating a signal against the
// current state.
type TransitionResult int

const (
	// TransitionApply means the target state (or refreshed fields) must be
	// written.
	TransitionApply TransitionResult = iota
	// TransitionNoop means the signal is benign and changes nothing.
	TransitionNoop
	// TransitionAnomaly means the transition is not legal from the current
	// state. The signal is logged and ignored, never guessed.
	TransitionAnomaly
)

// Transition evaluates a signal against the current state and returns the
// target state. Revocation and expiry win from anywhere (fail safe toward
// removing access); every other transition must be legal from the current
// state or it is reported as an anomaly.
func Transition(current PurchaseState, sig *Signal) (PurchaseState, TransitionResult) {
	switch sig.Kind {
	case KindRevoked:
		if current == StateRevoked {
			return current, TransitionNoop
		}
		return StateRevoked, TransitionApply
	case KindExpired:
		if current.Terminal() {
			return current, TransitionNoop
		}
		return StateExpired, TransitionApply
	}

	if current.Terminal() {
		// Only revocation and expiry touch a terminal record. A lineage
		// reopening under a new token is resolved before transition.
		return current, TransitionAnomaly
	}

	switch sig.Kind {
	case KindUnknown, KindPriceChangeConfirmed, KindPauseScheduleChanged:
		return current, TransitionNoop

	case KindDeferred:
		// The deferred expiry applies, the state does not move.
		return current, TransitionApply

	case KindPurchased:
		// Verification signals resync the full state: a settled payment means
		// active regardless of what an older signal left behind, an unsettled
		// one means pending.
		if sig.PaymentSettled() {
			return StateActive, TransitionApply
		}
		return StatePending, TransitionApply

	case KindRenewed:
		if current == StateActive {
			return StateActive, TransitionApply
		}
		return current, TransitionAnomaly

	case KindRecovered:
		switch current {
		case StateGracePeriod, StateOnHold:
			return StateActive, TransitionApply
		case StateActive:
			return current, TransitionNoop
		}
		return current, TransitionAnomaly

	case KindCanceled:
		switch current {
		case StateActive:
			return StateCanceled, TransitionApply
		case StateCanceled:
			return current, TransitionNoop
		}
		return current, TransitionAnomaly

	case KindGracePeriod:
		switch current {
		case StateActive:
			return StateGracePeriod, TransitionApply
		case StateGracePeriod:
			return current, TransitionNoop
		}
		return current, TransitionAnomaly

	case KindOnHold:
		switch current {
		case StateGracePeriod:
			return StateOnHold, TransitionApply
		case StateOnHold:
			return current, TransitionNoop
		}
		return current, TransitionAnomaly

	case KindRestarted:
		switch current {
		case StateCanceled, StatePaused:
			return StateActive, TransitionApply
		case StateActive:
			return current, TransitionNoop
		}
		return current, TransitionAnomaly

	case KindPaused:
		switch current {
		case StateActive:
			return StatePaused, TransitionApply
		case StatePaused:
			return current, TransitionNoop
		}
		return current, TransitionAnomaly
	}

	return current, TransitionAnomaly
}

// InitialState determines the state of a record created by the first signal
// of a previously unseen token.
func InitialState(sig *Signal) PurchaseState {
	switch sig.Kind {
	case KindRevoked:
		return StateRevoked
	case KindExpired:
		return StateExpired
	case KindCanceled:
		return StateCanceled
	case KindGracePeriod:
		return StateGracePeriod
	case KindOnHold:
		return StateOnHold
	case KindPaused:
		return StatePaused
	}
	if sig.PaymentSettled() {
		return StateActive
	}
	return StatePending
}
