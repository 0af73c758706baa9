package enums

import "fmt"

// SubscriptionState tracks the lifecycle of a sellable subscription offer.
type SubscriptionState string

const (
	SubscriptionStateDraft    SubscriptionState = "draft"
	SubscriptionStateActive   SubscriptionState = "active"
	SubscriptionStateInactive SubscriptionState = "inactive"
)

var validSubscriptionStates = []SubscriptionState{
	SubscriptionStateDraft,
	SubscriptionStateActive,
	SubscriptionStateInactive,
}

// String implements fmt.Stringer.
func (s SubscriptionState) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s SubscriptionState) IsValid() bool {
	for _, candidate := range validSubscriptionStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether the offer may move to the target state.
// Draft offers may activate; active offers may deactivate. Un-publishing an
// active offer back to draft is disallowed.
func (s SubscriptionState) CanTransitionTo(target SubscriptionState) bool {
	switch s {
	case SubscriptionStateDraft:
		return target == SubscriptionStateActive
	case SubscriptionStateActive:
		return target == SubscriptionStateInactive
	default:
		return false
	}
}

// ParseSubscriptionState converts raw input into a SubscriptionState.
func ParseSubscriptionState(value string) (SubscriptionState, error) {
	for _, candidate := range validSubscriptionStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid subscription state %q", value)
}
