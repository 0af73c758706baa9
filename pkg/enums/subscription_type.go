package enums

import (
	"fmt"
	"time"
)

// SubscriptionType is the duration class of an offer. It seeds the initial
// validity window at grant time; the entitlement's validity field stays
// authoritative afterwards and admins may extend it independently.
type SubscriptionType string

const (
	SubscriptionTypeDay        SubscriptionType = "day"
	SubscriptionTypeMonthly    SubscriptionType = "monthly"
	SubscriptionTypeQuarterly  SubscriptionType = "quarterly"
	SubscriptionTypeHalfYearly SubscriptionType = "half_yearly"
	SubscriptionTypeYearly     SubscriptionType = "yearly"
)

var validSubscriptionTypes = []SubscriptionType{
	SubscriptionTypeDay,
	SubscriptionTypeMonthly,
	SubscriptionTypeQuarterly,
	SubscriptionTypeHalfYearly,
	SubscriptionTypeYearly,
}

var subscriptionTypeDurations = map[SubscriptionType]time.Duration{
	SubscriptionTypeDay:        24 * time.Hour,
	SubscriptionTypeMonthly:    30 * 24 * time.Hour,
	SubscriptionTypeQuarterly:  90 * 24 * time.Hour,
	SubscriptionTypeHalfYearly: 180 * 24 * time.Hour,
	SubscriptionTypeYearly:     365 * 24 * time.Hour,
}

// String implements fmt.Stringer.
func (s SubscriptionType) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s SubscriptionType) IsValid() bool {
	_, ok := subscriptionTypeDurations[s]
	return ok
}

// Duration returns the initial validity window implied by the duration class.
func (s SubscriptionType) Duration() time.Duration {
	return subscriptionTypeDurations[s]
}

// ParseSubscriptionType converts raw input into a SubscriptionType.
func ParseSubscriptionType(value string) (SubscriptionType, error) {
	for _, candidate := range validSubscriptionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid subscription type %q", value)
}
