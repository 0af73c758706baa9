package enums

import (
	"testing"
	"time"
)

func TestSubscriptionTypeDurations(t *testing.T) {
	cases := []struct {
		subType  SubscriptionType
		duration time.Duration
	}{
		{SubscriptionTypeDay, 24 * time.Hour},
		{SubscriptionTypeMonthly, 30 * 24 * time.Hour},
		{SubscriptionTypeQuarterly, 90 * 24 * time.Hour},
		{SubscriptionTypeHalfYearly, 180 * 24 * time.Hour},
		{SubscriptionTypeYearly, 365 * 24 * time.Hour},
	}
	for _, tc := range cases {
		if got := tc.subType.Duration(); got != tc.duration {
			t.Fatalf("%s: expected %s, got %s", tc.subType, tc.duration, got)
		}
	}
}

func TestSubscriptionTypeValidity(t *testing.T) {
	if !SubscriptionTypeMonthly.IsValid() {
		t.Fatal("expected monthly to be valid")
	}
	if SubscriptionType("weekly").IsValid() {
		t.Fatal("expected weekly to be invalid")
	}
}
