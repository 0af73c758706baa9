package enums

import "fmt"

// EntitlementType distinguishes how a grant was sourced. Free and paid grants
// are orthogonal; a user's access is the union across types.
type EntitlementType string

const (
	EntitlementTypeSubscription     EntitlementType = "subscription"
	EntitlementTypeFreeSubscription EntitlementType = "free_subscription"
	EntitlementTypeTestSeries       EntitlementType = "test_series"
	EntitlementTypeUserPass         EntitlementType = "user_pass"
)

var validEntitlementTypes = []EntitlementType{
	EntitlementTypeSubscription,
	EntitlementTypeFreeSubscription,
	EntitlementTypeTestSeries,
	EntitlementTypeUserPass,
}

// FreeEntitlementTypes lists the grant types that do not require payment.
var FreeEntitlementTypes = []EntitlementType{
	EntitlementTypeFreeSubscription,
}

// PaidEntitlementTypes lists the grant types created through a purchase.
var PaidEntitlementTypes = []EntitlementType{
	EntitlementTypeSubscription,
	EntitlementTypeTestSeries,
	EntitlementTypeUserPass,
}

// String implements fmt.Stringer.
func (t EntitlementType) String() string {
	return string(t)
}

// IsValid reports whether the value is known.
func (t EntitlementType) IsValid() bool {
	for _, candidate := range validEntitlementTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// IsFree reports whether the grant type is promotional.
func (t EntitlementType) IsFree() bool {
	for _, candidate := range FreeEntitlementTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseEntitlementType converts raw input into an EntitlementType.
func ParseEntitlementType(value string) (EntitlementType, error) {
	for _, candidate := range validEntitlementTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid entitlement type %q", value)
}
