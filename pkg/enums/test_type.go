package enums

import "fmt"

// TestType is the exam format a paper or offer targets.
type TestType string

const (
	TestTypeMock      TestType = "mock"
	TestTypeSectional TestType = "sectional"
	TestTypeFullExam  TestType = "full_exam"
	TestTypeSpeed     TestType = "speed"
)

var validTestTypes = []TestType{
	TestTypeMock,
	TestTypeSectional,
	TestTypeFullExam,
	TestTypeSpeed,
}

// String implements fmt.Stringer.
func (t TestType) String() string {
	return string(t)
}

// IsValid reports whether the value is known.
func (t TestType) IsValid() bool {
	for _, candidate := range validTestTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseTestType converts raw input into a TestType.
func ParseTestType(value string) (TestType, error) {
	for _, candidate := range validTestTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid test type %q", value)
}
