package enums

import "fmt"

// PaperType is the broad family an exam paper belongs to.
type PaperType string

const (
	PaperTypePrevious PaperType = "previous_year"
	PaperTypeModel    PaperType = "model"
	PaperTypePractice PaperType = "practice"
)

var validPaperTypes = []PaperType{
	PaperTypePrevious,
	PaperTypeModel,
	PaperTypePractice,
}

// String implements fmt.Stringer.
func (p PaperType) String() string {
	return string(p)
}

// IsValid reports whether the value is known.
func (p PaperType) IsValid() bool {
	for _, candidate := range validPaperTypes {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePaperType converts raw input into a PaperType.
func ParsePaperType(value string) (PaperType, error) {
	for _, candidate := range validPaperTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid paper type %q", value)
}
