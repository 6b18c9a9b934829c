package arbor

// Status represents the validation state of a control.
type Status int32

const (
	// StatusValid indicates the control and every enabled descendant pass
	// validation.
	StatusValid Status = iota

	// StatusInvalid indicates the control carries errors or an enabled
	// descendant is invalid.
	StatusInvalid

	// StatusPending indicates async validation is in flight on the control
	// or an enabled descendant.
	StatusPending

	// StatusDisabled indicates the control is exempt from validation. A
	// composite is disabled when it was disabled explicitly or when every
	// child is disabled.
	StatusDisabled
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusValid:
		return "VALID"
	case StatusInvalid:
		return "INVALID"
	case StatusPending:
		return "PENDING"
	case StatusDisabled:
		return "DISABLED"
	default:
		return "UNKNOWN"
	}
}
