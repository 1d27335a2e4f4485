package fail

import (
	"errors"
)

// ErrViolation is the sentinel all violations wrap. Recovery code can match
// any contract violation with errors.Is(err, fail.ErrViolation).
var ErrViolation = errors.New("contract violation")

// Violation carries the full context of a failed contract check. It is the
// only value this package ever panics with.
type Violation struct {
	// ID is a unique identifier correlating this violation across logs,
	// span events, metrics, and error responses.
	ID string

	// Check names the check kind that failed ("Fast" or "Never").
	Check string

	// Message is the caller-supplied description of the violated contract.
	Message string

	// Component and Operation label where the violation was raised. Both
	// are empty for checks raised outside a Scope.
	Component string
	Operation string

	// Details holds the formatted key/value context captured at the
	// violation site, one indented key=value pair per line.
	Details string
}

// Error implements the error interface so a recovered *Violation can flow
// through error-handling paths unchanged.
func (violation *Violation) Error() string {
	if violation == nil {
		return ErrViolation.Error()
	}

	if violation.Details == "" {
		return "contract violation: " + violation.Message
	}

	return "contract violation: " + violation.Message + "\n" + violation.Details
}

// Unwrap makes errors.Is(err, ErrViolation) hold for every violation.
func (violation *Violation) Unwrap() error {
	return ErrViolation
}

// AsViolation classifies a recovered panic value. It returns the violation
// and true when the value is a *Violation or an error wrapping one, and nil
// and false for every other panic.
//
// Recovery middleware uses this to separate contract violations, which get a
// structured response, from foreign panics, which are handled as crashes.
func AsViolation(recovered any) (*Violation, bool) {
	if recovered == nil {
		return nil, false
	}

	if violation, ok := recovered.(*Violation); ok {
		return violation, true
	}

	if err, ok := recovered.(error); ok {
		var violation *Violation
		if errors.As(err, &violation) {
			return violation, true
		}
	}

	return nil, false
}
