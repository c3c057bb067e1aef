package resolver

import "github.com/pkg/errors"

// LookupError wraps a collaborator I/O failure so callers can distinguish
// "promotion not applicable" from "could not determine applicability".
// Evaluation fails closed on these: the promotion is reported ineligible and
// the error is propagated for the caller to retry or abort checkout.
type LookupError struct {
	Op  string
	Err error
}

func (e *LookupError) Error() string {
	return "promotion lookup failed: " + e.Op + ": " + e.Err.Error()
}

func (e *LookupError) Unwrap() error { return e.Err }

// IsLookupError reports whether err is (or wraps) a LookupError.
func IsLookupError(err error) bool {
	var le *LookupError
	return errors.As(err, &le)
}
