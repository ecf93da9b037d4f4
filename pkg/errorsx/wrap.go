package errorsx

import "errors"

// ReasonedError carries a ReasonCode alongside the underlying error so
// callers branch on what failed instead of parsing messages.
type ReasonedError struct {
	Err    error
	Reason ReasonCode
}

func (e ReasonedError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return string(e.Reason) + ": " + e.Err.Error()
}

func (e ReasonedError) Unwrap() error {
	return e.Err
}

// Wrap attaches a reason to err. The first reason on a chain wins; a nil
// err stays nil.
func Wrap(err error, reason ReasonCode) error {
	if err == nil {
		return nil
	}
	var re ReasonedError
	if errors.As(err, &re) {
		return err
	}
	return ReasonedError{Err: err, Reason: reason}
}

// Reason returns the reason carried anywhere on err's chain, or
// ReasonUnknown.
func Reason(err error) ReasonCode {
	var re ReasonedError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ReasonUnknown
}

// HasReason reports whether err carries the given reason.
func HasReason(err error, reason ReasonCode) bool {
	return Reason(err) == reason
}

// FatalErr reports whether err's reason requires process-wide shutdown.
func FatalErr(err error) bool {
	return Fatal(Reason(err))
}
