package backend

import "errors"

// templateError marks a failed chat-template render or application. The
// generation engine recovers from these by falling back to the session's
// default template preparation.
type templateError struct {
	err error
}

func (e templateError) Error() string { return "template: " + e.err.Error() }
func (e templateError) Unwrap() error { return e.err }

// ErrTemplate wraps err as a template error.
func ErrTemplate(err error) error { return templateError{err: err} }

// IsTemplateError reports whether err classifies as a template failure.
func IsTemplateError(err error) bool {
	var te templateError
	return errors.As(err, &te)
}

// unavailableError signals a runtime this binary was built without or whose
// external pieces are missing (e.g. the llama-server binary).
type unavailableError struct{ msg string }

func (e unavailableError) Error() string { return e.msg }

// ErrUnavailable constructs an unavailableError.
func ErrUnavailable(msg string) error { return unavailableError{msg: msg} }

// IsUnavailable reports whether err indicates a missing runtime dependency.
func IsUnavailable(err error) bool {
	var ue unavailableError
	return errors.As(err, &ue)
}
