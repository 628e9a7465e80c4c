package artifact

import "errors"

// corruptedError marks a fetch failure caused by inconsistent partial state
// left behind by an interrupted download. The store auto-remediates these
// once before surfacing them.
type corruptedError struct {
	name string
	err  error
}

func (e corruptedError) Error() string { return "corrupted artifact cache for " + e.name + ": " + e.err.Error() }
func (e corruptedError) Unwrap() error { return e.err }

// ErrCorrupted constructs a corrupted-resume download error.
func ErrCorrupted(name string, err error) error { return corruptedError{name: name, err: err} }

// IsCorrupted reports whether err classifies as a corrupted-resume failure.
func IsCorrupted(err error) bool {
	var ce corruptedError
	return errors.As(err, &ce)
}

// transientError marks a retryable network or disk fault during a fetch.
type transientError struct {
	name string
	err  error
}

func (e transientError) Error() string { return "download failed for " + e.name + ": " + e.err.Error() }
func (e transientError) Unwrap() error { return e.err }

// ErrTransient constructs a transient download error.
func ErrTransient(name string, err error) error { return transientError{name: name, err: err} }

// IsTransient reports whether err classifies as a transient download failure.
func IsTransient(err error) bool {
	var te transientError
	return errors.As(err, &te)
}
