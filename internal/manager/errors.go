package manager

import "errors"

// unknownModelError rejects requests naming models absent from the catalog.
// Raised before any I/O.
type unknownModelError struct{ name string }

func (e unknownModelError) Error() string { return "unknown model: " + e.name }

// ErrUnknownModel constructs an unknownModelError.
func ErrUnknownModel(name string) error { return unknownModelError{name: name} }

// IsUnknownModel reports whether err names a model outside the catalog.
func IsUnknownModel(err error) bool {
	var ue unknownModelError
	return errors.As(err, &ue)
}

// artifactMissingError signals that materialization was attempted but the
// artifact was not on disk after the ensure step.
type artifactMissingError struct{ name string }

func (e artifactMissingError) Error() string { return "artifact missing for model: " + e.name }

// ErrArtifactMissing constructs an artifactMissingError.
func ErrArtifactMissing(name string) error { return artifactMissingError{name: name} }

// IsArtifactMissing reports whether err indicates a missing artifact at
// load time.
func IsArtifactMissing(err error) bool {
	var ae artifactMissingError
	return errors.As(err, &ae)
}

// backendFailureError wraps a failed session materialization. The cache is
// back to empty when one of these surfaces.
type backendFailureError struct {
	name string
	err  error
}

func (e backendFailureError) Error() string { return "backend load failed for " + e.name + ": " + e.err.Error() }
func (e backendFailureError) Unwrap() error { return e.err }

// ErrBackendFailure constructs a backendFailureError.
func ErrBackendFailure(name string, err error) error { return backendFailureError{name: name, err: err} }

// IsBackendFailure reports whether err is a failed materialization.
func IsBackendFailure(err error) bool {
	var be backendFailureError
	return errors.As(err, &be)
}

// tooBusyError signals generation queue timeout/overflow for 429 mapping.
type tooBusyError struct{ name string }

func (e tooBusyError) Error() string { return "too busy: " + e.name }

// ErrTooBusy constructs a tooBusyError.
func ErrTooBusy(name string) error { return tooBusyError{name: name} }

// IsTooBusy reports whether err indicates generation backpressure.
func IsTooBusy(err error) bool {
	var te tooBusyError
	return errors.As(err, &te)
}
