package triage

import "errors"

// FailureKind classifies pipeline failures so callers can branch on
// kind instead of string-matching messages.
type FailureKind int

const (
	// KindValidation marks malformed input rejected before any side effect.
	KindValidation FailureKind = iota
	// KindTransient marks dependency failures worth retrying (timeouts,
	// rate limits, unavailable upstreams).
	KindTransient
	// KindPermanent marks failures that retrying cannot fix (bad request,
	// undecodable payload). These dead-letter immediately.
	KindPermanent
)

func (k FailureKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Failure tags an error with a FailureKind.
type Failure struct {
	Kind FailureKind
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return f.Kind.String() + " failure"
	}
	return f.Err.Error()
}

func (f *Failure) Unwrap() error { return f.Err }

// Validation wraps err as a validation failure.
func Validation(err error) error {
	return &Failure{Kind: KindValidation, Err: err}
}

// Transient wraps err as a retryable dependency failure.
func Transient(err error) error {
	return &Failure{Kind: KindTransient, Err: err}
}

// Permanent wraps err as a non-retryable failure.
func Permanent(err error) error {
	return &Failure{Kind: KindPermanent, Err: err}
}

// KindOf extracts the failure kind from err. Untagged errors default to
// transient so unknown dependency failures stay on the retry path.
func KindOf(err error) FailureKind {
	var failure *Failure
	if errors.As(err, &failure) {
		return failure.Kind
	}
	return KindTransient
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool { return taggedAs(err, KindValidation) }

// IsTransient reports whether err should re-enter the retry path.
// Untagged errors count as transient, matching KindOf.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == KindTransient
}

// IsPermanent reports whether err should dead-letter without retry.
func IsPermanent(err error) bool { return taggedAs(err, KindPermanent) }

func taggedAs(err error, kind FailureKind) bool {
	var failure *Failure
	return errors.As(err, &failure) && failure.Kind == kind
}
