package collector

import "fmt"

// AuthKind classifies why a login sequence failed.
type AuthKind string

const (
	AuthInvalidCredentials AuthKind = "invalid_credentials"
	AuthDuplicateSession   AuthKind = "duplicate_session"
	AuthUnreachable        AuthKind = "unreachable"
)

// AuthError aborts the current run. Duplicate-session is deliberately not
// retried: whether to wait or invalidate the prior session is a policy the
// portal does not document, so it stays an operator-visible failure.
type AuthError struct {
	Source string
	Kind   AuthKind
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s auth failed (%s): %v", e.Source, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s auth failed (%s)", e.Source, e.Kind)
}

func (e *AuthError) Unwrap() error { return e.Err }

// FetchKind classifies why an authenticated fetch failed.
type FetchKind string

const (
	FetchTimeout          FetchKind = "timeout"
	FetchUnexpectedFormat FetchKind = "unexpected_format"
	FetchRateLimited      FetchKind = "rate_limited"
)

// FetchError aborts the current run.
type FetchError struct {
	Source string
	Kind   FetchKind
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s fetch failed (%s): %v", e.Source, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s fetch failed (%s)", e.Source, e.Kind)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError is per-record and never aborts a run: the record is counted
// as skipped and the batch continues.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return "parse failed: " + e.Reason }
