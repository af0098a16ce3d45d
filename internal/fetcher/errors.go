package fetcher

import "fmt"

// ValidationError reports a missing or malformed request parameter. It is
// raised before any network call and is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid parameter %s: %s", e.Field, e.Reason)
}

// RemoteError reports a non-success response from the upstream provider:
// an HTTP error status, a provider-specific error code, or a timeout. The
// job retries naturally on its next scheduled run.
type RemoteError struct {
	Resource   string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("upstream error for %s: %s (code %s)", e.Resource, e.Message, e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("upstream error for %s: %v", e.Resource, e.Err)
	}
	return fmt.Sprintf("upstream error for %s: status %d", e.Resource, e.StatusCode)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// MalformedRecordError reports one element of a multi-record payload that
// could not be normalized. The element is skipped; the batch continues.
type MalformedRecordError struct {
	Resource string
	Field    string
	Value    string
	Err      error
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed %s record: field %s value %q: %v", e.Resource, e.Field, e.Value, e.Err)
}

func (e *MalformedRecordError) Unwrap() error { return e.Err }
