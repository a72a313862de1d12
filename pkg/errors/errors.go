package errors

import (
	"errors"
	"fmt"
	"strings"
)

// SinkError is the base interface for all connector errors. Code returns a
// stable machine-readable identifier; Retriable reports whether the
// surrounding retry policy may re-attempt the failed call.
type SinkError interface {
	error
	Code() string
	Retriable() bool
}

// ObjectNotFoundError means the remote org has no sObject matching the
// requested type (by API name, label, or plural label).
type ObjectNotFoundError struct {
	ObjectType string
}

func (e *ObjectNotFoundError) Error() string {
	return fmt.Sprintf("object type '%s' not found in Salesforce", e.ObjectType)
}

func (e *ObjectNotFoundError) Code() string { return "OBJECT_NOT_FOUND" }

func (e *ObjectNotFoundError) Retriable() bool { return false }

// NewObjectNotFoundError creates a new ObjectNotFoundError
func NewObjectNotFoundError(objectType string) *ObjectNotFoundError {
	return &ObjectNotFoundError{ObjectType: objectType}
}

// NoCreatableFieldsError means the describe result reported zero creatable
// standard fields. This signals a permissions misconfiguration on the remote
// org and is fatal for the whole object type.
type NoCreatableFieldsError struct {
	Stream string
}

func (e *NoCreatableFieldsError) Error() string {
	return fmt.Sprintf("no creatable fields for stream '%s', check your permissions", e.Stream)
}

func (e *NoCreatableFieldsError) Code() string { return "NO_CREATABLE_FIELDS" }

func (e *NoCreatableFieldsError) Retriable() bool { return false }

// NewNoCreatableFieldsError creates a new NoCreatableFieldsError
func NewNoCreatableFieldsError(stream string) *NoCreatableFieldsError {
	return &NoCreatableFieldsError{Stream: stream}
}

// InvalidRecordError represents a record that fails required-field
// validation. It is fatal for that record only, never for the run.
type InvalidRecordError struct {
	Stream  string
	Field   string
	Message string
}

func (e *InvalidRecordError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s record: field '%s': %s", e.Stream, e.Field, e.Message)
	}
	return fmt.Sprintf("invalid %s record: %s", e.Stream, e.Message)
}

func (e *InvalidRecordError) Code() string { return "INVALID_RECORD" }

func (e *InvalidRecordError) Retriable() bool { return false }

// NewInvalidRecordError creates a new InvalidRecordError
func NewInvalidRecordError(stream, field, message string) *InvalidRecordError {
	return &InvalidRecordError{Stream: stream, Field: field, Message: message}
}

// RetriableAPIError wraps HTTP 429 and 5xx responses, which are transient
// and retried with exponential backoff.
type RetriableAPIError struct {
	Status  int
	Message string
}

func (e *RetriableAPIError) Error() string {
	return fmt.Sprintf("%d Server Error: %s", e.Status, e.Message)
}

func (e *RetriableAPIError) Code() string { return "RETRIABLE_API_ERROR" }

func (e *RetriableAPIError) Retriable() bool { return true }

// NewRetriableAPIError creates a new RetriableAPIError
func NewRetriableAPIError(status int, message string) *RetriableAPIError {
	return &RetriableAPIError{Status: status, Message: message}
}

// RemoteError is one element of Salesforce's error response body.
type RemoteError struct {
	ErrorCode string   `json:"errorCode"`
	Message   string   `json:"message"`
	Fields    []string `json:"fields"`
}

// FatalAPIError wraps 4xx responses other than 429. Remote holds the parsed
// Salesforce error entries so callers can match on stable error codes
// instead of response text.
type FatalAPIError struct {
	Status  int
	Message string
	Remote  []RemoteError
}

func (e *FatalAPIError) Error() string {
	return fmt.Sprintf("%d Client Error: %s", e.Status, e.Message)
}

func (e *FatalAPIError) Code() string { return "FATAL_API_ERROR" }

func (e *FatalAPIError) Retriable() bool { return false }

// HasRemoteCode reports whether any remote error entry carries the given
// Salesforce error code.
func (e *FatalAPIError) HasRemoteCode(code string) bool {
	for _, re := range e.Remote {
		if re.ErrorCode == code {
			return true
		}
	}
	return false
}

// FieldsForCode returns the union of offending field names reported under
// the given Salesforce error code.
func (e *FatalAPIError) FieldsForCode(code string) []string {
	var fields []string
	for _, re := range e.Remote {
		if re.ErrorCode == code {
			fields = append(fields, re.Fields...)
		}
	}
	return fields
}

// NewFatalAPIError creates a new FatalAPIError
func NewFatalAPIError(status int, message string, remote []RemoteError) *FatalAPIError {
	return &FatalAPIError{Status: status, Message: message, Remote: remote}
}

// QuotaExceededError aborts the entire run when the org's daily REST quota
// usage passes the configured threshold.
type QuotaExceededError struct {
	Used      int
	Allotted  int
	Threshold int
}

func (e *QuotaExceededError) Error() string {
	percent := float64(e.Used) / float64(e.Allotted) * 100
	return fmt.Sprintf(
		"Salesforce has reported %d/%d (%3.2f%%) total REST quota used across all "+
			"Salesforce Applications. Terminating replication to not continue past "+
			"configured percentage of %d%% total quota.",
		e.Used, e.Allotted, percent, e.Threshold)
}

func (e *QuotaExceededError) Code() string { return "QUOTA_EXCEEDED" }

func (e *QuotaExceededError) Retriable() bool { return false }

// NewQuotaExceededError creates a new QuotaExceededError
func NewQuotaExceededError(used, allotted, threshold int) *QuotaExceededError {
	return &QuotaExceededError{Used: used, Allotted: allotted, Threshold: threshold}
}

// IsRetriable reports whether err (or anything it wraps) is classified as
// transient.
func IsRetriable(err error) bool {
	var se SinkError
	if errors.As(err, &se) {
		return se.Retriable()
	}
	return false
}

// IsQuotaExceeded reports whether err carries a quota-exceeded signal.
func IsQuotaExceeded(err error) bool {
	var qe *QuotaExceededError
	return errors.As(err, &qe)
}

// AsObjectNotFound unwraps err into an ObjectNotFoundError, if it is one.
func AsObjectNotFound(err error) (*ObjectNotFoundError, bool) {
	var oe *ObjectNotFoundError
	if errors.As(err, &oe) {
		return oe, true
	}
	return nil, false
}

// AsFatalAPI unwraps err into a FatalAPIError, if it is one.
func AsFatalAPI(err error) (*FatalAPIError, bool) {
	var fe *FatalAPIError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// Summary flattens an error into a single-line string suitable for a
// per-record outcome entry.
func Summary(err error) string {
	if err == nil {
		return ""
	}
	return strings.ReplaceAll(err.Error(), "\n", " ")
}
