package uws

import (
	"strings"
	"time"
)

// JobParameter is a single input parameter as supplied at creation. IDs are
// stored lowercased; insertion order is preserved by the store.
type JobParameter struct {
	ID     string `json:"id"`
	Value  string `json:"value"`
	IsPost bool   `json:"is_post"`
}

// JobResult points at a backend output in the object store. The URL keeps the
// backend's object-store scheme; it is translated into a signed HTTP URL only
// when rendered for a client.
type JobResult struct {
	ResultID string `json:"result_id"`
	URL      string `json:"url"`
	Size     *int64 `json:"size,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// ErrorType classifies a backend failure.
type ErrorType string

const (
	ErrorTypeTransient ErrorType = "transient"
	ErrorTypeFatal     ErrorType = "fatal"
)

// ErrorCode is the protocol-level code attached to a job error.
type ErrorCode string

const (
	CodeAuthenticationError ErrorCode = "AuthenticationError"
	CodeAuthorizationError  ErrorCode = "AuthorizationError"
	CodeMultiValuedParam    ErrorCode = "MultiValuedParamNotSupported"
	CodeServiceUnavailable  ErrorCode = "ServiceUnavailable"
	CodeUsageError          ErrorCode = "UsageError"
	CodeError               ErrorCode = "Error"
)

// JobError is the persisted failure record of a job in the ERROR phase.
// Detail, when present, carries operator-facing context such as a traceback
// and is rendered after the message separated by a blank line.
type JobError struct {
	Type    ErrorType `json:"type"`
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Detail  string    `json:"detail,omitempty"`
}

// Render returns the plain-text form served by the /error endpoint.
func (e *JobError) Render() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Detail) == "" {
		return e.Message
	}
	return e.Message + "\n\n" + e.Detail
}

// Job is the full record of one asynchronous request.
type Job struct {
	ID                string
	Owner             string
	RunID             string
	Phase             ExecutionPhase
	MessageID         string
	Parameters        []JobParameter
	Results           []JobResult
	Error             *JobError
	CreationTime      time.Time
	StartTime         *time.Time
	EndTime           *time.Time
	DestructionTime   time.Time
	ExecutionDuration int
	Quote             *time.Time
}

// JobDescription is the abbreviated form returned by listings. It omits
// parameters, results, and error detail.
type JobDescription struct {
	ID           string
	Owner        string
	Phase        ExecutionPhase
	RunID        string
	CreationTime time.Time
}

// Availability reports whether the underlying store can serve requests.
type Availability struct {
	Available bool
	Note      string
}

// TimestampFormat is the wire form of every timestamp: ISO-8601 UTC with a
// trailing Z and second resolution.
const TimestampFormat = "2006-01-02T15:04:05Z"

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}

func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(TimestampFormat, strings.TrimSpace(s))
}
