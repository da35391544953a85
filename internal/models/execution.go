package models

import (
	"time"
)

// ErrorKind classifies a failed execution so clients can render it.
type ErrorKind string

const (
	ErrorKindNone                ErrorKind = ""
	ErrorKindUnsupportedLanguage ErrorKind = "UnsupportedLanguage"
	ErrorKindSyntax              ErrorKind = "SyntaxError"
	ErrorKindRuntime             ErrorKind = "RuntimeError"
	ErrorKindTimeout             ErrorKind = "Timeout"
	ErrorKindMemoryExceeded      ErrorKind = "MemoryExceeded"
	ErrorKindInternal            ErrorKind = "InternalError"
)

// ExecutionRequest is transient: it lives only until its result is delivered.
type ExecutionRequest struct {
	ID        string
	SessionID string
	UserID    string
	Code      string
	Language  string
}

// ExecutionResult is what the sandbox reports back. Output and Error are nil when absent.
type ExecutionResult struct {
	ID            string
	SessionID     string
	UserID        string
	Output        *string
	Error         *string
	ErrorKind     ErrorKind
	ExecutionTime time.Duration
}

// Failed reports whether the result carries an error.
func (r ExecutionResult) Failed() bool {
	return r.ErrorKind != ErrorKindNone
}

// ResultEvent renders the result for the requester.
func (r ExecutionResult) ResultEvent() ExecutionResultEvent {
	return ExecutionResultEvent{
		ExecutionID:     r.ID,
		SessionID:       r.SessionID,
		UserID:          r.UserID,
		Output:          r.Output,
		Error:           r.Error,
		ErrorKind:       r.ErrorKind,
		ExecutionTimeMs: r.ExecutionTime.Milliseconds(),
	}
}

// BroadcastEvent renders the result for the other members of the room.
func (r ExecutionResult) BroadcastEvent(at time.Time) ExecutionBroadcast {
	return ExecutionBroadcast{
		SessionID:       r.SessionID,
		UserID:          r.UserID,
		Output:          r.Output,
		Error:           r.Error,
		ErrorKind:       r.ErrorKind,
		ExecutionTimeMs: r.ExecutionTime.Milliseconds(),
		Timestamp:       at,
	}
}

// StringPtr returns nil for the empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
