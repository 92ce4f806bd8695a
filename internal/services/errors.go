package services

import (
	"errors"
	"fmt"
)

// Error codes surfaced to callers. cleanup failures are log-only and have
// no code here.
const (
	CodeNoFileProvided   = "no_file_provided"
	CodeInsufficientText = "insufficient_text"
	CodeModelCallFailed  = "model_call_failed"
	CodeNoQuestionsFound = "no_questions_found"
	CodeRenderFailure    = "render_failure"
)

// PipelineError is the typed failure returned by the processing pipeline.
// RawReply carries the model's reply on no_questions_found as a
// diagnostic aid; it is never shown verbatim to end users.
type PipelineError struct {
	Code     string
	Message  string
	Cause    error
	RawReply string
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

func newPipelineError(code, message string, cause error) *PipelineError {
	return &PipelineError{Code: code, Message: message, Cause: cause}
}

// AsPipelineError unwraps err to a PipelineError, if any.
func AsPipelineError(err error) (*PipelineError, bool) {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
