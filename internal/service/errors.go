package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/MimeLyc/transcription-service/pkg/log"
)

type ErrorType int

const (
	ErrNotFound ErrorType = iota
	ErrLaunchFailure
	ErrProcessFailure
	ErrIOFailure
	ErrValidation
	ErrDispatch
	ErrUnknown
)

type TranscriptionError struct {
	Type    ErrorType
	Message string
	Context map[string]any
	Cause   error
}

func NewError(errorType ErrorType, message string) *TranscriptionError {
	return &TranscriptionError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
	}
}

func NewErrorWithCause(errorType ErrorType, message string, cause error) *TranscriptionError {
	return &TranscriptionError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
		Cause:   cause,
	}
}

func (e *TranscriptionError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Type.String(), e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ctxParts := make([]string, 0, len(keys))
		for _, k := range keys {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(ctxParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *TranscriptionError) Unwrap() error {
	return e.Cause
}

func (e *TranscriptionError) WithContext(key string, value any) *TranscriptionError {
	e.Context[key] = value
	return e
}

func (t ErrorType) String() string {
	switch t {
	case ErrNotFound:
		return "NotFound"
	case ErrLaunchFailure:
		return "LaunchFailure"
	case ErrProcessFailure:
		return "ProcessFailure"
	case ErrIOFailure:
		return "IOFailure"
	case ErrValidation:
		return "Validation"
	case ErrDispatch:
		return "Dispatch"
	default:
		return "Unknown"
	}
}

// Advice returns a short operator hint for the error.
func Advice(err error) string {
	var tErr *TranscriptionError
	if !errors.As(err, &tErr) {
		return "Please review detailed error information"
	}
	switch tErr.Type {
	case ErrNotFound:
		return "Check the transcription id; records exist only for jobs created by this service"
	case ErrLaunchFailure:
		return "Ensure ENGINE_COMMAND is installed and ENGINE_SCRIPT points at an existing file"
	case ErrProcessFailure:
		return "The transcription process exited with an error; see stderr in the message"
	case ErrIOFailure:
		return "Check permissions and free space of the upload and data directories"
	case ErrValidation:
		return "Verify the request parameters and the uploaded file type"
	case ErrDispatch:
		return "The job could not be handed to a worker; check the worker pool or Redis connectivity"
	default:
		return "Please review detailed error information"
	}
}

// LogError writes err with its advice and reports whether it was typed.
func LogError(err error) bool {
	var tErr *TranscriptionError
	if !errors.As(err, &tErr) {
		log.Error("Unknown Error: %v", err)
		return false
	}
	log.Error("Error Detail: %v | advice: %s", err, Advice(err))
	return true
}

func IsErrorType(err error, errorType ErrorType) bool {
	var tErr *TranscriptionError
	if errors.As(err, &tErr) {
		return tErr.Type == errorType
	}
	return false
}

// TypeOf returns the type of the first TranscriptionError in err's chain.
func TypeOf(err error) ErrorType {
	var tErr *TranscriptionError
	if errors.As(err, &tErr) {
		return tErr.Type
	}
	return ErrUnknown
}

func WrapError(err error, errorType ErrorType, message string) *TranscriptionError {
	return NewErrorWithCause(errorType, message, err)
}
