package session

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error identifier. Callers branch on the
// code instead of matching message text.
type Code string

const (
	CodeNotFound       Code = "not_found"
	CodeAlreadyActive  Code = "already_active"
	CodeBudgetExceeded Code = "budget_exceeded"
	CodeUnknownModel   Code = "unknown_model"
	CodeMissingTokens  Code = "missing_tokens"
	CodeInvalidInput   Code = "invalid_input"

	// CodeInternal labels unexpected failures at the CLI and HTTP edges.
	CodeInternal Code = "internal"
)

// Error is the structured error returned by every caller-facing operation.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`

	// Active is the conflicting session for CodeAlreadyActive.
	Active *Session `json:"active_session,omitempty"`

	// Spent, Ceiling and Attempted describe a CodeBudgetExceeded rejection.
	Spent     float64 `json:"spent,omitempty"`
	Ceiling   float64 `json:"ceiling,omitempty"`
	Attempted float64 `json:"attempted,omitempty"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return e.Message
}

// Is matches any *Error with the same code, so errors.Is(err, ErrNotFound)
// works for every not-found error regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrNotFound       = &Error{Code: CodeNotFound, Message: "session not found"}
	ErrAlreadyActive  = &Error{Code: CodeAlreadyActive, Message: "session already active"}
	ErrBudgetExceeded = &Error{Code: CodeBudgetExceeded, Message: "budget exceeded"}
	ErrUnknownModel   = &Error{Code: CodeUnknownModel, Message: "unknown model"}
	ErrMissingTokens  = &Error{Code: CodeMissingTokens, Message: "missing token counts"}
	ErrInvalidInput   = &Error{Code: CodeInvalidInput, Message: "invalid input"}
)

// NotFound builds a CodeNotFound error.
func NotFound(format string, args ...any) error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// InvalidInput builds a CodeInvalidInput error.
func InvalidInput(format string, args ...any) error {
	return &Error{Code: CodeInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// AlreadyActive builds a CodeAlreadyActive error carrying the session that
// holds the slot.
func AlreadyActive(active *Session) error {
	return &Error{
		Code: CodeAlreadyActive,
		Message: fmt.Sprintf("session %d (%q) is already active in %s; use --resume to reattach or --close-stale to end it",
			active.ID, active.Name, active.Slot()),
		Active: active,
	}
}

// BudgetExceeded builds a CodeBudgetExceeded error.
func BudgetExceeded(spent, ceiling, attempted float64) error {
	return &Error{
		Code:      CodeBudgetExceeded,
		Message:   fmt.Sprintf("budget exceeded: spent $%.4f of $%.4f, this call would add $%.4f", spent, ceiling, attempted),
		Spent:     spent,
		Ceiling:   ceiling,
		Attempted: attempted,
	}
}

// AsError extracts the structured error from err. Errors that are not
// structured are reported as nil, false.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsCode reports whether err is a structured error with the given code.
func IsCode(err error, code Code) bool {
	e, ok := AsError(err)
	return ok && e.Code == code
}
