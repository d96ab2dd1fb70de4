package domain

import "fmt"

// Common domain errors
var (
	ErrNotFound     = NewError("not found", 404)
	ErrInvalidInput = NewError("invalid input", 400)
	ErrInternal     = NewError("internal server error", 500)
)

// Error represents a domain error with an associated code.
type Error struct {
	Message string
	Code    int
}

// Error returns the error message.
func (e *Error) Error() string {
	return e.Message
}

// NewError creates a new domain error with the given message and code.
func NewError(message string, code int) *Error {
	return &Error{
		Message: message,
		Code:    code,
	}
}

// ToolNotFoundError indicates that a requested tool was not found.
type ToolNotFoundError struct {
	Name string
	Err  *Error
}

// Error returns the error message.
func (e *ToolNotFoundError) Error() string {
	return e.Err.Error()
}

// NewToolNotFoundError creates a new ToolNotFoundError.
func NewToolNotFoundError(name string) *ToolNotFoundError {
	return &ToolNotFoundError{
		Name: name,
		Err: NewError(
			fmt.Sprintf("tool with name %s not found", name),
			404,
		),
	}
}
