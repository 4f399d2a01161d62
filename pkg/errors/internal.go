package errors

// InternalError reports that a precondition internal to the module was
// violated — a state the caller cannot have triggered through normal
// use, such as operating on a closed handle. Never expected in normal
// operation.
type InternalError struct {
	*baseError
}

// NewInternalError creates an InternalError with the given cause and message.
func NewInternalError(err error, msg string) *InternalError {
	return &InternalError{baseError: NewBaseError(err, ErrorCodeInternal, msg)}
}
