package platform

import "errors"

// Standard errors for platform channel operations.
var (
	// ErrChannelNotFound indicates the requested platform channel does not exist.
	ErrChannelNotFound = errors.New("platform channel not found")

	// ErrMethodNotFound indicates the method is not implemented on the receiving side.
	ErrMethodNotFound = errors.New("method not implemented")

	// ErrPlatformUnavailable indicates no native bridge is installed.
	ErrPlatformUnavailable = errors.New("platform feature unavailable")

	// ErrTimeout indicates the operation exceeded its deadline. For permission requests,
	// this means the user did not answer the prompt before the context deadline.
	ErrTimeout = errors.New("operation timed out")

	// ErrCanceled indicates the operation was canceled by its caller.
	ErrCanceled = errors.New("operation was canceled")

	// ErrClosed is returned when operating on a closed channel or stream.
	ErrClosed = errors.New("platform: channel closed")
)

// ChannelError represents an error returned from native code.
type ChannelError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ChannelError) Error() string {
	if e.Message != "" {
		return e.Code + ": " + e.Message
	}
	return e.Code
}

// NewChannelError creates a new ChannelError with the given code and message.
func NewChannelError(code, message string) *ChannelError {
	return &ChannelError{Code: code, Message: message}
}
