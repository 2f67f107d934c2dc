package errors

import (
	"log/slog"
)

// LogHandler is an ErrorHandler that writes errors to a slog.Logger.
type LogHandler struct {
	// Logger receives the records. Nil means slog.Default().
	Logger *slog.Logger
	// Verbose enables detailed output including stack traces.
	Verbose bool
}

func (h *LogHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// HandleError logs an Error at error level.
func (h *LogHandler) HandleError(err *Error) {
	if err == nil {
		return
	}
	attrs := []any{
		slog.String("op", err.Op),
		slog.String("kind", err.Kind.String()),
		slog.Any("err", err.Err),
	}
	if err.Channel != "" {
		attrs = append(attrs, slog.String("channel", err.Channel))
	}
	if err.Permission != "" {
		attrs = append(attrs, slog.String("permission", err.Permission))
	}
	if h.Verbose && err.StackTrace != "" {
		attrs = append(attrs, slog.String("stack", err.StackTrace))
	}
	h.logger().Error("permissions error", attrs...)
}

// HandlePanic logs a PanicError at error level.
func (h *LogHandler) HandlePanic(err *PanicError) {
	if err == nil {
		return
	}
	attrs := []any{
		slog.String("op", err.Op),
		slog.Any("value", err.Value),
	}
	if h.Verbose && err.StackTrace != "" {
		attrs = append(attrs, slog.String("stack", err.StackTrace))
	}
	h.logger().Error("permissions panic", attrs...)
}
