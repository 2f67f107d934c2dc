package platform

import "github.com/go-drift/permissions/pkg/errors"

// Stream provides a typed multi-subscriber view over an EventChannel.
// Unlike raw channels, multiple listeners can receive all events independently.
type Stream[T any] struct {
	eventChannel *EventChannel
	parser       func(data any) (T, error)
}

// NewStream creates a Stream wrapping the named EventChannel.
// The parser converts raw event data to the typed value, returning an error on parse failure.
func NewStream[T any](name string, parser func(data any) (T, error)) *Stream[T] {
	return &Stream[T]{
		eventChannel: NewEventChannel(name),
		parser:       parser,
	}
}

// Name returns the underlying channel name.
func (s *Stream[T]) Name() string {
	return s.eventChannel.Name()
}

// Listen subscribes to events and returns an unsubscribe function.
// Parse failures and stream errors are reported via errors.Report and are not
// passed to handler.
func (s *Stream[T]) Listen(handler func(T)) (unsubscribe func()) {
	name := s.eventChannel.Name()
	sub := s.eventChannel.Listen(EventHandler{
		OnEvent: func(data any) {
			val, err := s.parser(data)
			if err != nil {
				errors.Report(&errors.Error{
					Op:      "stream.parse",
					Kind:    errors.KindParsing,
					Channel: name,
					Err:     err,
				})
				return
			}
			handler(val)
		},
		OnError: func(err error) {
			errors.Report(&errors.Error{
				Op:      "stream.error",
				Kind:    errors.KindPlatform,
				Channel: name,
				Err:     err,
			})
		},
	})
	return sub.Cancel
}
