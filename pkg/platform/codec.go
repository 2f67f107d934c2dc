// Package platform provides platform channel communication between Go and the
// native host. Go code invokes native permission APIs over method channels and
// receives permission callbacks and host lifecycle changes over event channels.
package platform

import "encoding/json"

// MessageCodec encodes and decodes messages for platform channel communication.
type MessageCodec interface {
	// Encode converts a Go value to bytes for transmission to native code.
	Encode(value any) ([]byte, error)

	// Decode converts bytes received from native code to a Go value.
	Decode(data []byte) (any, error)
}

// JsonCodec implements MessageCodec using JSON encoding.
// Numbers decode as float64; use the conversion helpers to narrow them.
type JsonCodec struct{}

// Encode serializes the value to JSON bytes.
func (JsonCodec) Encode(value any) ([]byte, error) {
	return json.Marshal(value)
}

// Decode deserializes JSON bytes to a Go value. Empty input decodes to nil.
func (JsonCodec) Decode(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var result any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// DefaultCodec is the codec used by platform channels.
var DefaultCodec MessageCodec = JsonCodec{}
