package wire

import "fmt"

// FramingError reports bytes that do not form a valid envelope or frame.
// It is the only failure the decoder raises for inputs it can read at all:
// everything related to payload types degrades to placeholders instead.
type FramingError struct {
	Reason string
	Err    error
}

func (e *FramingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wire: %s: %s", e.Reason, e.Err)
	}
	return "wire: " + e.Reason
}

func (e *FramingError) Unwrap() error {
	return e.Err
}

// EncodeError reports a top-level payload that has no wire representation
// and is not an error value. Error payloads never produce it: they degrade
// to placeholder nodes.
type EncodeError struct {
	TypeName string
	Err      error
}

func (e *EncodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wire: cannot encode %s: %s", e.TypeName, e.Err)
	}
	return "wire: cannot encode " + e.TypeName
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}
