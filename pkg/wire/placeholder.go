package wire

// PlaceholderError stands in for an error whose concrete type could not be
// rebuilt on this side of the connection: the sender hit a broken
// serialization hook, or the local `Scope` has no usable definition for the
// type name. It only ever returns the diagnostics captured on the sending
// side and never invokes logic of the original type.
//
// Re-encoding a PlaceholderError forwards the captured diagnostics verbatim,
// so the substitution is stable across any number of hops.
type PlaceholderError struct {
	typeName string
	msg      string
	detail   string
	frames   []Frame
	causes   []error
}

// TypeName reports the wire name of the original error type.
func (p *PlaceholderError) TypeName() string {
	return p.typeName
}

// Error returns the message captured remotely.
func (p *PlaceholderError) Error() string {
	return p.msg
}

// Detail returns the captured string form of the original error, typically
// richer than the message alone.
func (p *PlaceholderError) Detail() string {
	return p.detail
}

// Stack returns the frames captured remotely.
func (p *PlaceholderError) Stack() []Frame {
	return p.frames
}

// Unwrap exposes the decoded causes in their original order.
func (p *PlaceholderError) Unwrap() []error {
	return p.causes
}

// OpaqueValue marks a non-error value that has no wire representation, such
// as a channel or a function. Only the type name survives.
type OpaqueValue struct {
	TypeName string
}

func (o OpaqueValue) String() string {
	return "opaque(" + o.TypeName + ")"
}
