// Package wire implements the payload codec of spanwire connections.
//
// The codec turns an arbitrary value graph into a self-describing byte
// envelope and back. Its distinguishing property is resilience: error values
// anywhere in the graph survive broken serialization hooks, panicking
// accessors and type definitions the receiving process does not have. In all
// of those situations the decoder degrades to a `PlaceholderError` carrying
// the diagnostics captured on the sending side instead of failing the
// exchange.
//
// Decoding resolves type names against an explicit `Scope` so one process
// can talk to peers with different type registries at the same time.
package wire

// Marshaler overrides how an error's body is written to the wire.
//
// The returned bytes are handed back to `UnmarshalWire` on the receiving
// side. A failed or panicking implementation does not fail the encode: the
// error is carried as a placeholder instead.
type Marshaler interface {
	MarshalWire() ([]byte, error)
}

// Unmarshaler overrides how an error's body is read from the wire.
//
// A failed or panicking implementation does not fail the decode: the
// registered stand-in constructor, or a `PlaceholderError`, is used instead.
type Unmarshaler interface {
	UnmarshalWire(data []byte) error
}

// CauseSetter is implemented by errors that can adopt the causes decoded
// from the wire. Without it a reconstructed error keeps whatever causes its
// body decoding produced.
type CauseSetter interface {
	SetCauses(causes []error)
}
