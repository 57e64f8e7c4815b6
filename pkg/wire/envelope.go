package wire

import "github.com/hashicorp/go-msgpack/v2/codec"

// codecVersion is bumped on incompatible envelope layout changes.
const codecVersion = 1

var msgpackHandle codec.MsgpackHandle

// kind discriminates the node variants of an envelope.
type kind uint8

const (
	kindNil kind = iota
	kindBool
	kindInt
	kindUint
	kindFloat
	kindString
	kindBytes
	kindTime
	kindList
	kindMap
	kindStruct
	kindError
	kindOpaque
)

// envelope is the wire form of one payload: a flat arena of nodes where
// aggregates reference their children by index. Shared values occupy a
// single node, which is what preserves identity and lets cyclic graphs
// terminate.
type envelope struct {
	Version uint8  `codec:"v"`
	Root    uint32 `codec:"r"`
	Nodes   []node `codec:"n"`
}

type node struct {
	Kind kind `codec:"k"`

	Bool  bool    `codec:"b,omitempty"`
	Int   int64   `codec:"i,omitempty"`
	Uint  uint64  `codec:"u,omitempty"`
	Float float64 `codec:"x,omitempty"`
	Str   string  `codec:"s,omitempty"`
	Bytes []byte  `codec:"y,omitempty"`

	// Time is UnixNano.
	Time int64 `codec:"t,omitempty"`

	// Elems holds list elements or, together with Keys, map values.
	Elems []uint32 `codec:"e,omitempty"`
	Keys  []uint32 `codec:"K,omitempty"`

	// TypeName names struct, error and opaque nodes.
	TypeName string  `codec:"T,omitempty"`
	Fields   []field `codec:"F,omitempty"`

	// Error diagnostics, captured on the sending side.
	Message string   `codec:"m,omitempty"`
	Detail  string   `codec:"d,omitempty"`
	Frames  []Frame  `codec:"S,omitempty"`
	Causes  []uint32 `codec:"c,omitempty"`
	Body    []byte   `codec:"B,omitempty"`

	// Placeholder marks an error node whose body was dropped because it
	// could not be produced. The diagnostics above are all that is left.
	Placeholder bool `codec:"p,omitempty"`
}

type field struct {
	Name string `codec:"n"`
	Node uint32 `codec:"v"`
}
