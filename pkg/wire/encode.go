package wire

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/hashicorp/go-msgpack/v2/codec"
)

// Substitute diagnostics recorded when an error's own accessors panic
// during capture.
const (
	sentinelMessage = "broken error: Error panicked"
	sentinelDetail  = "broken error: string form unavailable"
)

var (
	errorType = reflect.TypeOf((*error)(nil)).Elem()
	timeType  = reflect.TypeOf(time.Time{})
)

// Encode serializes payload into a self-contained envelope.
//
// Error values anywhere in the graph are captured with their diagnostics
// (message, string form, stack frames, causes) even when their own methods
// panic or their serialization hooks fail; such errors travel as
// placeholders rather than failing the encode. Non-error values without a
// wire representation become opaque markers, except at the top level where
// they fail with an *EncodeError.
func Encode(payload any) ([]byte, error) {
	st := &encodeState{ids: make(map[refKey]uint32)}
	root := st.walk(reflect.ValueOf(payload))

	if n := st.nodes[root]; n.Kind == kindOpaque {
		return nil, &EncodeError{TypeName: n.TypeName}
	}

	env := envelope{Version: codecVersion, Root: root, Nodes: st.nodes}
	var buf []byte
	if err := codec.NewEncoderBytes(&buf, &msgpackHandle).Encode(env); err != nil {
		return nil, &EncodeError{TypeName: fmt.Sprintf("%T", payload), Err: err}
	}
	return buf, nil
}

// refKey identifies a shared referential value during one encode.
type refKey struct {
	ptr uintptr
	typ reflect.Type
}

type encodeState struct {
	nodes []node
	ids   map[refKey]uint32
}

func (st *encodeState) add(n node) uint32 {
	st.nodes = append(st.nodes, n)
	return uint32(len(st.nodes) - 1)
}

func canDedup(rv reflect.Value) bool {
	k := rv.Kind()
	return k == reflect.Pointer || k == reflect.Map
}

func (st *encodeState) seen(rv reflect.Value) (uint32, bool) {
	if !canDedup(rv) {
		return 0, false
	}
	id, ok := st.ids[refKey{ptr: rv.Pointer(), typ: rv.Type()}]
	return id, ok
}

// reserve appends a blank node so children can reference their parent
// before it is filled in. That is what terminates cyclic graphs.
func (st *encodeState) reserve(rv reflect.Value, k kind) uint32 {
	id := st.add(node{Kind: k})
	if canDedup(rv) {
		st.ids[refKey{ptr: rv.Pointer(), typ: rv.Type()}] = id
	}
	return id
}

func (st *encodeState) walk(rv reflect.Value) uint32 {
	if !rv.IsValid() {
		return st.add(node{Kind: kindNil})
	}
	if rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return st.add(node{Kind: kindNil})
		}
		rv = rv.Elem()
	}
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return st.add(node{Kind: kindNil})
	}

	rt := rv.Type()
	if rt.Implements(errorType) {
		return st.walkError(rv)
	}
	if rt == timeType {
		return st.add(node{Kind: kindTime, Time: rv.Interface().(time.Time).UnixNano()})
	}

	switch rv.Kind() {
	case reflect.Bool:
		return st.add(node{Kind: kindBool, Bool: rv.Bool()})
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return st.add(node{Kind: kindInt, Int: rv.Int()})
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return st.add(node{Kind: kindUint, Uint: rv.Uint()})
	case reflect.Float32, reflect.Float64:
		return st.add(node{Kind: kindFloat, Float: rv.Float()})
	case reflect.String:
		return st.add(node{Kind: kindString, Str: rv.String()})
	case reflect.Slice:
		if rv.IsNil() {
			return st.add(node{Kind: kindNil})
		}
		if rt.Elem().Kind() == reflect.Uint8 {
			return st.add(node{Kind: kindBytes, Bytes: append([]byte(nil), rv.Bytes()...)})
		}
		return st.walkList(rv)
	case reflect.Array:
		return st.walkList(rv)
	case reflect.Map:
		if rv.IsNil() {
			return st.add(node{Kind: kindNil})
		}
		if id, ok := st.seen(rv); ok {
			return id
		}
		return st.walkMap(rv)
	case reflect.Pointer:
		if id, ok := st.seen(rv); ok {
			return id
		}
		if rv.Elem().Kind() == reflect.Struct && rt.Elem() != timeType {
			return st.walkStruct(rv, rv.Elem())
		}
		// Pointers to non-struct values lose their pointer-ness but keep
		// sharing: every occurrence resolves to the same node.
		id := st.walk(rv.Elem())
		st.ids[refKey{ptr: rv.Pointer(), typ: rt}] = id
		return id
	case reflect.Struct:
		return st.walkStruct(rv, rv)
	default:
		return st.add(node{Kind: kindOpaque, TypeName: rt.String()})
	}
}

// walkStruct encodes elem's exported fields. rv carries the identity and the
// wire name: for a pointer it is the pointer itself, otherwise elem.
func (st *encodeState) walkStruct(rv, elem reflect.Value) uint32 {
	id := st.reserve(rv, kindStruct)

	et := elem.Type()
	fields := make([]field, 0, et.NumField())
	for i := 0; i < et.NumField(); i++ {
		sf := et.Field(i)
		if sf.PkgPath != "" {
			continue
		}
		fields = append(fields, field{Name: sf.Name, Node: st.walk(elem.Field(i))})
	}

	st.nodes[id] = node{Kind: kindStruct, TypeName: rv.Type().String(), Fields: fields}
	return id
}

func (st *encodeState) walkList(rv reflect.Value) uint32 {
	id := st.add(node{Kind: kindList})
	elems := make([]uint32, rv.Len())
	for i := range elems {
		elems[i] = st.walk(rv.Index(i))
	}
	st.nodes[id] = node{Kind: kindList, Elems: elems}
	return id
}

func (st *encodeState) walkMap(rv reflect.Value) uint32 {
	id := st.reserve(rv, kindMap)
	keys := make([]uint32, 0, rv.Len())
	elems := make([]uint32, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		keys = append(keys, st.walk(iter.Key()))
		elems = append(elems, st.walk(iter.Value()))
	}
	st.nodes[id] = node{Kind: kindMap, Keys: keys, Elems: elems}
	return id
}

func (st *encodeState) walkError(rv reflect.Value) uint32 {
	if id, ok := st.seen(rv); ok {
		return id
	}
	err := rv.Interface().(error)

	// A placeholder re-encodes verbatim: the substitution survives hops.
	if p, ok := err.(*PlaceholderError); ok {
		id := st.reserve(rv, kindError)
		st.nodes[id] = node{
			Kind:        kindError,
			Placeholder: true,
			TypeName:    p.typeName,
			Message:     p.msg,
			Detail:      p.detail,
			Frames:      p.frames,
			Causes:      st.walkCauses(p.causes),
		}
		return id
	}

	id := st.reserve(rv, kindError)
	typeName := rv.Type().String()
	msg := trapString(err.Error, sentinelMessage)
	n := node{
		Kind:     kindError,
		TypeName: typeName,
		Message:  msg,
		Detail:   detailOf(err, typeName, msg),
		Frames:   trapFrames(err),
		Causes:   st.walkCauses(trapCauses(err)),
	}

	if m, ok := err.(Marshaler); ok {
		n.Body, n.Placeholder = trapMarshal(m)
	} else {
		n.Body, n.Placeholder = marshalBody(err)
	}
	if n.Placeholder {
		n.Body = nil
	}

	st.nodes[id] = n
	return id
}

func (st *encodeState) walkCauses(causes []error) []uint32 {
	if len(causes) == 0 {
		return nil
	}
	ids := make([]uint32, 0, len(causes))
	for _, c := range causes {
		if isNilError(c) {
			continue
		}
		ids = append(ids, st.walk(reflect.ValueOf(c)))
	}
	return ids
}

// isNilError reports whether err is nil or a typed nil: an Unwrap returning
// a nil concrete pointer arrives here as a non-nil interface.
func isNilError(err error) bool {
	if err == nil {
		return true
	}
	rv := reflect.ValueOf(err)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// Every accessor of a foreign error runs inside its own trap: a payload
// must never take the connection down, no matter how broken.

func trapString(fn func() string, fallback string) (out string) {
	defer func() {
		if recover() != nil {
			out = fallback
		}
	}()
	return fn()
}

func trapFrames(err error) (out []Frame) {
	st, ok := err.(StackTracer)
	if !ok {
		return nil
	}
	defer func() {
		if recover() != nil {
			out = nil
		}
	}()
	return st.Stack()
}

func trapCauses(err error) (out []error) {
	defer func() {
		if recover() != nil {
			out = nil
		}
	}()
	switch x := err.(type) {
	case interface{ Unwrap() []error }:
		return x.Unwrap()
	case interface{ Unwrap() error }:
		if c := x.Unwrap(); c != nil {
			return []error{c}
		}
	}
	return nil
}

func trapMarshal(m Marshaler) (body []byte, placeholder bool) {
	defer func() {
		if recover() != nil {
			body, placeholder = nil, true
		}
	}()
	body, err := m.MarshalWire()
	if err != nil {
		return nil, true
	}
	return body, false
}

func marshalBody(v any) (body []byte, placeholder bool) {
	defer func() {
		if recover() != nil {
			body, placeholder = nil, true
		}
	}()
	if err := codec.NewEncoderBytes(&body, &msgpackHandle).Encode(v); err != nil {
		return nil, true
	}
	return body, false
}

// detailOf captures the error's expanded string form. Types publishing one
// through fmt.Formatter are probed directly so a panic is trapped here, not
// absorbed by the fmt runtime; everything else gets the synthesized
// "type: message" form.
func detailOf(err error, typeName, msg string) string {
	f, ok := err.(fmt.Formatter)
	if !ok {
		return typeName + ": " + msg
	}
	if detail, ok := trapFormat(f); ok {
		return detail
	}
	return sentinelDetail
}

func trapFormat(f fmt.Formatter) (out string, ok bool) {
	defer func() {
		if recover() != nil {
			out, ok = "", false
		}
	}()
	var buf verbState
	f.Format(&buf, 'v')
	return buf.String(), true
}

// verbState is the minimal fmt.State handed to Format probes: the %+v verb
// with no width or precision.
type verbState struct {
	strings.Builder
}

func (verbState) Width() (int, bool)     { return 0, false }
func (verbState) Precision() (int, bool) { return 0, false }
func (verbState) Flag(c int) bool        { return c == '+' }
