package wire

import (
	"fmt"
	"reflect"
	"time"

	"github.com/hashicorp/go-msgpack/v2/codec"
)

var baseScope = NewScope()

// Decode rebuilds the payload graph of one envelope. Type names are
// resolved against scope; nil falls back to a scope that only knows the
// package's own types.
//
// Decoding never fails over payload types: an unknown, incompatible or
// hook-broken error decodes to a stand-in or a *PlaceholderError carrying
// the sender's diagnostics, and unrepresentable values surface as
// OpaqueValue markers. Collections come back as []any, map[string]any or
// map[any]any; unregistered struct types degrade to map[string]any. The only
// failure mode is *FramingError, for bytes that are not a valid envelope.
//
// Values referenced from several places decode to one shared object, cycles
// included.
func Decode(data []byte, scope *Scope) (any, error) {
	if scope == nil {
		scope = baseScope
	}

	var env envelope
	if err := codec.NewDecoderBytes(data, &msgpackHandle).Decode(&env); err != nil {
		return nil, &FramingError{Reason: "malformed envelope", Err: err}
	}
	if env.Version != codecVersion {
		return nil, &FramingError{Reason: fmt.Sprintf("unsupported envelope version %d", env.Version)}
	}
	if len(env.Nodes) == 0 {
		return nil, &FramingError{Reason: "empty envelope"}
	}

	st := &decodeState{env: &env, scope: scope, slots: make([]slot, len(env.Nodes))}
	return st.resolve(env.Root)
}

const (
	slotEmpty uint8 = iota
	slotBuilding
	slotDone
)

// slot is one arena entry. A building slot may already hold a published
// provisional value: that is how back-references into cyclic graphs resolve.
type slot struct {
	val       any
	state     uint8
	published bool

	// loaned records that a back-reference resolved to the published
	// provisional value, pinning it as the node's one identity.
	loaned bool
}

type decodeState struct {
	env   *envelope
	scope *Scope
	slots []slot
}

// publish makes a partially built value visible to back-references before
// its children are resolved.
func (st *decodeState) publish(id uint32, v any) {
	st.slots[id].val = v
	st.slots[id].published = true
}

func (st *decodeState) resolve(id uint32) (any, error) {
	if id >= uint32(len(st.env.Nodes)) {
		return nil, &FramingError{Reason: fmt.Sprintf("node %d out of range", id)}
	}

	sl := &st.slots[id]
	switch sl.state {
	case slotDone:
		return sl.val, nil
	case slotBuilding:
		if sl.published {
			sl.loaned = true
			return sl.val, nil
		}
		return nil, &FramingError{Reason: fmt.Sprintf("reference cycle through node %d", id)}
	}

	sl.state = slotBuilding
	v, err := st.build(id)
	if err != nil {
		return nil, err
	}
	sl.val = v
	sl.state = slotDone
	return v, nil
}

func (st *decodeState) build(id uint32) (any, error) {
	n := &st.env.Nodes[id]
	switch n.Kind {
	case kindNil:
		return nil, nil
	case kindBool:
		return n.Bool, nil
	case kindInt:
		return n.Int, nil
	case kindUint:
		return n.Uint, nil
	case kindFloat:
		return n.Float, nil
	case kindString:
		return n.Str, nil
	case kindBytes:
		return n.Bytes, nil
	case kindTime:
		return time.Unix(0, n.Time).UTC(), nil
	case kindList:
		return st.buildList(n)
	case kindMap:
		return st.buildMap(id, n)
	case kindStruct:
		return st.buildStruct(id, n)
	case kindError:
		return st.buildError(id, n)
	case kindOpaque:
		return OpaqueValue{TypeName: n.TypeName}, nil
	default:
		return nil, &FramingError{Reason: fmt.Sprintf("unknown node kind %d", n.Kind)}
	}
}

func (st *decodeState) buildList(n *node) (any, error) {
	out := make([]any, len(n.Elems))
	for i, eid := range n.Elems {
		v, err := st.resolve(eid)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (st *decodeState) buildMap(id uint32, n *node) (any, error) {
	if len(n.Keys) != len(n.Elems) {
		return nil, &FramingError{Reason: "map node with mismatched keys and values"}
	}

	keys := make([]any, len(n.Keys))
	allStrings := true
	for i, kid := range n.Keys {
		k, err := st.resolve(kid)
		if err != nil {
			return nil, err
		}
		if _, ok := k.(string); !ok {
			allStrings = false
		}
		keys[i] = k
	}

	if allStrings {
		out := make(map[string]any, len(keys))
		st.publish(id, out)
		for i, eid := range n.Elems {
			v, err := st.resolve(eid)
			if err != nil {
				return nil, err
			}
			out[keys[i].(string)] = v
		}
		return out, nil
	}

	out := make(map[any]any, len(keys))
	st.publish(id, out)
	for i, eid := range n.Elems {
		if keys[i] != nil && !reflect.TypeOf(keys[i]).Comparable() {
			return nil, &FramingError{Reason: "unhashable map key"}
		}
		v, err := st.resolve(eid)
		if err != nil {
			return nil, err
		}
		out[keys[i]] = v
	}
	return out, nil
}

func (st *decodeState) buildStruct(id uint32, n *node) (any, error) {
	rt, ok := st.scope.lookup(n.TypeName)
	if ok && rt.Kind() == reflect.Pointer && rt.Elem().Kind() == reflect.Struct {
		pv := reflect.New(rt.Elem())
		st.publish(id, pv.Interface())
		if err := st.fillFields(pv.Elem(), n.Fields); err != nil {
			return nil, err
		}
		return pv.Interface(), nil
	}
	if ok && rt.Kind() == reflect.Struct {
		pv := reflect.New(rt)
		if err := st.fillFields(pv.Elem(), n.Fields); err != nil {
			return nil, err
		}
		return pv.Elem().Interface(), nil
	}

	// Unknown locally: degrade to a map so the data stays inspectable.
	out := make(map[string]any, len(n.Fields))
	st.publish(id, out)
	for _, f := range n.Fields {
		v, err := st.resolve(f.Node)
		if err != nil {
			return nil, err
		}
		out[f.Name] = v
	}
	return out, nil
}

func (st *decodeState) fillFields(sv reflect.Value, fields []field) error {
	for _, f := range fields {
		fv := sv.FieldByName(f.Name)
		if !fv.IsValid() || !fv.CanSet() {
			continue
		}
		v, err := st.resolve(f.Node)
		if err != nil {
			return err
		}
		assign(fv, v)
	}
	return nil
}

// buildError applies the degradation ladder: the real registered type when
// its body decodes, then the registered stand-in, then a placeholder. Every
// rung keeps the captured diagnostics and the decoded causes.
func (st *decodeState) buildError(id uint32, n *node) (any, error) {
	if !n.Placeholder {
		if rt, ok := st.scope.lookup(n.TypeName); ok {
			if inst, err, done := st.buildRegistered(id, n, rt); done {
				return inst, err
			}
		}
	}

	// Publish the placeholder before touching causes so cyclic chains
	// resolve against something final.
	ph := &PlaceholderError{
		typeName: n.TypeName,
		msg:      n.Message,
		detail:   n.Detail,
		frames:   n.Frames,
	}
	st.publish(id, ph)

	causes, err := st.resolveCauses(n.Causes)
	if err != nil {
		return nil, err
	}

	// The stand-in rung is skipped for placeholder-encoded nodes, whose
	// captured diagnostics are all the sender could produce, and for nodes
	// whose provisional placeholder a back-reference already resolved to:
	// every reference must name one object.
	if fn, ok := st.scope.standInFor(n.TypeName); ok && !n.Placeholder && !st.slots[id].loaned {
		if sub := trapStandIn(fn, n.Message, causes); sub != nil {
			if ss, ok := sub.(StackSetter); ok {
				ss.SetStack(n.Frames)
			}
			st.publish(id, sub)
			return sub, nil
		}
	}

	ph.causes = causes
	return ph, nil
}

func (st *decodeState) resolveCauses(ids []uint32) ([]error, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	out := make([]error, 0, len(ids))
	for _, cid := range ids {
		v, err := st.resolve(cid)
		if err != nil {
			return nil, err
		}
		if v == nil {
			// A nil cause node carries nothing worth keeping.
			continue
		}
		c, ok := v.(error)
		if !ok {
			return nil, &FramingError{Reason: fmt.Sprintf("cause node %d is not an error", cid)}
		}
		out = append(out, c)
	}
	return out, nil
}

// buildRegistered tries the real-type rung of the ladder. done is false when
// the body does not fit the local definition and the caller should degrade.
func (st *decodeState) buildRegistered(id uint32, n *node, rt reflect.Type) (any, error, bool) {
	if rt.Kind() == reflect.Pointer {
		pv := reflect.New(rt.Elem())
		inst, ok := pv.Interface().(error)
		if !ok || !unmarshalBody(pv.Interface(), n.Body) {
			return nil, nil, false
		}
		// Published before the causes resolve so cycles land on it.
		st.publish(id, inst)
		causes, err := st.resolveCauses(n.Causes)
		if err != nil {
			return nil, err, true
		}
		restore(inst, n.Frames, causes)
		return inst, nil, true
	}

	// Value types are never back-referenced, so the instance is read out
	// only once the body has been decoded into it.
	pv := reflect.New(rt)
	if _, ok := pv.Elem().Interface().(error); !ok {
		return nil, nil, false
	}
	if !unmarshalBody(pv.Interface(), n.Body) {
		return nil, nil, false
	}
	inst := pv.Elem().Interface().(error)
	causes, err := st.resolveCauses(n.Causes)
	if err != nil {
		return nil, err, true
	}
	restore(inst, n.Frames, causes)
	return inst, nil, true
}

func unmarshalBody(target any, body []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	if u, isHooked := target.(Unmarshaler); isHooked {
		return u.UnmarshalWire(body) == nil
	}
	return codec.NewDecoderBytes(body, &msgpackHandle).Decode(target) == nil
}

func restore(inst error, frames []Frame, causes []error) {
	if ss, ok := inst.(StackSetter); ok {
		ss.SetStack(frames)
	}
	if cs, ok := inst.(CauseSetter); ok && len(causes) > 0 {
		cs.SetCauses(causes)
	}
}

func trapStandIn(fn StandIn, msg string, causes []error) (out error) {
	defer func() {
		if recover() != nil {
			out = nil
		}
	}()
	return fn(msg, causes)
}

// assign stores a decoded value into a struct field, converting where the
// shapes allow and skipping silently where they do not: a field the local
// definition lacks or disagrees about must not fail the decode.
func assign(dst reflect.Value, v any) {
	if v == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(dst.Type()) {
		dst.Set(rv)
		return
	}
	if isNumeric(rv.Kind()) && isNumeric(dst.Kind()) {
		dst.Set(rv.Convert(dst.Type()))
		return
	}

	switch dst.Kind() {
	case reflect.Pointer:
		elem := reflect.New(dst.Type().Elem())
		assign(elem.Elem(), v)
		dst.Set(elem)
	case reflect.Slice:
		elems, ok := v.([]any)
		if !ok {
			return
		}
		out := reflect.MakeSlice(dst.Type(), len(elems), len(elems))
		for i, e := range elems {
			assign(out.Index(i), e)
		}
		dst.Set(out)
	case reflect.Array:
		elems, ok := v.([]any)
		if !ok || len(elems) != dst.Len() {
			return
		}
		for i, e := range elems {
			assign(dst.Index(i), e)
		}
	case reflect.Map:
		fillMapField(dst, v)
	case reflect.Struct:
		fields, ok := v.(map[string]any)
		if !ok {
			return
		}
		for name, fv := range fields {
			f := dst.FieldByName(name)
			if f.IsValid() && f.CanSet() {
				assign(f, fv)
			}
		}
	case reflect.String:
		if s, ok := v.(string); ok {
			dst.SetString(s)
		}
	}
}

func fillMapField(dst reflect.Value, v any) {
	out := reflect.MakeMap(dst.Type())
	kt, et := dst.Type().Key(), dst.Type().Elem()
	set := func(k, e any) {
		kv := reflect.New(kt).Elem()
		ev := reflect.New(et).Elem()
		assign(kv, k)
		assign(ev, e)
		out.SetMapIndex(kv, ev)
	}
	switch m := v.(type) {
	case map[string]any:
		for k, e := range m {
			set(k, e)
		}
	case map[any]any:
		for k, e := range m {
			set(k, e)
		}
	default:
		return
	}
	dst.Set(out)
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
