package wire

import (
	"errors"
	"reflect"
	"sync"
)

// StandIn builds a local substitute for a remote error whose body could not
// be decoded. msg and causes are the diagnostics captured on the sending
// side. Returning nil, or panicking, falls back to a `PlaceholderError`.
type StandIn func(msg string, causes []error) error

// Scope maps wire type names to local constructors. Decoding resolves every
// typed node against the scope of the receiving connection, so two peers may
// disagree about type definitions without breaking the exchange: unknown or
// incompatible names degrade to stand-ins and placeholders.
//
// A Scope is safe for concurrent use. Registration is expected at setup time
// but may happen while decodes are in flight.
type Scope struct {
	mu       sync.RWMutex
	types    map[string]reflect.Type
	standIns map[string]StandIn
}

// NewScope returns a Scope that already knows the package's own
// transportable types: `*Fault` decodes natively, and the standard library's
// unexported error types (errors.New, fmt.Errorf, errors.Join) decode
// through stand-ins preserving message and causes.
func NewScope() *Scope {
	s := &Scope{
		types:    make(map[string]reflect.Type),
		standIns: make(map[string]StandIn),
	}
	s.Register(&Fault{})
	s.RegisterStandIn("*errors.errorString", func(msg string, _ []error) error {
		return errors.New(msg)
	})
	s.RegisterStandIn("*fmt.wrapError", faultStandIn)
	s.RegisterStandIn("*errors.joinError", faultStandIn)
	return s
}

func faultStandIn(msg string, causes []error) error {
	f := &Fault{Msg: msg}
	f.SetCauses(causes)
	return f
}

// Register makes the dynamic type of template decodable under its reflected
// type name and returns that name. Pointer templates decode to fresh
// pointers, value templates to values.
func (s *Scope) Register(template any) string {
	if template == nil {
		panic("wire: Register of nil value")
	}
	name := reflect.TypeOf(template).String()
	s.RegisterName(name, template)
	return name
}

// RegisterName is Register under an explicit wire name. It is the tool of
// choice when the local definition of a remote type lives under a different
// name or package.
func (s *Scope) RegisterName(name string, template any) {
	if template == nil {
		panic("wire: RegisterName of nil value")
	}
	if name == "" {
		panic("wire: RegisterName with empty name")
	}
	s.mu.Lock()
	s.types[name] = reflect.TypeOf(template)
	s.mu.Unlock()
}

// RegisterStandIn installs the constructor used when an error of the named
// type cannot be decoded field for field, either because the name is not
// registered or because its body does not fit the local definition.
func (s *Scope) RegisterStandIn(name string, fn StandIn) {
	if fn == nil {
		panic("wire: RegisterStandIn of nil constructor")
	}
	s.mu.Lock()
	s.standIns[name] = fn
	s.mu.Unlock()
}

func (s *Scope) lookup(name string) (reflect.Type, bool) {
	s.mu.RLock()
	rt, ok := s.types[name]
	s.mu.RUnlock()
	return rt, ok
}

func (s *Scope) standInFor(name string) (StandIn, bool) {
	s.mu.RLock()
	fn, ok := s.standIns[name]
	s.mu.RUnlock()
	return fn, ok
}
