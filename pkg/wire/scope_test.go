package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScopeRegisterReturnsWireName(t *testing.T) {
	sc := NewScope()
	require.Equal(t, "*wire.diskFault", sc.Register(&diskFault{}))

	rt, ok := sc.lookup("*wire.diskFault")
	require.True(t, ok)
	require.Equal(t, "*wire.diskFault", rt.String())
}

func TestScopeRejectsNilRegistrations(t *testing.T) {
	sc := NewScope()
	require.Panics(t, func() { sc.Register(nil) })
	require.Panics(t, func() { sc.RegisterName("", &diskFault{}) })
	require.Panics(t, func() { sc.RegisterStandIn("some.Type", nil) })
}

func TestScopeIsIsolated(t *testing.T) {
	a := NewScope()
	b := NewScope()
	a.Register(&diskFault{})

	_, ok := b.lookup("*wire.diskFault")
	require.False(t, ok, "registrations must not leak between scopes")
}
