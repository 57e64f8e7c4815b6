package spanwire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddrString(t *testing.T) {
	inst := NewInstanceID()

	t.Run("round trips through ParseAddr", func(t *testing.T) {
		addr := Addr{Host: "10.0.4.17", Port: 7431, Instance: inst}
		parsed, err := ParseAddr(addr.String())
		require.NoError(t, err)
		require.Equal(t, addr, parsed)
	})

	t.Run("wildcard instance has no suffix", func(t *testing.T) {
		addr := Addr{Host: "10.0.4.17", Port: 7431}
		require.Equal(t, "10.0.4.17:7431", addr.String())

		parsed, err := ParseAddr(addr.String())
		require.NoError(t, err)
		require.Equal(t, addr, parsed)
		require.True(t, parsed.Instance.IsZero())
	})

	t.Run("IPv6 hosts are bracketed", func(t *testing.T) {
		addr := Addr{Host: "::1", Port: 80, Instance: inst}
		parsed, err := ParseAddr(addr.String())
		require.NoError(t, err)
		require.Equal(t, addr, parsed)
	})
}

func TestParseAddrRejectsMalformedInput(t *testing.T) {
	for _, tc := range []struct {
		name  string
		input string
	}{
		{"no port", "10.0.4.17"},
		{"port out of range", "10.0.4.17:70000"},
		{"port not a number", "10.0.4.17:http"},
		{"instance not hex", "10.0.4.17:7431#zz"},
		{"instance too short", "10.0.4.17:7431#abcd"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseAddr(tc.input)
			require.ErrorIs(t, err, ErrInvalidAddr)
		})
	}
}

func TestAddrEquality(t *testing.T) {
	inst := NewInstanceID()
	a := Addr{Host: "build-07", Port: 9000, Instance: inst}
	b := Addr{Host: "build-07", Port: 9000, Instance: inst}
	c := Addr{Host: "build-07", Port: 9000, Instance: NewInstanceID()}

	require.Equal(t, a, b)
	require.NotEqual(t, a, c, "the instance participates in equality")

	// Addrs are comparable, so they work as map keys.
	seen := map[Addr]int{a: 1}
	seen[b]++
	seen[c]++
	require.Equal(t, 2, seen[a])
	require.Equal(t, 1, seen[c])
}

func TestInstanceID(t *testing.T) {
	a := NewInstanceID()
	b := NewInstanceID()
	require.False(t, a.IsZero())
	require.NotEqual(t, a, b)
	require.Len(t, a.String(), 32)
	require.True(t, ZeroInstance.IsZero())
}
