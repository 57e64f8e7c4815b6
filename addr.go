package spanwire

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
)

// InstanceID is the opaque token distinguishing successive listeners bound
// to the same host and port. A zero value means "any instance": dialing with
// it skips the instance check during the hello exchange.
type InstanceID [16]byte

// ZeroInstance is the wildcard instance.
var ZeroInstance InstanceID

// NewInstanceID draws a fresh random token.
func NewInstanceID() InstanceID {
	var id InstanceID
	if _, err := rand.Read(id[:]); err != nil {
		panic(fmt.Sprintf("spanwire: cannot read entropy: %s", err))
	}
	return id
}

func (id InstanceID) IsZero() bool {
	return id == ZeroInstance
}

func (id InstanceID) String() string {
	return hex.EncodeToString(id[:])
}

// Addr locates one listener: a reachable host and port plus the instance
// token of the process bound there. Addrs are comparable and usable as map
// keys; equality is structural.
type Addr struct {
	Host     string
	Port     int
	Instance InstanceID
}

// String renders "host:port#instance", leaving the instance suffix out for
// the wildcard. ParseAddr reads the same form back.
func (a Addr) String() string {
	hp := net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
	if a.Instance.IsZero() {
		return hp
	}
	return hp + "#" + a.Instance.String()
}

func (a Addr) hostPort() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

func (a Addr) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("host", a.Host),
		slog.Int("port", a.Port),
		slog.String("instance", a.Instance.String()),
	)
}

// ParseAddr parses the form produced by Addr.String.
func ParseAddr(s string) (Addr, error) {
	hp, inst, hasInst := strings.Cut(s, "#")

	host, portStr, err := net.SplitHostPort(hp)
	if err != nil {
		return Addr{}, fmt.Errorf("%w: %w", ErrInvalidAddr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return Addr{}, fmt.Errorf("%w: port %q out of range", ErrInvalidAddr, portStr)
	}

	a := Addr{Host: host, Port: port}
	if hasInst {
		raw, err := hex.DecodeString(inst)
		if err != nil {
			return Addr{}, fmt.Errorf("%w: instance is not hex: %w", ErrInvalidAddr, err)
		}
		if len(raw) != len(a.Instance) {
			return Addr{}, fmt.Errorf("%w: instance must be %d bytes", ErrInvalidAddr, len(a.Instance))
		}
		copy(a.Instance[:], raw)
	}
	return a, nil
}
