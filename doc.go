// Package spanwire is the transport layer of a distributed build
// coordination runtime: it connects two independent processes and moves
// structured payloads between them over TCP.
//
// The package splits the problem in two halves.
//
// Connection establishment: a `Listener` binds a local port, publishes a
// reusable `Addr` (host, port and a per-listener instance token) and hands
// every accepted connection to a callback on its own goroutine; a `Dialer`
// opens outbound connections to a known `Addr`. Both sides end up holding a
// `Conn` exchanging one payload per `Send`/`Receive`, in order, until either
// side closes.
//
// Payload resilience: payloads cross the wire through `pkg/wire`, a codec
// built for error graphs that cannot be trusted. Broken serialization hooks,
// panicking accessors and mismatched type definitions between the two
// processes degrade to diagnostic placeholders on the receiving side instead
// of failing the exchange. Which concrete types a connection can rebuild is
// decided by the `wire.Scope` in its configuration.
//
// The instance token in `Addr` protects against stale addresses: a dialer
// reaching a freshly restarted process on a recycled port is rejected during
// the hello exchange instead of talking to the wrong peer.
//
// Structured logs go through `log/slog` handlers and counters through
// `hashicorp/go-metrics` sinks, both injected per component configuration.
package spanwire
