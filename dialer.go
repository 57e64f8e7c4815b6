package spanwire

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/hashicorp/go-metrics"

	"github.com/spanwire/spanwire/pkg/wire"
)

const defaultDialTimeout = 30 * time.Second

// DialerConfig configures an outgoing connector.
type DialerConfig struct {
	// DialTimeout bounds each connection attempt. The context passed to
	// Connect can cut it shorter.
	DialTimeout time.Duration

	// MaxFrameBytes caps individual frame payloads in both directions.
	MaxFrameBytes uint32

	// Scope resolves payload type names on this side of the connection.
	Scope *wire.Scope

	// MetricLabels to add to every metric emitted by this dialer.
	MetricLabels []metrics.Label

	// MetricSink to use for emitting metrics.
	MetricSink metrics.MetricSink

	// LogHandler to use for emitting structured logs.
	LogHandler slog.Handler
}

// Dialer is the outgoing connector. It keeps no per-connection state, so
// one dialer serves any number of concurrent Connect calls.
type Dialer struct {
	dialTimeout time.Duration
	logger      *slog.Logger
	opts        connOpts
}

func NewDialer(cfg *DialerConfig) *Dialer {
	if cfg == nil {
		cfg = &DialerConfig{}
	}

	d := &Dialer{dialTimeout: cfg.DialTimeout}
	if d.dialTimeout == 0 {
		d.dialTimeout = defaultDialTimeout
	}

	if cfg.LogHandler == nil {
		d.logger = slog.Default()
	} else {
		d.logger = slog.New(cfg.LogHandler)
	}

	maxFrame := cfg.MaxFrameBytes
	if maxFrame == 0 {
		maxFrame = DefaultMaxFrameBytes
	}
	scope := cfg.Scope
	if scope == nil {
		scope = wire.NewScope()
	}
	msink := cfg.MetricSink
	if msink == nil {
		msink = metrics.Default()
	}

	d.opts = connOpts{
		scope:    scope,
		maxFrame: maxFrame,
		logger:   d.logger,
		msink:    msink,
		labels:   cfg.MetricLabels,
	}
	return d
}

// Connect opens a connection to addr and sends the hello naming the target
// instance. It blocks until the connection is usable or failed; the first
// payload may be sent as soon as it returns. Failures come back as
// *ConnectError naming addr.
//
// Connect does not wait for an acknowledgement: a listener that turns out
// to be a different instance closes the connection, which the caller
// observes on its next Send or Receive.
func (d *Dialer) Connect(ctx context.Context, addr Addr) (*Conn, error) {
	nd := net.Dialer{Timeout: d.dialTimeout}
	nc, err := nd.DialContext(ctx, "tcp", addr.hostPort())
	if err != nil {
		d.connectFailed(addr, "dial")
		return nil, &ConnectError{Target: addr, Err: err}
	}

	if err := writeFrame(nc, frameHello, addr.Instance[:], d.opts.maxFrame); err != nil {
		nc.Close()
		d.connectFailed(addr, "hello")
		return nil, &ConnectError{Target: addr, Err: err}
	}

	d.opts.msink.IncrCounterWithLabels(
		MetricSpanwireConnOutCount,
		1.0,
		append(d.opts.labels, LabelPeerAddr.M(addr.hostPort())),
	)
	d.logger.Debug("outbound connection established", "peer", addr)
	return newConn(nc, d.opts), nil
}

func (d *Dialer) connectFailed(addr Addr, reason string) {
	d.opts.msink.IncrCounterWithLabels(
		MetricSpanwireConnOutErrorCount,
		1.0,
		append(d.opts.labels, LabelPeerAddr.M(addr.hostPort()), LabelError.M(reason)),
	)
}
