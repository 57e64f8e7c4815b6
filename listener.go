package spanwire

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-metrics"

	"github.com/spanwire/spanwire/pkg/wire"
)

const (
	defaultHandshakeTimeout = 10 * time.Second

	// acceptBackoff spaces retries after transient accept failures so a
	// misbehaving socket does not spin the loop.
	acceptBackoff = 50 * time.Millisecond
)

// ListenerConfig configures an incoming connector.
type ListenerConfig struct {
	// BindAddr and BindPort are where the listener binds. An empty
	// BindAddr binds every interface; port 0 asks the kernel for an
	// ephemeral port.
	BindAddr string
	BindPort int

	// AdvertiseAddr is the host published in Addr(). It is required to be
	// meaningful when binding a wildcard address on a multi-homed machine;
	// left empty, wildcard binds advertise the loopback address.
	AdvertiseAddr string

	// HandshakeTimeout bounds how long an accepted socket may take to
	// deliver its hello frame.
	HandshakeTimeout time.Duration

	// MaxFrameBytes caps individual frame payloads in both directions.
	MaxFrameBytes uint32

	// Scope resolves payload type names on this side of the connection.
	Scope *wire.Scope

	// MetricLabels to add to every metric emitted for this listener.
	MetricLabels []metrics.Label

	// MetricSink to use for emitting metrics.
	MetricSink metrics.MetricSink

	// LogHandler to use for emitting structured logs.
	LogHandler slog.Handler
}

// Handler receives every connection the listener accepts, each on its own
// goroutine. The connection outlives the handler invocation and keeps
// working after the listener stops; closing it is the application's job.
type Handler func(conn *Conn)

const (
	stateUnstarted int32 = iota
	stateRunning
	stateStopped
)

// Listener is the incoming connector: it owns the listening socket, runs
// the accept loop and hands inbound connections to the accept handler once
// their hello checks out.
//
// A Listener starts at most once and stops for good: Accept moves it
// UNSTARTED to RUNNING, RequestStop to STOPPED from either state.
type Listener struct {
	cfg    *ListenerConfig
	logger *slog.Logger
	opts   connOpts

	inst  InstanceID
	state atomic.Int32

	// mu guards ln across the Accept/RequestStop race.
	mu   sync.Mutex
	ln   net.Listener
	addr Addr
}

// NewListener prepares a listener; nothing binds until Accept.
func NewListener(cfg *ListenerConfig) *Listener {
	if cfg == nil {
		cfg = &ListenerConfig{}
	}

	l := &Listener{
		cfg:  cfg,
		inst: NewInstanceID(),
	}

	if cfg.LogHandler == nil {
		l.logger = slog.Default()
	} else {
		l.logger = slog.New(cfg.LogHandler)
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

	l.opts = connOpts{
		scope:    scope,
		maxFrame: maxFrame,
		logger:   l.logger,
		msink:    msink,
		labels:   cfg.MetricLabels,
	}
	return l
}

// Accept binds the listening socket, starts the accept loop and returns.
// handler runs once per accepted connection, each invocation on a dedicated
// goroutine, so a slow handler never stalls further accepts.
func (l *Listener) Accept(handler Handler) error {
	if handler == nil {
		return ErrNilHandler
	}
	if !l.state.CompareAndSwap(stateUnstarted, stateRunning) {
		if l.state.Load() == stateStopped {
			return ErrListenerStopped
		}
		return ErrListenerStarted
	}

	bind := net.JoinHostPort(l.cfg.BindAddr, strconv.Itoa(l.cfg.BindPort))
	ln, err := net.Listen("tcp", bind)
	if err != nil {
		l.state.Store(stateStopped)
		return fmt.Errorf("listener: failed to bind %s: %w", bind, err)
	}

	l.mu.Lock()
	if l.state.Load() == stateStopped {
		// RequestStop raced the bind and found nothing to close.
		l.mu.Unlock()
		ln.Close()
		return ErrListenerStopped
	}
	l.ln = ln
	l.addr = l.advertisedAddr(ln)
	l.mu.Unlock()

	l.logger.Info("listener started", "addr", l.addr)
	go l.acceptLoop(handler)
	return nil
}

// advertisedAddr turns the bound socket address into something another
// process can dial.
func (l *Listener) advertisedAddr(ln net.Listener) Addr {
	tcpAddr, ok := ln.Addr().(*net.TCPAddr)
	if !ok {
		panic(fmt.Sprintf("spanwire: runtime produced a non-TCP listener address %q", ln.Addr()))
	}

	host := l.cfg.AdvertiseAddr
	if host == "" {
		if tcpAddr.IP == nil || tcpAddr.IP.IsUnspecified() {
			host = "127.0.0.1"
		} else {
			host = tcpAddr.IP.String()
		}
	}
	return Addr{Host: host, Port: tcpAddr.Port, Instance: l.inst}
}

// Addr is the address remote processes dial to reach this listener. It is
// meaningful once Accept returned.
func (l *Listener) Addr() Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addr
}

// RequestStop closes the listening socket and stops accepting. It is
// idempotent, returns without waiting for in-flight handler invocations and
// never touches connections already handed over. Valid before Accept too,
// which then refuses to start.
func (l *Listener) RequestStop() {
	if l.state.Swap(stateStopped) == stateStopped {
		return
	}

	l.mu.Lock()
	if l.ln != nil {
		l.ln.Close()
	}
	l.mu.Unlock()
	l.logger.Info("listener stopped")
}

func (l *Listener) acceptLoop(handler Handler) {
	for {
		nc, err := l.ln.Accept()
		if err != nil {
			if l.state.Load() == stateStopped {
				l.logger.Debug("accept loop gracefully shutting down")
				return
			}
			if errors.Is(err, net.ErrClosed) {
				l.logger.Warn("unexpected listener closure", LabelError.L(err))
				return
			}
			l.logger.Warn("accept error", LabelError.L(err))
			l.opts.msink.IncrCounterWithLabels(MetricSpanwireAcceptErrorCount, 1.0, l.opts.labels)
			time.Sleep(acceptBackoff)
			continue
		}

		go l.handleInbound(nc, handler)
	}
}

// handleInbound performs the hello exchange on its own goroutine and only
// then invokes the handler, so a stalled dialer cannot block the accept
// loop either.
func (l *Listener) handleInbound(nc net.Conn, handler Handler) {
	logger := l.logger.With(LabelPeerAddr.L(nc.RemoteAddr().String()))

	target, err := l.readHello(nc)
	if err != nil {
		logger.Warn("rejecting inbound connection", LabelError.L(err))
		l.opts.msink.IncrCounterWithLabels(
			MetricSpanwireConnInRejectCount,
			1.0,
			append(l.opts.labels, LabelError.M("handshake"), LabelLocalAddr.M(nc.LocalAddr().String())),
		)
		nc.Close()
		return
	}

	if !target.IsZero() && target != l.inst {
		// A dialer holding the address of a previous listener on this
		// port. Talking to it would cross process generations.
		logger.Warn("hello for another instance",
			LabelInstance.L(target.String()),
			slog.String("local_instance", l.inst.String()))
		l.opts.msink.IncrCounterWithLabels(
			MetricSpanwireConnInRejectCount,
			1.0,
			append(l.opts.labels, LabelError.M("instance_mismatch"), LabelLocalAddr.M(nc.LocalAddr().String())),
		)
		nc.Close()
		return
	}

	if l.state.Load() == stateStopped {
		// Stop won the race: this socket was never handed over.
		nc.Close()
		return
	}

	l.opts.msink.IncrCounterWithLabels(
		MetricSpanwireConnInCount,
		1.0,
		append(l.opts.labels, LabelLocalAddr.M(nc.LocalAddr().String())),
	)
	logger.Debug("inbound connection established")
	handler(newConn(nc, l.opts))
}

func (l *Listener) readHello(nc net.Conn) (InstanceID, error) {
	timeout := l.cfg.HandshakeTimeout
	if timeout == 0 {
		timeout = defaultHandshakeTimeout
	}
	if err := nc.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return ZeroInstance, err
	}

	kind, payload, err := readFrame(nc, l.opts.maxFrame)
	if err != nil {
		return ZeroInstance, err
	}
	if kind != frameHello {
		return ZeroInstance, &wire.FramingError{Reason: "first frame is not a hello"}
	}
	var target InstanceID
	if len(payload) != len(target) {
		return ZeroInstance, &wire.FramingError{Reason: fmt.Sprintf("hello of %d bytes", len(payload))}
	}
	copy(target[:], payload)

	if err := nc.SetReadDeadline(time.Time{}); err != nil {
		return ZeroInstance, err
	}
	return target, nil
}
