// Package server implements the rendezvous side of the discovery
// protocol: it answers broadcast discovery, registers clients on connect,
// refreshes their liveness on keepalives, and evicts the silent ones on a
// periodic sweep.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/ircam-jstools/node-discovery/internal/clock"
	"github.com/ircam-jstools/node-discovery/internal/logging"
	"github.com/ircam-jstools/node-discovery/internal/metrics"
	"github.com/ircam-jstools/node-discovery/internal/protocol"
	"github.com/ircam-jstools/node-discovery/internal/transport"
)

var (
	// ErrNotRunning is returned by operations that need a started server.
	ErrNotRunning = errors.New("server not running")

	// ErrAlreadyStarted is returned by Start on a started server.
	ErrAlreadyStarted = errors.New("server already started")
)

// eventQueueSize bounds the loop mailbox. Posts block briefly when full;
// the loop never blocks on anything slower than a socket write.
const eventQueueSize = 128

// Config configures a Server.
type Config struct {
	// ListenPort is the UDP port discovery and protocol requests arrive on.
	ListenPort int

	// MonitorInterval is the cadence of the liveness sweep.
	MonitorInterval time.Duration

	// DisconnectTimeout is the client age beyond which the sweep evicts.
	// A client exactly at the boundary survives.
	DisconnectTimeout time.Duration
}

// listenFunc opens the datagram endpoint. Swapped in tests.
type listenFunc func(cfg Config, recv transport.RecvFunc) (transport.Conn, error)

// Server is the rendezvous server state machine. All mutable state is
// owned by a single event-loop goroutine; datagram receipt and timer
// expiry are posted into the loop, so no field below needs a lock.
type Server struct {
	cfg     Config
	handler Handler
	logger  *slog.Logger

	clk     clock.Clock
	met     *metrics.Metrics
	listen  listenFunc
	decodeL *rate.Limiter

	conn   transport.Conn
	events chan func()
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool

	// Event-loop state.
	registry  *registry
	sweep     clock.Timer
	startedAt time.Time
}

// New creates a Server. A nil handler discards events.
func New(cfg Config, handler Handler, logger *slog.Logger) *Server {
	if handler == nil {
		handler = NopHandler{}
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Server{
		cfg:     cfg,
		handler: handler,
		logger:  logger.With(slog.String(logging.KeyComponent, "server")),
		clk:     clock.System(),
		met:     metrics.Default(),
		listen: func(cfg Config, recv transport.RecvFunc) (transport.Conn, error) {
			return transport.ListenUDP(transport.UDPConfig{LocalPort: cfg.ListenPort}, recv)
		},
		// Malformed-frame logging is throttled so a misbehaving peer
		// cannot flood the log.
		decodeL:  rate.NewLimiter(rate.Every(time.Second), 5),
		registry: newRegistry(),
	}
}

// Start binds the socket, arms the liveness sweep, and starts the event
// loop. Bind failure is the only fatal error.
func (s *Server) Start() error {
	var err error
	started := false
	s.startOnce.Do(func() {
		started = true

		s.ctx, s.cancel = context.WithCancel(context.Background())
		s.events = make(chan func(), eventQueueSize)

		s.conn, err = s.listen(s.cfg, func(d transport.Datagram) {
			s.post(func() { s.handleDatagram(d) })
		})
		if err != nil {
			s.cancel()
			return
		}

		s.startedAt = s.clk.Now()
		s.armSweep()
		s.started.Store(true)

		s.wg.Add(1)
		go s.run()

		s.logger.Info("server listening",
			slog.Int("port", s.cfg.ListenPort),
			slog.Duration("monitor_interval", s.cfg.MonitorInterval),
			slog.Duration("disconnect_timeout", s.cfg.DisconnectTimeout))
	})
	if !started {
		return ErrAlreadyStarted
	}
	return err
}

// Stop cancels the sweep timer, closes the socket, and waits for the
// event loop to exit. It is safe to call more than once.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		if !s.started.Load() {
			return
		}
		s.started.Store(false)
		done := make(chan struct{})
		if s.post(func() {
			s.cancelTimers()
			close(done)
		}) {
			<-done
		}
		s.cancel()
		s.conn.Close()
		s.wg.Wait()
		s.logger.Info("server stopped")
	})
	return nil
}

// Send unicasts an arbitrary datagram to addr, outside the protocol.
func (s *Server) Send(data []byte, addr *net.UDPAddr) error {
	if !s.started.Load() {
		return ErrNotRunning
	}
	res := make(chan error, 1)
	if !s.post(func() { res <- s.conn.Send(data, addr) }) {
		return ErrNotRunning
	}
	select {
	case err := <-res:
		return err
	case <-s.ctx.Done():
		// Stopped before the loop ran the closure.
		return ErrNotRunning
	}
}

// Clients returns a snapshot of the registry.
func (s *Server) Clients() []ClientRecord {
	if !s.started.Load() {
		return nil
	}
	res := make(chan []ClientRecord, 1)
	if !s.post(func() { res <- s.registry.snapshot() }) {
		return nil
	}
	select {
	case out := <-res:
		return out
	case <-s.ctx.Done():
		return nil
	}
}

// ClientCount returns the number of registered clients.
func (s *Server) ClientCount() int {
	if !s.started.Load() {
		return 0
	}
	res := make(chan int, 1)
	if !s.post(func() { res <- s.registry.len() }) {
		return 0
	}
	select {
	case n := <-res:
		return n
	case <-s.ctx.Done():
		return 0
	}
}

// Running reports whether the server has been started and not stopped.
func (s *Server) Running() bool {
	if !s.started.Load() {
		return false
	}
	select {
	case <-s.ctx.Done():
		return false
	default:
		return true
	}
}

// StartedAt returns the start time for uptime reporting.
func (s *Server) StartedAt() time.Time {
	return s.startedAt
}

// post enqueues f for the event loop. It reports false once the server
// is stopped. The context is checked first: after Stop both select arms
// are ready, and enqueueing onto a loop that has exited would strand
// the closure.
func (s *Server) post(f func()) bool {
	if s.ctx.Err() != nil {
		return false
	}
	select {
	case s.events <- f:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *Server) run() {
	defer s.wg.Done()
	for {
		select {
		case f := <-s.events:
			f()
		case <-s.ctx.Done():
			return
		}
	}
}

// handleDatagram dispatches one inbound datagram. Runs on the event loop.
func (s *Server) handleDatagram(d transport.Datagram) {
	msg, err := protocol.Decode(d.Data)
	if err != nil {
		s.met.MalformedFrames.Inc()
		s.met.PassThroughs.Inc()
		if s.decodeL.Allow() {
			s.logger.Debug("pass-through datagram",
				slog.String(logging.KeyEndpoint, d.From.String()),
				slog.Int("len", len(d.Data)))
		}
		s.handler.Message(d.From, d.Data)
		return
	}

	switch msg.Type {
	case protocol.TypeDiscoverReq:
		s.handleDiscover(msg, d.From)
	case protocol.TypeConnectReq:
		s.handleConnect(msg, d.From)
	case protocol.TypeKeepaliveReq:
		s.handleKeepalive(msg, d.From)
	case protocol.TypeError:
		s.handleError(msg, d.From)
	default:
		// A reply frame addressed at the server is not part of any
		// exchange it started; hand it to the host like any other
		// unexpected datagram.
		s.met.PassThroughs.Inc()
		s.handler.Message(d.From, d.Data)
	}
}

// handleDiscover answers discovery unconditionally. Discovery never
// mutates the registry, so any number of clients can probe concurrently
// with no side effects.
func (s *Server) handleDiscover(msg protocol.Message, from *net.UDPAddr) {
	s.met.DiscoverRequests.Inc()
	s.reply(from, protocol.Message{Type: protocol.TypeDiscoverAck, Seq: msg.Seq})
}

func (s *Server) handleConnect(msg protocol.Message, from *net.UDPAddr) {
	endpoint := from.String()

	if rec, ok := s.registry.get(endpoint); ok {
		// Unclean reconnection: the old record goes away observably
		// and the client is told to reset and connect again.
		s.logger.Warn("connect from registered endpoint",
			slog.String(logging.KeyEndpoint, endpoint),
			slog.Uint64(logging.KeySeq, msg.Seq))
		s.evict(rec, metrics.ReasonReconnect)
		s.met.RecordProtocolError(string(protocol.TypeConnectReq))
		s.reply(from, protocol.Message{
			Type:    protocol.TypeError,
			Seq:     msg.Seq,
			Payload: []byte(protocol.TypeConnectReq),
		})
		return
	}

	addr := *from
	rec := &ClientRecord{
		Endpoint: endpoint,
		Addr:     &addr,
		LastSeen: s.clk.Now(),
		Payload:  protocol.ParsePayload(msg.Payload),
	}
	s.registry.put(rec)
	s.met.RecordConnect()

	s.logger.Info("client connected",
		slog.String(logging.KeyEndpoint, endpoint),
		slog.Int(logging.KeyClients, s.registry.len()))

	s.handler.Connected(rec.clone(), s.registry.snapshot())
	s.reply(from, protocol.Message{Type: protocol.TypeConnectAck, Seq: msg.Seq})
}

func (s *Server) handleKeepalive(msg protocol.Message, from *net.UDPAddr) {
	rec, ok := s.registry.get(from.String())
	if !ok {
		// Typically a client that outlived a server restart; the error
		// sends it back to discovery.
		s.met.RecordProtocolError(string(protocol.TypeKeepaliveReq))
		s.reply(from, protocol.Message{
			Type:    protocol.TypeError,
			Seq:     msg.Seq,
			Payload: []byte(protocol.TypeKeepaliveReq),
		})
		return
	}

	rec.LastSeen = s.clk.Now()
	s.met.KeepalivesHandled.Inc()
	s.reply(from, protocol.Message{Type: protocol.TypeKeepaliveAck, Seq: msg.Seq})
}

func (s *Server) handleError(msg protocol.Message, from *net.UDPAddr) {
	if rec, ok := s.registry.get(from.String()); ok {
		s.evict(rec, metrics.ReasonError)
	}
	s.met.RecordProtocolError(string(protocol.TypeError))
	s.reply(from, protocol.Message{
		Type:    protocol.TypeError,
		Seq:     msg.Seq,
		Payload: []byte(protocol.TypeError),
	})
}

// evict removes rec from the registry and emits the close event.
func (s *Server) evict(rec *ClientRecord, reason string) {
	s.registry.remove(rec.Endpoint)
	s.met.RecordEviction(reason)

	s.logger.Info("client closed",
		slog.String(logging.KeyEndpoint, rec.Endpoint),
		slog.String("reason", reason),
		slog.Time(logging.KeyLastSeen, rec.LastSeen),
		slog.Int(logging.KeyClients, s.registry.len()))

	s.handler.Closed(rec.clone(), s.registry.snapshot())
}

// runSweep evicts every client whose silence strictly exceeds the
// disconnect timeout.
func (s *Server) runSweep() {
	s.met.SweepsTotal.Inc()
	now := s.clk.Now()
	for _, rec := range s.registry.expired(now, s.cfg.DisconnectTimeout) {
		s.evict(rec, metrics.ReasonTimeout)
	}
}

// armSweep schedules the next sweep, cancelling any prior instance first.
func (s *Server) armSweep() {
	if s.sweep != nil {
		s.sweep.Stop()
	}
	var t clock.Timer
	t = s.clk.AfterFunc(s.cfg.MonitorInterval, func() {
		s.post(func() {
			// A fire that lost the race with cancellation is ignored.
			if s.sweep != t {
				return
			}
			s.sweep = nil
			s.runSweep()
			s.armSweep()
		})
	})
	s.sweep = t
}

func (s *Server) cancelTimers() {
	if s.sweep != nil {
		s.sweep.Stop()
		s.sweep = nil
	}
}

// reply sends a protocol frame, fire-and-forget.
func (s *Server) reply(to *net.UDPAddr, msg protocol.Message) {
	if err := s.conn.Send(protocol.Encode(msg), to); err != nil {
		s.logger.Debug("send failed",
			slog.String(logging.KeyEndpoint, to.String()),
			slog.String(logging.KeyType, string(msg.Type)),
			slog.String(logging.KeyError, err.Error()))
	}
}
