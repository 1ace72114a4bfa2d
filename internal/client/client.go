// Package client implements the node side of the discovery protocol: it
// broadcasts for a rendezvous server, performs the connect handshake
// against the responder, and keeps the session alive with sequenced
// keepalives. A missed ack or a matching error frame tears the session
// down and restarts discovery from scratch.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
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
	// ErrNotRunning is returned by operations that need a started client.
	ErrNotRunning = errors.New("client not running")

	// ErrAlreadyStarted is returned by Start on a started client.
	ErrAlreadyStarted = errors.New("client already started")

	// ErrNoServer is returned by Send before a server has been
	// discovered.
	ErrNoServer = errors.New("no server discovered")
)

const eventQueueSize = 128

// Config configures a Client.
type Config struct {
	// LocalPort is the UDP port to bind. Zero picks an ephemeral port.
	LocalPort int

	// Broadcast is the address discovery requests are broadcast to,
	// typically 255.255.255.255 on the server's listen port.
	Broadcast *net.UDPAddr

	// DiscoverInterval is the re-broadcast cadence while no server has
	// answered.
	DiscoverInterval time.Duration

	// KeepaliveInterval is the cadence of keepalives once connected.
	KeepaliveInterval time.Duration

	// AckTimeout is the watchdog window for connect and keepalive
	// acks. Expiry resets the session.
	AckTimeout time.Duration

	// Payload is attached to connect and keepalive requests and stored
	// in the server's registry.
	Payload map[string]any
}

// dialFunc opens the datagram endpoint. Swapped in tests.
type dialFunc func(cfg Config, recv transport.RecvFunc) (transport.Conn, error)

// pending tracks the one request awaiting its ack. A reply is accepted
// only if its type and echoed sequence match; everything else is stale.
type pending struct {
	typ    protocol.Type
	seq    uint64
	sentAt time.Time
}

// Client is the session state machine. All mutable session state is
// owned by a single event-loop goroutine; datagram receipt and timer
// expiry are posted into the loop, so no field below needs a lock.
type Client struct {
	cfg     Config
	handler Handler
	logger  *slog.Logger

	clk     clock.Clock
	met     *metrics.Metrics
	dial    dialFunc
	decodeL *rate.Limiter

	conn    transport.Conn
	events  chan func()
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	payload []byte

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool

	// Mirrors of loop state, readable without posting into the loop.
	curState  atomic.Int32
	curServer atomic.Pointer[net.UDPAddr]

	// Event-loop state.
	state     State
	server    *net.UDPAddr
	next      uint64
	inflight  *pending
	discover  clock.Timer
	watchdog  clock.Timer
	keepalive clock.Timer
}

// New creates a Client. A nil handler discards events.
func New(cfg Config, handler Handler, logger *slog.Logger) *Client {
	if handler == nil {
		handler = NopHandler{}
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Client{
		cfg:     cfg,
		handler: handler,
		logger:  logger.With(slog.String(logging.KeyComponent, "client")),
		clk:     clock.System(),
		met:     metrics.Default(),
		dial: func(cfg Config, recv transport.RecvFunc) (transport.Conn, error) {
			return transport.ListenUDP(transport.UDPConfig{
				LocalPort: cfg.LocalPort,
				Broadcast: cfg.Broadcast,
			}, recv)
		},
		decodeL: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// Start binds the socket, broadcasts the first discovery request, and
// starts the event loop.
func (c *Client) Start() error {
	var err error
	started := false
	c.startOnce.Do(func() {
		started = true

		c.payload, err = encodePayload(c.cfg.Payload)
		if err != nil {
			return
		}

		c.ctx, c.cancel = context.WithCancel(context.Background())
		c.events = make(chan func(), eventQueueSize)

		c.conn, err = c.dial(c.cfg, func(d transport.Datagram) {
			c.post(func() { c.handleDatagram(d) })
		})
		if err != nil {
			c.cancel()
			return
		}

		c.started.Store(true)
		c.beginDiscovery()

		c.wg.Add(1)
		go c.run()

		c.logger.Info("client started",
			slog.String(logging.KeyAddress, c.conn.LocalAddr().String()),
			slog.String("broadcast", c.cfg.Broadcast.String()))
	})
	if !started {
		return ErrAlreadyStarted
	}
	return err
}

// Stop cancels all timers, closes the socket, and waits for the event
// loop to exit. No close event is emitted. Safe to call more than once.
func (c *Client) Stop() error {
	c.stopOnce.Do(func() {
		if !c.started.Load() {
			return
		}
		c.started.Store(false)
		done := make(chan struct{})
		if c.post(func() {
			c.cancelTimers()
			close(done)
		}) {
			<-done
		}
		c.cancel()
		c.conn.Close()
		c.wg.Wait()
		c.logger.Info("client stopped")
	})
	return nil
}

// Send unicasts an arbitrary datagram to the discovered server, outside
// the protocol.
func (c *Client) Send(data []byte) error {
	if !c.started.Load() {
		return ErrNotRunning
	}
	addr := c.curServer.Load()
	if addr == nil {
		return ErrNoServer
	}
	res := make(chan error, 1)
	if !c.post(func() { res <- c.conn.Send(data, addr) }) {
		return ErrNotRunning
	}
	select {
	case err := <-res:
		return err
	case <-c.ctx.Done():
		// Stopped before the loop ran the closure.
		return ErrNotRunning
	}
}

// State returns the current session state.
func (c *Client) State() State {
	return State(c.curState.Load())
}

// ServerEndpoint returns the discovered server address, or nil before
// discovery has succeeded.
func (c *Client) ServerEndpoint() *net.UDPAddr {
	return c.curServer.Load()
}

// Running reports whether the client has been started and not stopped.
func (c *Client) Running() bool {
	if !c.started.Load() {
		return false
	}
	select {
	case <-c.ctx.Done():
		return false
	default:
		return true
	}
}

// post enqueues f for the event loop. The context is checked first:
// after Stop both select arms are ready, and enqueueing onto a loop
// that has exited would strand the closure.
func (c *Client) post(f func()) bool {
	if c.ctx.Err() != nil {
		return false
	}
	select {
	case c.events <- f:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *Client) run() {
	defer c.wg.Done()
	for {
		select {
		case f := <-c.events:
			f()
		case <-c.ctx.Done():
			return
		}
	}
}

// stamp returns the next request sequence. Strictly increasing for the
// lifetime of the process.
func (c *Client) stamp() uint64 {
	seq := c.next
	c.next++
	return seq
}

func (c *Client) setState(s State) {
	if c.state == s {
		return
	}
	c.logger.Debug("state change",
		slog.String(logging.KeyState, s.String()),
		slog.String("from", c.state.String()))
	c.state = s
	c.curState.Store(int32(s))
	c.met.RecordClientState(int(s))
}

func (c *Client) setServer(addr *net.UDPAddr) {
	c.server = addr
	c.curServer.Store(addr)
}

// cancelTimers stops every armed timer. Called on reset and on stop;
// a state transition never leaves a timer of the abandoned state armed.
func (c *Client) cancelTimers() {
	if c.discover != nil {
		c.discover.Stop()
		c.discover = nil
	}
	if c.watchdog != nil {
		c.watchdog.Stop()
		c.watchdog = nil
	}
	if c.keepalive != nil {
		c.keepalive.Stop()
		c.keepalive = nil
	}
}

// reset tears the session down and immediately restarts discovery. The
// sequence counter keeps advancing, so a late ack for any abandoned
// request can never match again.
func (c *Client) reset(reason string) {
	wasConnected := c.state == Connected

	c.cancelTimers()
	c.inflight = nil
	c.setServer(nil)
	c.setState(Disconnected)
	c.met.ClientResets.Inc()

	c.logger.Info("session reset", slog.String("reason", reason))
	if wasConnected {
		c.handler.Disconnected()
	}

	c.beginDiscovery()
}

func (c *Client) beginDiscovery() {
	c.setState(Discovering)
	c.sendDiscover()
}

func (c *Client) sendDiscover() {
	seq := c.stamp()
	c.inflight = &pending{typ: protocol.TypeDiscoverReq, seq: seq, sentAt: c.clk.Now()}
	c.send(protocol.Message{Type: protocol.TypeDiscoverReq, Seq: seq}, nil)
	c.armDiscover()
}

func (c *Client) sendConnect() {
	seq := c.stamp()
	c.inflight = &pending{typ: protocol.TypeConnectReq, seq: seq, sentAt: c.clk.Now()}
	c.send(protocol.Message{Type: protocol.TypeConnectReq, Seq: seq, Payload: c.payload}, c.server)
	c.armWatchdog()
}

func (c *Client) sendKeepalive() {
	seq := c.stamp()
	c.inflight = &pending{typ: protocol.TypeKeepaliveReq, seq: seq, sentAt: c.clk.Now()}
	c.send(protocol.Message{Type: protocol.TypeKeepaliveReq, Seq: seq, Payload: c.payload}, c.server)
	c.met.KeepalivesSent.Inc()
	c.armWatchdog()
}

// send broadcasts when addr is nil, unicasts otherwise. Datagram sends
// are fire-and-forget; a failed send is recovered by the retry cadence.
func (c *Client) send(msg protocol.Message, addr *net.UDPAddr) {
	data := protocol.Encode(msg)
	var err error
	if addr == nil {
		err = c.conn.Broadcast(data)
	} else {
		err = c.conn.Send(data, addr)
	}
	if err != nil {
		c.logger.Debug("send failed",
			slog.String(logging.KeyType, string(msg.Type)),
			slog.Uint64(logging.KeySeq, msg.Seq),
			slog.String(logging.KeyError, err.Error()))
	}
}

// armDiscover schedules the next discovery broadcast. The posted
// closure checks timer identity so a fire that raced a cancellation is
// discarded.
func (c *Client) armDiscover() {
	if c.discover != nil {
		c.discover.Stop()
	}
	var t clock.Timer
	t = c.clk.AfterFunc(c.cfg.DiscoverInterval, func() {
		c.post(func() {
			if c.discover != t {
				return
			}
			c.discover = nil
			c.met.DiscoverRetries.Inc()
			c.sendDiscover()
		})
	})
	c.discover = t
}

// armWatchdog schedules the ack watchdog for the request in flight.
func (c *Client) armWatchdog() {
	if c.watchdog != nil {
		c.watchdog.Stop()
	}
	var t clock.Timer
	t = c.clk.AfterFunc(c.cfg.AckTimeout, func() {
		c.post(func() {
			if c.watchdog != t {
				return
			}
			c.watchdog = nil
			c.reset("ack timeout")
		})
	})
	c.watchdog = t
}

func (c *Client) armKeepalive() {
	if c.keepalive != nil {
		c.keepalive.Stop()
	}
	var t clock.Timer
	t = c.clk.AfterFunc(c.cfg.KeepaliveInterval, func() {
		c.post(func() {
			if c.keepalive != t {
				return
			}
			c.keepalive = nil
			c.sendKeepalive()
		})
	})
	c.keepalive = t
}

func (c *Client) handleDatagram(d transport.Datagram) {
	msg, err := protocol.Decode(d.Data)
	if err != nil {
		c.met.MalformedFrames.Inc()
		c.met.PassThroughs.Inc()
		if c.decodeL.Allow() {
			c.logger.Debug("pass-through datagram",
				slog.String(logging.KeyEndpoint, d.From.String()),
				slog.Int("bytes", len(d.Data)))
		}
		c.handler.Message(d.From, d.Data)
		return
	}

	switch msg.Type {
	case protocol.TypeDiscoverAck:
		c.handleDiscoverAck(msg, d.From)
	case protocol.TypeConnectAck:
		c.handleAck(msg, protocol.TypeConnectReq)
	case protocol.TypeKeepaliveAck:
		c.handleAck(msg, protocol.TypeKeepaliveReq)
	case protocol.TypeError:
		c.handleError(msg)
	default:
		// Requests are a server concern; forward them unmodified.
		c.met.PassThroughs.Inc()
		c.handler.Message(d.From, d.Data)
	}
}

// accept reports whether msg is the ack for the request in flight.
// Anything else is stale and discarded without side effects.
func (c *Client) accept(msg protocol.Message, reqType protocol.Type) bool {
	if c.inflight == nil || c.inflight.typ != reqType || c.inflight.seq != msg.Seq {
		c.met.StaleResponses.Inc()
		c.logger.Debug("stale response discarded",
			slog.String(logging.KeyType, string(msg.Type)),
			slog.Uint64(logging.KeySeq, msg.Seq))
		return false
	}
	c.met.RequestRTT.Observe(c.clk.Now().Sub(c.inflight.sentAt).Seconds())
	c.inflight = nil
	return true
}

func (c *Client) handleDiscoverAck(msg protocol.Message, from *net.UDPAddr) {
	// Once Connected a discover ack can only answer a broadcast from a
	// superseded session; the in-flight gate rejects it on type, so
	// accept both guards the transition and counts the discard.
	if !c.accept(msg, protocol.TypeDiscoverReq) {
		return
	}

	if c.discover != nil {
		c.discover.Stop()
		c.discover = nil
	}
	c.setServer(from)
	c.setState(Connecting)
	c.logger.Info("server discovered",
		slog.String(logging.KeyEndpoint, from.String()))
	c.sendConnect()
}

func (c *Client) handleAck(msg protocol.Message, reqType protocol.Type) {
	if !c.accept(msg, reqType) {
		return
	}

	if c.watchdog != nil {
		c.watchdog.Stop()
		c.watchdog = nil
	}

	if reqType == protocol.TypeConnectReq {
		c.setState(Connected)
		c.logger.Info("connected",
			slog.String(logging.KeyEndpoint, c.server.String()))
		c.handler.Connected(c.server)
		// First keepalive goes out immediately; the interval only
		// paces the ones after it.
		c.sendKeepalive()
		return
	}
	c.armKeepalive()
}

// handleError resets the session when the error refers to the request
// in flight. Errors for anything older are stale.
func (c *Client) handleError(msg protocol.Message) {
	if c.inflight == nil || c.inflight.seq != msg.Seq {
		c.met.StaleResponses.Inc()
		return
	}
	c.logger.Warn("server error",
		slog.Uint64(logging.KeySeq, msg.Seq),
		slog.String("offender", string(msg.Payload)))
	c.reset(fmt.Sprintf("server error for %s", msg.Payload))
}

func encodePayload(payload map[string]any) ([]byte, error) {
	if len(payload) == 0 {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}
