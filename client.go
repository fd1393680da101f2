package groupcast

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joshuafuller/groupcast/internal/bufferpool"
	"github.com/joshuafuller/groupcast/internal/engine"
	"github.com/joshuafuller/groupcast/internal/lifecycle"
	"github.com/joshuafuller/groupcast/internal/sockopts"
	"github.com/joshuafuller/groupcast/internal/transport"
	"github.com/joshuafuller/groupcast/internal/xerrors"
)

// connIDCounter is the process-unique monotonic source for connection IDs,
// issued once per Start that gets past address resolution (a Start that
// fails later still consumes its ID).
var connIDCounter atomic.Uint64

// Client is the cast-client object: the public contract (component H)
// wrapping the lifecycle state machine, the engine's network/processor
// loops, the transport facade, and the buffer pool into Start/Stop/Send/
// SendPackets/PauseReceive/Wait.
type Client struct {
	cfgMu sync.Mutex
	cfg   Config

	listener  Listener
	lifecycle *lifecycle.Machine
	waitEvt   *waitSignal

	// mu guards the fields below, which are only valid once Start has
	// progressed past socket creation; doStart holds it for its whole
	// duration so Send/Stop/Pause never observe a half-built session.
	mu      sync.Mutex
	connID  uint64
	pool    *bufferpool.Pool
	udpConn *net.UDPConn
	conn    transport.Conn
	eng     *engine.Engine
	remote  net.Addr
	localA  net.Addr
	remoteH string

	connected    atomic.Bool
	connectFired atomic.Bool

	lastErrKind atomic.Int64
	lastErrCode atomic.Int64
}

// New constructs a Client. A nil listener installs a no-op BaseListener.
// Options are validated and applied immediately; an invalid option returns
// an error from New rather than deferring the failure to Start.
func New(listener Listener, opts ...Option) (*Client, error) {
	if listener == nil {
		listener = BaseListener{}
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	c := &Client{
		cfg:       cfg,
		listener:  listener,
		lifecycle: lifecycle.New(),
		waitEvt:   newWaitSignal(),
	}
	c.waitEvt.Set() // a never-started client is vacuously "stopped"
	return c, nil
}

// Configure applies additional options. It is rejected once the client has
// left the stopped state, matching the contract that all configuration
// applies while stopped only.
func (c *Client) Configure(opts ...Option) error {
	if c.lifecycle.Load() != lifecycle.Stopped {
		return xerrors.New(xerrors.KindIllegalState, 0, fmt.Errorf("configure called while not stopped"))
	}

	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	next := c.cfg
	for _, opt := range opts {
		if err := opt(&next); err != nil {
			return err
		}
	}
	c.cfg = next
	return nil
}

func (c *Client) cfgSnapshot() Config {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	return c.cfg
}

func (c *Client) logger() *slog.Logger {
	if l := c.cfgSnapshot().Logger; l != nil {
		return l
	}
	return slog.Default()
}

func (c *Client) setLastError(err error) {
	kind, code, ok := xerrors.As(err)
	if !ok {
		kind, code = xerrors.KindUnknown, 0
	}
	c.lastErrKind.Store(int64(kind))
	c.lastErrCode.Store(int64(code))
}

// GetLastError returns the kind of the most recently recorded failure.
func (c *Client) GetLastError() xerrors.Kind {
	return xerrors.Kind(c.lastErrKind.Load())
}

// Start validates configuration, creates and binds the socket, joins the
// multicast group (or enables broadcast), fires prepare-connect/connect/
// handshake, and spawns the network and processor goroutines. On any
// failure it tears down whatever was partially built via Stop's sequence
// and returns false with GetLastError set.
func (c *Client) Start(remoteHost string, port int, bindAddress, sourceAddress string) bool {
	if err := c.validateStartParams(); err != nil {
		c.setLastError(err)
		return false
	}

	if !c.lifecycle.TryBegin() {
		err := xerrors.New(xerrors.KindIllegalState, 0, fmt.Errorf("start called while not stopped"))
		c.setLastError(err)
		return false
	}

	c.mu.Lock()
	err := c.doStart(remoteHost, port, bindAddress, sourceAddress)
	c.mu.Unlock()

	if err != nil {
		c.setLastError(err)
		c.mu.Lock()
		c.stopInternal(engine.LoopNone)
		c.mu.Unlock()
		return false
	}

	c.lifecycle.MarkStarted()
	c.waitEvt.Clear()
	return true
}

func (c *Client) validateStartParams() error {
	cfg := c.cfgSnapshot()
	if cfg.MaxDatagramSize <= 0 || cfg.MaxDatagramSize > maxDatagramSizeCeiling {
		return xerrors.New(xerrors.KindInvalidParam, 0, fmt.Errorf("max datagram size %d out of range", cfg.MaxDatagramSize))
	}
	if cfg.FreeBufferPoolSize < 0 || cfg.FreeBufferPoolHold < 0 {
		return xerrors.New(xerrors.KindInvalidParam, 0, fmt.Errorf("pool sizes must be non-negative"))
	}
	if cfg.CastMode != CastMulticast && cfg.CastMode != CastBroadcast {
		return xerrors.New(xerrors.KindInvalidParam, 0, fmt.Errorf("invalid cast mode"))
	}
	if cfg.MulticastTTL < 0 || cfg.MulticastTTL > 255 {
		return xerrors.New(xerrors.KindInvalidParam, 0, fmt.Errorf("multicast ttl out of range"))
	}
	return nil
}

// doStart runs the strictly-ordered Start sequence from spec.md §4.D,
// steps 3-9 (steps 1-2 — validation and the stopped→starting CAS — already
// ran in Start). Every resource it acquires (socket, transport, engine,
// pool) is released by stopInternal if any step fails, so callers only
// need to invoke stopInternal on error; connID, remoteH, localA and remote
// keep their last values.
func (c *Client) doStart(remoteHost string, port int, bindAddress, sourceAddress string) error {
	cfg := c.cfgSnapshot()

	scfg := sockopts.Config{
		RemoteHost:    remoteHost,
		Port:          port,
		BindAddress:   bindAddress,
		SourceAddress: sourceAddress,
		CastMode:      cfg.CastMode,
		MulticastTTL:  cfg.MulticastTTL,
		MulticastLoop: cfg.MulticastLoop,
		ReusePolicy:   cfg.ReusePolicy,
	}

	resolved, err := sockopts.Resolve(scfg)
	if err != nil {
		return xerrors.New(xerrors.KindSocketCreate, 0, err)
	}

	c.pool = bufferpool.New(cfg.MaxDatagramSize, cfg.FreeBufferPoolSize, cfg.FreeBufferPoolHold)
	c.connID = connIDCounter.Add(1)
	c.remoteH = remoteHost

	listenCfg := sockopts.NewListenConfig(cfg.ReusePolicy)
	pc, err := listenCfg.ListenPacket(context.Background(), "udp", resolved.BindAddr.String())
	if err != nil {
		return xerrors.New(xerrors.KindSocketBind, 0, err)
	}
	udpConn, ok := pc.(*net.UDPConn)
	if !ok {
		_ = pc.Close()
		return xerrors.New(xerrors.KindSocketBind, 0, fmt.Errorf("unexpected packet conn type %T", pc))
	}
	c.udpConn = udpConn
	c.localA = udpConn.LocalAddr()

	rawConn, err := udpConn.SyscallConn()
	if err != nil {
		return xerrors.New(xerrors.KindSocketPrepare, 0, err)
	}

	if res := c.listener.OnPrepareConnect(c, c.connID, rawConn); res == HandleError {
		return xerrors.New(xerrors.KindConnectServer, 0, fmt.Errorf("on-prepare-connect vetoed start"))
	}

	if err := sockopts.Configure(udpConn, resolved, scfg, nil); err != nil {
		return xerrors.New(xerrors.KindSocketPrepare, 0, err)
	}

	conn, err := transport.New(udpConn)
	if err != nil {
		return xerrors.New(xerrors.KindSocketPrepare, 0, err)
	}
	c.conn = conn
	c.remote = resolved.CastAddr
	c.connected.Store(true)

	res := c.listener.OnConnect(c, c.connID)
	c.connectFired.Store(true)
	if res == HandleError {
		return xerrors.New(xerrors.KindConnectServer, 0, fmt.Errorf("on-connect vetoed start"))
	}

	if res := c.listener.OnHandshake(c, c.connID); res == HandleError {
		return xerrors.New(xerrors.KindConnectServer, 0, fmt.Errorf("on-handshake vetoed start"))
	}

	c.eng = engine.New(conn, c.remote, c.pool, engine.Callbacks{
		OnSend: func(data []byte) HandleResult {
			return c.listener.OnSend(c, c.connID, data)
		},
		OnReceive: func(data []byte) HandleResult {
			return c.listener.OnReceive(c, c.connID, data)
		},
		RequestStop: func(from engine.LoopKind) {
			// Run off the calling loop's own goroutine: stopInternal needs
			// c.mu, and the calling loop must be free to reach its own
			// `return` (closing its done channel) without waiting on that
			// same lock — otherwise an external Stop() already holding
			// c.mu while joining both loops would deadlock against this
			// very loop.
			go func() {
				c.mu.Lock()
				defer c.mu.Unlock()
				c.stopInternal(from)
			}()
		},
	}, cfg.Logger)

	c.eng.Run()
	return nil
}

// Stop tears down the session: signals and joins both workers (skipping a
// self-join if Stop was invoked synchronously from within a listener
// callback on one of them), fires on-close at most once, and resets all
// internal state to stopped.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	from := engine.LoopNone
	if c.eng != nil {
		from = c.eng.CallbackLoop()
	}
	c.stopInternal(from)
}

// stopInternal implements spec.md §4.D's Stop sequence. Callers must hold
// c.mu. It is safe to call redundantly — a second caller's TryStop fails
// and it returns immediately — which is what makes the RequestStop
// goroutine race against an explicit Stop() harmless.
func (c *Client) stopInternal(from engine.LoopKind) bool {
	if !c.lifecycle.TryStop() {
		return false
	}

	if c.eng != nil {
		c.eng.Shutdown(from)
	}

	c.connected.Store(false)

	fire, op, code := false, OpClose, 0
	if c.eng != nil {
		fire, op, code = c.eng.CloseSnapshot()
	}
	if !fire && c.connectFired.Load() {
		fire, op, code = true, OpClose, 0
	}
	if fire {
		if res := c.listener.OnClose(c, c.connID, op, code); res == HandleError {
			c.logger().Warn("groupcast: on-close listener returned error; ignored")
		}
	}

	if c.conn != nil {
		_ = c.conn.Close()
	} else if c.udpConn != nil {
		_ = c.udpConn.Close()
	}

	if c.pool != nil {
		c.pool.Clear()
	}
	if c.eng != nil {
		c.eng.ClearQueues()
		c.eng.ResetCloseContext()
	}

	c.connectFired.Store(false)
	c.conn = nil
	c.udpConn = nil
	c.eng = nil
	c.pool = nil

	c.lifecycle.Reset()
	c.waitEvt.Set()
	return true
}

// Send assembles buf[offset:offset+length] into a pooled buffer and
// appends it to the send FIFO, requiring a started, connected session and
// a length within the configured maximum datagram size.
func (c *Client) Send(buf []byte, offset, length int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.lifecycle.HasStarted() || !c.connected.Load() {
		c.setLastError(xerrors.New(xerrors.KindIllegalState, 0, fmt.Errorf("send requires a started, connected session")))
		return false
	}
	if offset < 0 || length < 0 || offset+length > len(buf) {
		c.setLastError(xerrors.New(xerrors.KindInvalidParam, 0, fmt.Errorf("invalid offset=%d length=%d for buffer of size %d", offset, length, len(buf))))
		return false
	}
	if length > c.cfgSnapshot().MaxDatagramSize {
		c.setLastError(xerrors.New(xerrors.KindInvalidParam, 0, fmt.Errorf("datagram of %d bytes exceeds max-datagram-size", length)))
		return false
	}

	b := c.pool.PickFree()
	b.Size = copy(b.Data, buf[offset:offset+length])
	c.eng.Enqueue(b)
	return true
}

// SendPackets assembles parts into a single pooled buffer (a scatter-gather
// write that still becomes one UDP datagram) and enqueues it.
func (c *Client) SendPackets(parts [][]byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.lifecycle.HasStarted() || !c.connected.Load() {
		c.setLastError(xerrors.New(xerrors.KindIllegalState, 0, fmt.Errorf("send requires a started, connected session")))
		return false
	}

	total := 0
	for _, p := range parts {
		total += len(p)
	}
	if total > c.cfgSnapshot().MaxDatagramSize {
		c.setLastError(xerrors.New(xerrors.KindInvalidParam, 0, fmt.Errorf("assembled datagram of %d bytes exceeds max-datagram-size", total)))
		return false
	}

	b := c.pool.PickFree()
	n := 0
	for _, p := range parts {
		n += copy(b.Data[n:], p)
	}
	b.Size = n
	c.eng.Enqueue(b)
	return true
}

// PauseReceive toggles receive-side backpressure; see Engine.Pause for the
// discard-on-pause / drain-on-resume semantics.
func (c *Client) PauseReceive(pause bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected.Load() {
		c.setLastError(xerrors.New(xerrors.KindIllegalState, 0, fmt.Errorf("pause requires a connected session")))
		return false
	}
	c.eng.Pause(pause)
	return true
}

func (c *Client) IsPauseReceive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eng == nil {
		return false
	}
	return c.eng.IsPaused()
}

// GetPendingDataLength returns the current aggregate logical bytes queued
// for send.
func (c *Client) GetPendingDataLength() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eng == nil {
		return 0
	}
	return c.eng.Pending()
}

// Wait blocks until the session reaches stopped or timeout elapses,
// returning whether it reached stopped. A non-positive timeout blocks
// indefinitely.
func (c *Client) Wait(timeout time.Duration) bool {
	return c.waitEvt.Wait(timeout)
}

func (c *Client) GetLocalAddress() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localA
}

func (c *Client) GetRemoteHost() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteH
}

func (c *Client) IsConnected() bool { return c.connected.Load() }

func (c *Client) HasStarted() bool { return c.lifecycle.HasStarted() }

func (c *Client) GetState() lifecycle.State { return c.lifecycle.Load() }

func (c *Client) GetConnectionID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connID
}
