// Package engine implements the two-goroutine asynchronous datagram engine:
// a network loop that drives a non-blocking socket off readiness events,
// a processor loop that drains received datagrams to listener callbacks,
// and the send path connecting the two to the public contract.
//
// Grounded on responder/responder.go's runQueryHandler/handleQuery split
// (a background goroutine draining inbound packets, shut down via a
// manual-reset done channel) generalized from a single receive-only loop
// into the spec's dual network/processor split with send-side backpressure.
package engine

import (
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/joshuafuller/groupcast/internal/bufferpool"
	"github.com/joshuafuller/groupcast/internal/queue"
	"github.com/joshuafuller/groupcast/internal/transport"
)

// MaxReceiveFIFO is the hard cap on pending receive buffers; crossing it is
// a fatal connection error (receive, cancelled).
const MaxReceiveFIFO = 300_000

// Engine owns the send/receive FIFOs, the pending counter, and the two
// worker loops that drive them against a transport.Conn.
type Engine struct {
	conn   transport.Conn
	remote net.Addr

	sendQ *queue.FIFO
	recvQ *queue.FIFO
	pool  *bufferpool.Pool

	pendingMu sync.Mutex
	pending   int64

	paused atomic.Bool

	closeCtx CloseContext

	workerStop *manualEvent
	unpause    *manualEvent
	bufReady   autoEvent
	received   autoEvent

	netDone  chan struct{}
	procDone chan struct{}

	inNetworkCallback   atomic.Bool
	inProcessorCallback atomic.Bool

	callbacks Callbacks
	logger    *slog.Logger
}

// New builds an Engine around an already-connected transport.Conn. remote
// is the cast address every SendTo targets. callbacks wires the listener
// hooks; a nil logger defaults to slog.Default().
func New(conn transport.Conn, remote net.Addr, pool *bufferpool.Pool, callbacks Callbacks, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		conn:       conn,
		remote:     remote,
		sendQ:      &queue.FIFO{},
		recvQ:      &queue.FIFO{},
		pool:       pool,
		workerStop: newManualEvent(),
		unpause:    newManualEvent(),
		bufReady:   newAutoEvent(),
		received:   newAutoEvent(),
		callbacks:  callbacks,
		logger:     logger,
	}
}

// Run launches the network and processor loops. Must be called at most
// once per Engine; a session that stops and restarts builds a new Engine.
func (e *Engine) Run() {
	e.workerStop.Clear()
	e.netDone = make(chan struct{})
	e.procDone = make(chan struct{})

	go e.networkLoop()
	go e.processorLoop()
}

// Shutdown signals both loops to exit and joins them, skipping the join for
// whichever loop is identified by from (the loop calling Shutdown on
// itself, to avoid a self-join deadlock when a worker detects its own fatal
// condition and asks the owner to stop).
func (e *Engine) Shutdown(from LoopKind) {
	e.workerStop.Set()
	if from != LoopNetwork {
		<-e.netDone
	}
	if from != LoopProcessor {
		<-e.procDone
	}
}

// Enqueue appends buf to the send FIFO and signals send-buffer-ready on a
// 0→>0 pending transition. The caller has already validated size against
// the configured maximum datagram size.
func (e *Engine) Enqueue(buf *bufferpool.Buffer) {
	e.sendQ.PushBack(buf)
	e.addPending(pendingWeight(buf.Size))
}

// Pending returns the current aggregate logical bytes queued for send.
func (e *Engine) Pending() int64 {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	return e.pending
}

func (e *Engine) addPending(n int64) {
	e.pendingMu.Lock()
	was := e.pending
	e.pending += n
	e.pendingMu.Unlock()
	if was == 0 && n > 0 {
		e.bufReady.Set()
	}
}

func (e *Engine) subtractPending(n int64) {
	e.pendingMu.Lock()
	e.pending -= n
	e.pendingMu.Unlock()
}

// pendingWeight is max(size, 1): a zero-length datagram still counts as one
// pending unit (spec.md §9 Open Question (a)).
func pendingWeight(size int) int64 {
	if size < 1 {
		return 1
	}
	return int64(size)
}

// Pause toggles the receive-side backpressure: while paused, read-readiness
// is dropped and the receive FIFO is drained immediately (discarding
// whatever had already arrived), matching PauseReceive(true)'s contract.
// Un-pausing re-subscribes reads and signals unpause so a worker drains
// anything that arrived while the subscription was off.
func (e *Engine) Pause(pause bool) {
	if pause {
		e.paused.Store(true)
		e.conn.WantRead(false)
		e.recvQ.Clear()
		return
	}
	e.conn.WantRead(true)
	e.paused.Store(false)
	e.unpause.Set()
}

func (e *Engine) IsPaused() bool { return e.paused.Load() }

// CallbackLoop reports which worker loop, if any, the calling goroutine is
// currently nested inside a listener callback from. A caller's Stop()
// invoked synchronously from within OnSend or OnReceive uses this to learn
// it must skip joining that same loop, exactly as the spec's "skip joining
// the calling thread" rule requires — Go has no portable thread-identity
// check, so this approximates it with a flag set around each callback
// invocation (see REDESIGN FLAGS in SPEC_FULL.md).
func (e *Engine) CallbackLoop() LoopKind {
	if e.inNetworkCallback.Load() {
		return LoopNetwork
	}
	if e.inProcessorCallback.Load() {
		return LoopProcessor
	}
	return LoopNone
}

// CloseSnapshot exposes the recorded terminal cause for Stop to shape the
// final on-close callback.
func (e *Engine) CloseSnapshot() (fire bool, op FailOp, code int) {
	return e.closeCtx.Snapshot()
}

// ResetCloseContext clears the close context as part of the lifecycle's
// stopping → stopped Reset step.
func (e *Engine) ResetCloseContext() {
	e.closeCtx.Reset()
}

// ClearQueues drops every buffered datagram back to the pool, part of Reset.
func (e *Engine) ClearQueues() {
	e.sendQ.Clear()
	e.recvQ.Clear()
}
