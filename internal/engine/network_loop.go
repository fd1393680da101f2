package engine

import (
	"github.com/joshuafuller/groupcast/internal/transport"
	"github.com/joshuafuller/groupcast/internal/xerrors"
)

// networkLoop waits on the four-way event set — worker-stop,
// socket-readiness, send-buffer-ready, unpause — and dispatches recv/send
// work. A fatal condition anywhere inside causes the loop to ask its owner
// to Stop, unless the exit was itself due to worker-stop.
func (e *Engine) networkLoop() {
	defer close(e.netDone)

	for {
		ok := true

		select {
		case <-e.workerStop.C():
			return

		case ev, open := <-e.conn.Ready():
			if !open {
				// The poll loop only ever exits this way on Close (clean,
				// code 0) or its own unexpected internal failure (real
				// errno via Err), never on a socket-level read/write
				// error — those arrive as EventError while the channel
				// stays open.
				e.closeCtx.Record(OpClose, platformCode(e.conn.Err()))
				ok = false
				break
			}
			ok = e.handleReadiness(ev)

		case <-e.bufReady.C():
			ok = e.sendData()

		case <-e.unpause.C():
			e.unpause.Clear()
			ok = e.readData()
		}

		if !ok {
			e.requestStop(LoopNetwork)
			return
		}
	}
}

// handleReadiness dispatches a single readiness event, honoring the
// error-first-then-read-then-write ordering.
func (e *Engine) handleReadiness(ev transport.Event) bool {
	if ev&transport.EventError != 0 {
		e.closeCtx.Record(OpReceive, platformCode(e.conn.Err()))
		return false
	}
	if ev&transport.EventRead != 0 {
		if !e.readData() {
			return false
		}
	}
	if ev&transport.EventWrite != 0 {
		if !e.sendData() {
			return false
		}
	}
	return true
}

// readData drains the socket into fresh receive buffers until it would
// block, the session is paused, or a fatal condition is recorded.
func (e *Engine) readData() bool {
	for {
		if e.paused.Load() {
			return true
		}

		buf := e.pool.PickFree()
		n, _, err := e.conn.RecvFrom(buf.Data)
		if err != nil {
			buf.Release()
			if err == transport.ErrWouldBlock {
				return true
			}
			if isBenignResetError(err) {
				continue
			}
			e.closeCtx.Record(OpReceive, platformCode(err))
			e.logger.Warn("groupcast: recv failed", "err", err)
			return false
		}

		buf.Size = n
		newLen := e.recvQ.PushBack(buf)
		if newLen == 1 {
			e.received.Set()
		}
		if newLen > MaxReceiveFIFO {
			// Not a platform error: the engine itself is refusing to keep
			// draining the socket, the same "cancelled" sentinel a
			// listener veto closes with.
			e.closeCtx.Record(OpReceive, xerrors.CancelledCode)
			e.logger.Warn("groupcast: receive FIFO exceeded cap", "len", newLen)
			return false
		}
	}
}

// sendData drains the send FIFO in order, writing each datagram whole
// (UDP sendto cannot partially write). A would-block re-queues the head at
// the front to preserve ordering and subscribes to write-readiness so the
// loop is woken again once the socket drains.
func (e *Engine) sendData() bool {
	for {
		buf, ok := e.sendQ.PopFront()
		if !ok {
			e.conn.WantWrite(false)
			return true
		}

		written, err := e.conn.SendTo(buf.Bytes(), e.remote)
		if err != nil {
			if err == transport.ErrWouldBlock {
				e.sendQ.PushFront(buf)
				e.conn.WantWrite(true)
				return true
			}
			buf.Release()
			e.closeCtx.Record(OpSend, platformCode(err))
			e.logger.Warn("groupcast: send failed", "err", err)
			return false
		}

		e.subtractPending(pendingWeight(written))

		result := HandleOK
		if e.callbacks.OnSend != nil {
			e.inNetworkCallback.Store(true)
			result = e.callbacks.OnSend(buf.Bytes())
			e.inNetworkCallback.Store(false)
		}
		buf.Release()
		if result == HandleError {
			e.logger.Warn("groupcast: on-send listener returned error; treated as ok")
		}
	}
}

func (e *Engine) requestStop(from LoopKind) {
	if e.callbacks.RequestStop != nil {
		e.callbacks.RequestStop(from)
	}
}
