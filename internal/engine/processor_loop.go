package engine

import "github.com/joshuafuller/groupcast/internal/xerrors"

// processorLoop waits on the three-way event set — worker-stop, received,
// unpause — draining the receive FIFO to the listener's on-receive
// callback in arrival order. A listener error is fatal.
func (e *Engine) processorLoop() {
	defer close(e.procDone)

	for {
		select {
		case <-e.workerStop.C():
			return

		case <-e.received.C():
			if !e.processData() {
				e.requestStop(LoopProcessor)
				return
			}

		case <-e.unpause.C():
			e.unpause.Clear()
			if !e.processData() {
				e.requestStop(LoopProcessor)
				return
			}
		}
	}
}

// processData drains the receive FIFO in order, firing on-receive for each
// buffer. A HandleError result is fatal: the close context records
// (receive, cancelled) and the loop reports failure to its caller.
func (e *Engine) processData() bool {
	for {
		buf, ok := e.recvQ.PopFront()
		if !ok {
			return true
		}

		result := HandleOK
		if e.callbacks.OnReceive != nil {
			e.inProcessorCallback.Store(true)
			result = e.callbacks.OnReceive(buf.Bytes())
			e.inProcessorCallback.Store(false)
		}
		buf.Release()

		if result == HandleError {
			e.closeCtx.Record(OpReceive, xerrors.CancelledCode)
			return false
		}
	}
}
