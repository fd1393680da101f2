package groupcast

import "syscall"

// Listener is the client's polymorphic collaborator. prepare-connect,
// connect and handshake run inside Start on the caller's goroutine; send
// runs on the network goroutine and receive on the processor goroutine;
// close runs on the goroutine that calls Stop (or Start, when a failed
// Start tears down a session that reached OnConnect), or on a goroutine
// spawned for the purpose when a worker loop detects a fatal condition.
// Callbacks MUST NOT block.
//
// Each callback returns a HandleResult: HandleError is fatal everywhere
// except OnSend, where it is logged and treated as HandleOK.
type Listener interface {
	// OnPrepareConnect fires after the socket is created and bound, before
	// the multicast join / broadcast enable. rawConn exposes the raw file
	// descriptor for a caller that needs to apply its own socket options.
	OnPrepareConnect(c *Client, connID uint64, rawConn syscall.RawConn) HandleResult

	// OnConnect fires once the group join/broadcast enable and readiness
	// subscription succeed.
	OnConnect(c *Client, connID uint64) HandleResult

	// OnHandshake fires immediately after OnConnect; UDP has no real
	// handshake, so this is synthetic and always follows OnConnect.
	OnHandshake(c *Client, connID uint64) HandleResult

	// OnSend fires on the network goroutine after a queued datagram is
	// written to the socket.
	OnSend(c *Client, connID uint64, data []byte) HandleResult

	// OnReceive fires on the processor goroutine for each datagram drained
	// from the receive FIFO, in socket-arrival order.
	OnReceive(c *Client, connID uint64, data []byte) HandleResult

	// OnClose fires exactly once per session that reached OnConnect,
	// reporting the operation that ended the session and a platform error
	// code (0 for a clean Stop, -1 when the engine itself ended the session
	// after an OnReceive veto or a receive-queue overflow).
	OnClose(c *Client, connID uint64, op FailOp, code int) HandleResult
}

// BaseListener is an embeddable no-op Listener: callers embed it and
// override only the callbacks they care about, the same embeddable-default
// idiom as the teacher's functional options applying only the fields a
// caller actually sets.
type BaseListener struct{}

func (BaseListener) OnPrepareConnect(*Client, uint64, syscall.RawConn) HandleResult {
	return HandleOK
}

func (BaseListener) OnConnect(*Client, uint64) HandleResult { return HandleOK }

func (BaseListener) OnHandshake(*Client, uint64) HandleResult { return HandleOK }

func (BaseListener) OnSend(*Client, uint64, []byte) HandleResult { return HandleOK }

func (BaseListener) OnReceive(*Client, uint64, []byte) HandleResult { return HandleOK }

func (BaseListener) OnClose(*Client, uint64, FailOp, int) HandleResult { return HandleOK }

var _ Listener = BaseListener{}
