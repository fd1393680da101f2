package engine

// HandleResult is the polymorphic listener callback's return value.
type HandleResult int

const (
	HandleOK HandleResult = iota
	HandleIgnore
	HandleError
)

// LoopKind identifies which worker, if any, is asking the owner to stop.
// Stop must skip joining the calling worker to avoid a self-join deadlock,
// so RequestStop carries this so the caller knows which join to skip.
type LoopKind int

const (
	LoopNone LoopKind = iota
	LoopNetwork
	LoopProcessor
)

// Callbacks are the engine's hooks into the public listener contract. They
// are plain function values rather than an interface binding back to the
// public Client type, so internal/engine has no import-cycle dependency on
// the root groupcast package that owns the actual Listener interface.
type Callbacks struct {
	// OnSend fires on the network loop after a successful sendto. A
	// HandleError result is logged and treated as ok, per the listener ABI.
	OnSend func(data []byte) HandleResult

	// OnReceive fires on the processor loop for each drained datagram. A
	// HandleError result is fatal: the processor loop records
	// (receive, cancelled) in the close context and asks to stop.
	OnReceive func(data []byte) HandleResult

	// RequestStop is invoked by a worker loop when it exits for a reason
	// other than the worker-stop signal. from identifies the calling loop
	// so the owner's Stop can skip joining it.
	RequestStop func(from LoopKind)
}
