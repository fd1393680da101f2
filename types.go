// Package groupcast is a single-endpoint UDP group-cast client: it joins
// an IP multicast group (or broadcasts) and exchanges datagrams with peers
// on that group through an asynchronous two-goroutine engine — a network
// loop driving a non-blocking socket off readiness events, and a processor
// loop draining received datagrams to listener callbacks — under an
// explicit stopped/starting/started/stopping lifecycle with deterministic
// shutdown and backpressure.
//
// This is the public façade in the teacher's own style: a thin root
// package (mirroring responder/responder.go and querier/) wrapping the
// internal/ machinery (lifecycle, engine, transport, sockopts,
// bufferpool, queue, xerrors).
package groupcast

import (
	"github.com/joshuafuller/groupcast/internal/engine"
	"github.com/joshuafuller/groupcast/internal/sockopts"
)

// CastMode selects between joining a multicast group and enabling
// broadcast on the socket.
type CastMode = sockopts.CastMode

const (
	CastMulticast = sockopts.CastMulticast
	CastBroadcast = sockopts.CastBroadcast
)

// ReusePolicy controls which address-reuse socket options are applied
// before bind.
type ReusePolicy = sockopts.ReusePolicy

const (
	ReuseNone     = sockopts.ReuseNone
	ReuseAddrOnly = sockopts.ReuseAddrOnly
	ReuseAddrPort = sockopts.ReuseAddrPort
)

// HandleResult is the polymorphic listener callback's return value.
type HandleResult = engine.HandleResult

const (
	HandleOK    = engine.HandleOK
	HandleIgnore = engine.HandleIgnore
	HandleError = engine.HandleError
)

// FailOp identifies which operation produced the terminal condition of a
// session, surfaced to the listener's on-close callback.
type FailOp = engine.FailOp

const (
	OpUnknown = engine.OpUnknown
	OpConnect = engine.OpConnect
	OpSend    = engine.OpSend
	OpReceive = engine.OpReceive
	OpClose   = engine.OpClose
)
