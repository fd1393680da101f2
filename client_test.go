package groupcast

import (
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/joshuafuller/groupcast/internal/xerrors"
)

// recordingListener captures every callback invocation under a mutex so
// tests can assert call order and arguments without racing the worker
// goroutines that invoke them.
type recordingListener struct {
	BaseListener

	mu        sync.Mutex
	sent      [][]byte
	received  [][]byte
	closed    bool
	closeOp   FailOp
	closeCode int

	onReceive func(data []byte) HandleResult
}

func (l *recordingListener) OnSend(c *Client, connID uint64, data []byte) HandleResult {
	l.mu.Lock()
	l.sent = append(l.sent, append([]byte(nil), data...))
	l.mu.Unlock()
	return HandleOK
}

func (l *recordingListener) OnReceive(c *Client, connID uint64, data []byte) HandleResult {
	l.mu.Lock()
	l.received = append(l.received, append([]byte(nil), data...))
	l.mu.Unlock()
	if l.onReceive != nil {
		return l.onReceive(data)
	}
	return HandleOK
}

func (l *recordingListener) OnClose(c *Client, connID uint64, op FailOp, code int) HandleResult {
	l.mu.Lock()
	l.closed = true
	l.closeOp = op
	l.closeCode = code
	l.mu.Unlock()
	return HandleOK
}

func (l *recordingListener) sentCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sent)
}

func (l *recordingListener) receivedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.received)
}

func (l *recordingListener) isClosed() (bool, FailOp, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed, l.closeOp, l.closeCode
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}

// TestClient_LoopbackMulticastEcho is scenario S1: a single client joined
// to a loopback-looped multicast group sees its own datagram echoed back.
func TestClient_LoopbackMulticastEcho(t *testing.T) {
	listener := &recordingListener{}
	c, err := New(listener,
		WithCastMode(CastMulticast),
		WithMulticastTTL(1),
		WithMulticastLoop(true),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if !c.Start("239.0.0.1", 9123, "0.0.0.0", "") {
		t.Fatalf("Start failed: %v", c.GetLastError())
	}
	defer func() {
		c.Stop()
		c.Wait(2 * time.Second)
	}()

	if !c.Send([]byte("PING"), 0, 4) {
		t.Fatalf("Send failed: %v", c.GetLastError())
	}

	waitUntil(t, func() bool { return listener.sentCount() == 1 })
	waitUntil(t, func() bool { return listener.receivedCount() == 1 })

	listener.mu.Lock()
	defer listener.mu.Unlock()
	if string(listener.sent[0]) != "PING" {
		t.Fatalf("on-send payload = %q, want PING", listener.sent[0])
	}
	if string(listener.received[0]) != "PING" {
		t.Fatalf("on-receive payload = %q, want PING", listener.received[0])
	}
}

// TestClient_StopFiresCleanClose continues S1: Stop after a successful
// connect fires on-close(close, 0).
func TestClient_StopFiresCleanClose(t *testing.T) {
	listener := &recordingListener{}
	c, err := New(listener, WithMulticastLoop(true))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !c.Start("239.0.0.2", 9124, "0.0.0.0", "") {
		t.Fatalf("Start failed: %v", c.GetLastError())
	}

	c.Stop()
	if !c.Wait(2 * time.Second) {
		t.Fatalf("Wait timed out")
	}

	closed, op, code := listener.isClosed()
	if !closed {
		t.Fatalf("expected on-close to have fired")
	}
	if op != OpClose || code != 0 {
		t.Fatalf("on-close(%v, %d), want (close, 0)", op, code)
	}
}

// TestClient_OversizedSendRejected is scenario S2.
func TestClient_OversizedSendRejected(t *testing.T) {
	listener := &recordingListener{}
	c, err := New(listener, WithMaxDatagramSize(1024), WithMulticastLoop(true))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !c.Start("239.0.0.3", 9125, "0.0.0.0", "") {
		t.Fatalf("Start failed: %v", c.GetLastError())
	}
	defer func() {
		c.Stop()
		c.Wait(2 * time.Second)
	}()

	buf := make([]byte, 2048)
	if c.Send(buf, 0, len(buf)) {
		t.Fatalf("Send of oversized buffer unexpectedly succeeded")
	}
	if got := c.GetLastError(); got != xerrors.KindInvalidParam {
		t.Fatalf("GetLastError = %v, want invalid-param", got)
	}
	if listener.sentCount() != 0 {
		t.Fatalf("expected no on-send calls, got %d", listener.sentCount())
	}
}

// TestClient_SendBeforeStart is scenario S3.
func TestClient_SendBeforeStart(t *testing.T) {
	listener := &recordingListener{}
	c, err := New(listener)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if c.Send([]byte("PING"), 0, 4) {
		t.Fatalf("Send before Start unexpectedly succeeded")
	}
	if got := c.GetLastError(); got != xerrors.KindIllegalState {
		t.Fatalf("GetLastError = %v, want illegal-state", got)
	}
}

// TestClient_PauseResumeReceive is scenario S4.
func TestClient_PauseResumeReceive(t *testing.T) {
	listener := &recordingListener{}
	c, err := New(listener, WithMulticastLoop(true))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !c.Start("239.0.0.4", 9126, "0.0.0.0", "") {
		t.Fatalf("Start failed: %v", c.GetLastError())
	}
	defer func() {
		c.Stop()
		c.Wait(2 * time.Second)
	}()

	if !c.PauseReceive(true) {
		t.Fatalf("PauseReceive(true) failed: %v", c.GetLastError())
	}
	if !c.IsPauseReceive() {
		t.Fatalf("IsPauseReceive() = false after pause")
	}

	for i := 0; i < 10; i++ {
		c.Send([]byte("x"), 0, 1)
	}
	time.Sleep(50 * time.Millisecond)
	if n := listener.receivedCount(); n != 0 {
		t.Fatalf("received %d datagrams while paused, want 0", n)
	}

	if !c.PauseReceive(false) {
		t.Fatalf("PauseReceive(false) failed: %v", c.GetLastError())
	}

	for i := 0; i < 3; i++ {
		if !c.Send([]byte("y"), 0, 1) {
			t.Fatalf("Send after resume failed: %v", c.GetLastError())
		}
	}
	waitUntil(t, func() bool { return listener.receivedCount() == 3 })
}

// TestClient_ListenerVetoesReceive is scenario S5.
func TestClient_ListenerVetoesReceive(t *testing.T) {
	var n atomic.Int64
	listener := &recordingListener{
		onReceive: func(data []byte) HandleResult {
			if n.Add(1) == 2 {
				return HandleError
			}
			return HandleOK
		},
	}
	c, err := New(listener, WithMulticastLoop(true))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !c.Start("239.0.0.5", 9127, "0.0.0.0", "") {
		t.Fatalf("Start failed: %v", c.GetLastError())
	}
	defer func() {
		c.Stop()
		c.Wait(2 * time.Second)
	}()

	for i := 0; i < 5; i++ {
		c.Send([]byte("z"), 0, 1)
		time.Sleep(10 * time.Millisecond)
	}

	waitUntil(t, func() bool {
		closed, _, _ := listener.isClosed()
		return closed
	})

	if got := listener.receivedCount(); got != 2 {
		t.Fatalf("on-receive invoked %d times, want exactly 2", got)
	}
	_, op, code := listener.isClosed()
	if op != OpReceive || code != int(xerrors.CancelledCode) {
		t.Fatalf("on-close(%v, %d), want (receive, %d)", op, code, xerrors.CancelledCode)
	}
}

// TestClient_BroadcastIPv6Rejected is scenario S6.
func TestClient_BroadcastIPv6Rejected(t *testing.T) {
	listener := &recordingListener{}
	c, err := New(listener, WithCastMode(CastBroadcast))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if c.Start("ff02::1", 9128, "", "") {
		c.Stop()
		c.Wait(2 * time.Second)
		t.Fatalf("Start unexpectedly succeeded for broadcast over IPv6")
	}
	if got := c.GetLastError(); got != xerrors.KindSocketCreate {
		t.Fatalf("GetLastError = %v, want socket-create", got)
	}
}

// TestClient_PrepareConnectVeto verifies an error result from
// on-prepare-connect aborts Start cleanly with no connect/close ever firing.
func TestClient_PrepareConnectVeto(t *testing.T) {
	listener := &vetoListener{vetoAt: "prepare"}
	c, err := New(listener, WithMulticastLoop(true))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if c.Start("239.0.0.6", 9129, "0.0.0.0", "") {
		t.Fatalf("Start unexpectedly succeeded")
	}
	if listener.connectFired {
		t.Fatalf("on-connect fired despite on-prepare-connect veto")
	}
	if listener.closeFired {
		t.Fatalf("on-close fired despite on-connect never firing")
	}
}

type vetoListener struct {
	BaseListener
	vetoAt       string
	connectFired bool
	closeFired   bool
}

func (l *vetoListener) OnPrepareConnect(c *Client, connID uint64, rawConn syscall.RawConn) HandleResult {
	if l.vetoAt == "prepare" {
		return HandleError
	}
	return HandleOK
}

func (l *vetoListener) OnConnect(c *Client, connID uint64) HandleResult {
	l.connectFired = true
	return HandleOK
}

func (l *vetoListener) OnClose(c *Client, connID uint64, op FailOp, code int) HandleResult {
	l.closeFired = true
	return HandleOK
}
