package engine

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/joshuafuller/groupcast/internal/bufferpool"
	"github.com/joshuafuller/groupcast/internal/transport"
	"github.com/joshuafuller/groupcast/internal/xerrors"
)

type fakeConn struct {
	mu sync.Mutex

	events chan transport.Event
	inbox  [][]byte
	sent   [][]byte

	sendErr error
	wantW   bool
	wantR   bool
	closed  bool

	local net.Addr

	errVal error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		events: make(chan transport.Event, 8),
		local:  &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9000},
	}
}

func (f *fakeConn) RecvFrom(buf []byte) (int, net.Addr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inbox) == 0 {
		return 0, nil, transport.ErrWouldBlock
	}
	next := f.inbox[0]
	f.inbox = f.inbox[1:]
	n := copy(buf, next)
	return n, f.local, nil
}

func (f *fakeConn) SendTo(buf []byte, _ net.Addr) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		err := f.sendErr
		f.sendErr = nil
		return 0, err
	}
	cp := make([]byte, len(buf))
	copy(cp, buf)
	f.sent = append(f.sent, cp)
	return len(buf), nil
}

func (f *fakeConn) Ready() <-chan transport.Event { return f.events }
func (f *fakeConn) WantWrite(want bool)            { f.mu.Lock(); f.wantW = want; f.mu.Unlock() }
func (f *fakeConn) WantRead(want bool)             { f.mu.Lock(); f.wantR = want; f.mu.Unlock() }
func (f *fakeConn) LocalAddr() net.Addr            { return f.local }
func (f *fakeConn) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errVal
}
func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

func (f *fakeConn) push(data []byte) {
	f.mu.Lock()
	f.inbox = append(f.inbox, data)
	f.mu.Unlock()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

func TestEngine_SendPath(t *testing.T) {
	conn := newFakeConn()
	pool := bufferpool.New(64, 4, 2)

	var sentData [][]byte
	var mu sync.Mutex
	cb := Callbacks{
		OnSend: func(data []byte) HandleResult {
			mu.Lock()
			cp := make([]byte, len(data))
			copy(cp, data)
			sentData = append(sentData, cp)
			mu.Unlock()
			return HandleOK
		},
	}

	e := New(conn, conn.local, pool, cb, nil)
	e.Run()
	defer e.Shutdown(LoopNone)

	buf := pool.PickFree()
	buf.Size = copy(buf.Data, []byte("PING"))
	e.Enqueue(buf)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sentData) == 1
	})

	mu.Lock()
	if string(sentData[0]) != "PING" {
		t.Fatalf("on-send data = %q, want PING", sentData[0])
	}
	mu.Unlock()

	if e.Pending() != 0 {
		t.Fatalf("Pending() = %d, want 0", e.Pending())
	}
}

func TestEngine_ReceivePath(t *testing.T) {
	conn := newFakeConn()
	pool := bufferpool.New(64, 4, 2)

	var received [][]byte
	var mu sync.Mutex
	cb := Callbacks{
		OnReceive: func(data []byte) HandleResult {
			mu.Lock()
			cp := make([]byte, len(data))
			copy(cp, data)
			received = append(received, cp)
			mu.Unlock()
			return HandleOK
		},
	}

	e := New(conn, conn.local, pool, cb, nil)
	e.Run()
	defer e.Shutdown(LoopNone)

	conn.push([]byte("one"))
	conn.push([]byte("two"))
	conn.events <- transport.EventRead

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if string(received[0]) != "one" || string(received[1]) != "two" {
		t.Fatalf("received = %v, want [one two] in order", received)
	}
}

func TestEngine_ListenerVetoStopsProcessorAndRecordsCloseContext(t *testing.T) {
	conn := newFakeConn()
	pool := bufferpool.New(64, 4, 2)

	var count int
	var mu sync.Mutex
	stopRequested := make(chan LoopKind, 1)
	cb := Callbacks{
		OnReceive: func(data []byte) HandleResult {
			mu.Lock()
			count++
			n := count
			mu.Unlock()
			if n == 2 {
				return HandleError
			}
			return HandleOK
		},
		RequestStop: func(from LoopKind) {
			select {
			case stopRequested <- from:
			default:
			}
		},
	}

	e := New(conn, conn.local, pool, cb, nil)
	e.Run()

	conn.push([]byte("a"))
	conn.push([]byte("b"))
	conn.events <- transport.EventRead

	select {
	case from := <-stopRequested:
		if from != LoopProcessor {
			t.Fatalf("RequestStop from = %v, want LoopProcessor", from)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for RequestStop")
	}

	fire, op, code := e.CloseSnapshot()
	if !fire || op != OpReceive || code != xerrors.CancelledCode {
		t.Fatalf("CloseSnapshot = (%v, %v, %d), want (true, OpReceive, %d)", fire, op, code, xerrors.CancelledCode)
	}

	e.Shutdown(LoopProcessor)
}

func TestEngine_SendWouldBlockRequeuesAndRetriesOnWriteReady(t *testing.T) {
	conn := newFakeConn()
	conn.sendErr = transport.ErrWouldBlock
	pool := bufferpool.New(64, 4, 2)

	sent := make(chan struct{}, 1)
	cb := Callbacks{
		OnSend: func([]byte) HandleResult {
			select {
			case sent <- struct{}{}:
			default:
			}
			return HandleOK
		},
	}

	e := New(conn, conn.local, pool, cb, nil)
	e.Run()
	defer e.Shutdown(LoopNone)

	buf := pool.PickFree()
	buf.Size = copy(buf.Data, []byte("X"))
	e.Enqueue(buf)

	waitFor(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return conn.wantW
	})

	conn.events <- transport.EventWrite

	select {
	case <-sent:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for requeued send to complete")
	}
}

func TestEngine_PauseDiscardsReceiveFIFO(t *testing.T) {
	conn := newFakeConn()
	pool := bufferpool.New(64, 4, 2)

	e := New(conn, conn.local, pool, Callbacks{}, nil)
	e.Run()
	defer e.Shutdown(LoopNone)

	for _, tag := range []byte("ab") {
		buf := pool.PickFree()
		buf.Size = copy(buf.Data, []byte{tag})
		e.recvQ.PushBack(buf)
	}

	e.Pause(true)
	if n := e.recvQ.Len(); n != 0 {
		t.Fatalf("receive FIFO length after Pause(true) = %d, want 0", n)
	}
	if !e.IsPaused() {
		t.Fatal("IsPaused() = false after Pause(true)")
	}

	conn.mu.Lock()
	wantR := conn.wantR
	conn.mu.Unlock()
	if wantR {
		t.Fatal("WantRead still true after Pause(true)")
	}

	e.Pause(false)
	if e.IsPaused() {
		t.Fatal("IsPaused() = true after Pause(false)")
	}
}
