package transport

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"go.uber.org/goleak"

	"graphscope/internal/protocol"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// startServer binds on an ephemeral preferred port and registers
// cleanup. Using 0 would bypass the probing path, so we ask the OS for
// a free port first and hand that in as the preference.
func startServer(t *testing.T) (*Server, int) {
	t.Helper()
	s := NewServer()
	port, err := s.Start(freePort(t))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop() })
	return s, port
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	_ = l.Close()
	return port
}

func dial(t *testing.T, port int) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestStartProbesPastBusyPort(t *testing.T) {
	busy := freePort(t)
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", busy))
	if err != nil {
		t.Fatalf("occupy port: %v", err)
	}
	defer l.Close()

	s := NewServer()
	port, err := s.Start(busy)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	if port <= busy {
		t.Errorf("expected a port above %d, got %d", busy, port)
	}
	if s.Port() != port {
		t.Errorf("Port() = %d, want %d", s.Port(), port)
	}
}

func TestStartWhileListeningReturnsBoundPort(t *testing.T) {
	s, port := startServer(t)
	again, err := s.Start(0)
	if err != nil {
		t.Fatalf("Start on a listening server failed: %v", err)
	}
	if again != port {
		t.Errorf("second Start returned %d, want the bound port %d", again, port)
	}
	if s.Port() != port {
		t.Errorf("Port() = %d, want %d", s.Port(), port)
	}
}

func TestListenerSurvivesPeerDrop(t *testing.T) {
	s, port := startServer(t)

	connected := make(chan struct{}, 2)
	disconnected := make(chan struct{}, 1)
	s.OnConnected(func() { connected <- struct{}{} })
	s.OnDisconnected(func() { disconnected <- struct{}{} })

	first := dial(t, port)
	waitSignal(t, connected, "first connect")
	_ = first.Close()
	waitSignal(t, disconnected, "disconnect")

	// The listener stays up across peer drops; a later dial connects
	// to the same port without restarting the server.
	second := dial(t, port)
	defer second.Close()
	waitSignal(t, connected, "reconnect after drop")
	if !s.IsConnected() {
		t.Error("new peer should be tracked")
	}
}

func TestReceiveEvent(t *testing.T) {
	s, port := startServer(t)

	got := make(chan *protocol.Event, 1)
	s.OnMessage(func(ev *protocol.Event) { got <- ev })

	conn := dial(t, port)
	defer conn.Close()
	fmt.Fprintf(conn, `{"type":"node_start","timestamp":1,"data":{"nodeId":"a"}}`+"\n")

	select {
	case ev := <-got:
		if ev.Type != protocol.EventNodeStart {
			t.Errorf("got %s, want node_start", ev.Type)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("event never arrived")
	}
}

func TestMalformedFrameDropped(t *testing.T) {
	s, port := startServer(t)

	got := make(chan *protocol.Event, 2)
	s.OnMessage(func(ev *protocol.Event) { got <- ev })

	conn := dial(t, port)
	defer conn.Close()
	fmt.Fprintf(conn, "not json at all\n")
	fmt.Fprintf(conn, `{"timestamp":5}`+"\n")
	fmt.Fprintf(conn, `{"type":"paused","timestamp":6}`+"\n")

	select {
	case ev := <-got:
		if ev.Type != protocol.EventPaused {
			t.Errorf("malformed frames should be dropped, got %s", ev.Type)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("valid frame after garbage never arrived")
	}
}

func TestSendWithoutPeer(t *testing.T) {
	s, _ := startServer(t)
	if s.Send(protocol.CommandPause, nil) {
		t.Error("Send with no peer should return false")
	}
	if s.IsConnected() {
		t.Error("IsConnected should be false before any dial")
	}
}

func TestSendReachesPeer(t *testing.T) {
	s, port := startServer(t)

	connected := make(chan struct{}, 1)
	s.OnConnected(func() { connected <- struct{}{} })

	conn := dial(t, port)
	defer conn.Close()
	waitSignal(t, connected, "connect callback")

	if !s.Send(protocol.CommandSetBreakpoint, map[string]string{"nodeId": "tool"}) {
		t.Fatal("Send returned false with a live peer")
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		t.Fatalf("read command: %v", err)
	}
	var cmd struct {
		Command string            `json:"command"`
		Data    map[string]string `json:"data"`
	}
	if err := json.Unmarshal(line, &cmd); err != nil {
		t.Fatalf("decode command: %v", err)
	}
	if cmd.Command != "set_breakpoint" || cmd.Data["nodeId"] != "tool" {
		t.Errorf("unexpected command frame: %+v", cmd)
	}
}

func TestPeerReplacement(t *testing.T) {
	s, port := startServer(t)

	connected := make(chan struct{}, 2)
	disconnected := make(chan struct{}, 2)
	s.OnConnected(func() { connected <- struct{}{} })
	s.OnDisconnected(func() { disconnected <- struct{}{} })

	first := dial(t, port)
	waitSignal(t, connected, "first connect")

	second := dial(t, port)
	defer second.Close()
	waitSignal(t, connected, "second connect")

	// The superseded connection gets closed server-side and its reader
	// exits without signaling a disconnect.
	_ = first.SetReadDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, 1)
	if _, err := first.Read(buf); err == nil {
		t.Error("first connection should have been closed on replacement")
	}

	select {
	case <-disconnected:
		t.Error("replacement must not fire the disconnect callback")
	case <-time.After(200 * time.Millisecond):
	}

	if !s.Send(protocol.CommandResume, nil) {
		t.Fatal("Send should address the replacement peer")
	}
	_ = second.SetReadDeadline(time.Now().Add(3 * time.Second))
	line, err := bufio.NewReader(second).ReadBytes('\n')
	if err != nil {
		t.Fatalf("replacement peer read: %v", err)
	}
	var cmd struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(line, &cmd); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cmd.Command != "resume" {
		t.Errorf("command went astray: %+v", cmd)
	}
}

func TestDisconnectCallback(t *testing.T) {
	s, port := startServer(t)

	connected := make(chan struct{}, 1)
	disconnected := make(chan struct{}, 1)
	s.OnConnected(func() { connected <- struct{}{} })
	s.OnDisconnected(func() { disconnected <- struct{}{} })

	conn := dial(t, port)
	waitSignal(t, connected, "connect")

	_ = conn.Close()
	waitSignal(t, disconnected, "disconnect callback")

	if s.IsConnected() {
		t.Error("IsConnected should be false after peer drop")
	}
}

func TestStopReleasesPort(t *testing.T) {
	s := NewServer()
	port, err := s.Start(freePort(t))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	// Stop waits for the accept loop, so the same port binds again.
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("port %d not released: %v", port, err)
	}
	_ = l.Close()

	if err := s.Stop(); err != nil {
		t.Errorf("second Stop should be a no-op, got %v", err)
	}
}
