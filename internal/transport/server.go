// Package transport implements the local socket link between the
// session controller and the remote workflow runtime. It owns one
// loopback listening socket and tracks at most one logical peer at a
// time; a newly accepted connection silently replaces the previous
// one. Frames are newline-delimited JSON in both directions.
package transport

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"

	"graphscope/internal/logging"
	"graphscope/internal/protocol"
)

// DefaultPort is the preferred listening port when none is configured.
const DefaultPort = 9876

// maxFrameSize bounds a single inbound frame. Workflow states can be
// large, so this is well above the bufio default.
const maxFrameSize = 4 * 1024 * 1024

// Server is the single-peer loopback transport.
//
// Notification slots are single-subscriber: the last registration
// wins. Callbacks run synchronously on the I/O goroutine that
// produced the event, one frame at a time, so a handler never races
// with itself.
type Server struct {
	mu sync.RWMutex

	listener net.Listener
	peer     net.Conn
	port     int
	started  bool

	onMessage      func(*protocol.Event)
	onConnected    func()
	onDisconnected func()

	wg sync.WaitGroup
}

// NewServer creates an unstarted transport.
func NewServer() *Server {
	return &Server{}
}

// OnMessage registers the inbound frame handler. Last registration wins.
func (s *Server) OnMessage(fn func(*protocol.Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMessage = fn
}

// OnConnected registers the peer-connected handler. Last registration wins.
func (s *Server) OnConnected(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onConnected = fn
}

// OnDisconnected registers the peer-disconnected handler. Last
// registration wins. It fires only when the tracked peer drops, not
// when a superseded connection closes.
func (s *Server) OnDisconnected(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDisconnected = fn
}

// Start binds a loopback listening socket. When preferredPort is
// taken it probes preferredPort+1, +2, ... until a free port is
// found; any bind failure other than address-in-use is fatal. Returns
// the bound port. Calling Start while already listening is a no-op
// that returns the existing port: the listener outlives individual
// peers, and a new session reuses it.
func (s *Server) Start(preferredPort int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		logging.TransportDebug("start: already listening on port %d", s.port)
		return s.port, nil
	}
	if preferredPort <= 0 {
		preferredPort = DefaultPort
	}

	port := preferredPort
	var listener net.Listener
	for {
		l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			listener = l
			break
		}
		if isAddrInUse(err) {
			logging.TransportDebug("port %d in use, trying %d", port, port+1)
			port++
			continue
		}
		return 0, fmt.Errorf("bind on 127.0.0.1:%d: %w", port, err)
	}

	s.listener = listener
	s.port = port
	s.started = true

	s.wg.Add(1)
	go s.acceptLoop(listener)

	logging.Transport("listening on 127.0.0.1:%d", port)
	return port, nil
}

// Port returns the bound port, 0 when not started.
func (s *Server) Port() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.port
}

// IsConnected reports whether a peer is currently tracked.
func (s *Server) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peer != nil
}

// Send serializes a command frame and writes it to the current peer.
// Returns false without effect when no peer is connected or the write
// fails; it never panics on a healthy connection.
func (s *Server) Send(cmd protocol.CommandType, data interface{}) bool {
	s.mu.RLock()
	peer := s.peer
	s.mu.RUnlock()

	if peer == nil {
		logging.Get(logging.CategoryTransport).Warn("send %s: no peer connected", cmd)
		return false
	}

	frame, err := protocol.NewCommand(cmd, data).Encode()
	if err != nil {
		logging.Get(logging.CategoryTransport).Error("send %s: %v", cmd, err)
		return false
	}
	if _, err := peer.Write(append(frame, '\n')); err != nil {
		// Accepted race: the peer may have been replaced or dropped
		// between the readiness check and the write.
		logging.Get(logging.CategoryTransport).Warn("send %s failed: %v", cmd, err)
		return false
	}
	logging.TransportDebug("sent %s", cmd)
	return true
}

// Stop closes the peer connection and the listening socket, then
// waits for the I/O goroutines to drain so the port is fully released
// before it returns. Idempotent.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	listener := s.listener
	peer := s.peer
	s.listener = nil
	s.peer = nil
	s.port = 0
	s.mu.Unlock()

	if peer != nil {
		_ = peer.Close()
	}
	var err error
	if listener != nil {
		err = listener.Close()
	}
	s.wg.Wait()
	logging.Transport("transport stopped")
	return err
}

func (s *Server) acceptLoop(listener net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := listener.Accept()
		if err != nil {
			// Listener closed during Stop, or fatal accept error.
			s.mu.RLock()
			started := s.started
			s.mu.RUnlock()
			if started && !errors.Is(err, net.ErrClosed) {
				logging.Get(logging.CategoryTransport).Error("accept: %v", err)
			}
			return
		}

		s.mu.Lock()
		old := s.peer
		s.peer = conn
		onConnected := s.onConnected
		s.mu.Unlock()

		if old != nil {
			// Silent replacement: only the newest connection is
			// addressable. Closing the old conn ends its reader.
			logging.Transport("peer replaced by new connection from %s", conn.RemoteAddr())
			_ = old.Close()
		} else {
			logging.Transport("peer connected from %s", conn.RemoteAddr())
		}

		s.wg.Add(1)
		go s.readLoop(conn)

		if onConnected != nil {
			onConnected()
		}
	}
}

// readLoop consumes frames from one connection until it drops. Frames
// are dispatched in arrival order from this single goroutine.
func (s *Server) readLoop(conn net.Conn) {
	defer s.wg.Done()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		ev, err := protocol.ParseEvent(line)
		if err != nil {
			// Malformed payloads are logged and dropped; they never
			// change transport state.
			logging.Get(logging.CategoryTransport).Warn("dropping frame: %v", err)
			continue
		}

		logging.TransportDebug("received %s", ev.Type)

		s.mu.RLock()
		onMessage := s.onMessage
		s.mu.RUnlock()
		if onMessage != nil {
			onMessage(ev)
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		logging.Get(logging.CategoryTransport).Warn("read: %v", err)
	}

	_ = conn.Close()

	// Only the tracked peer's reader signals a disconnect; a
	// superseded connection ends quietly.
	s.mu.Lock()
	wasCurrent := s.peer == conn
	if wasCurrent {
		s.peer = nil
	}
	onDisconnected := s.onDisconnected
	s.mu.Unlock()

	if wasCurrent {
		logging.Transport("peer disconnected")
		if onDisconnected != nil {
			onDisconnected()
		}
	}
}

func isAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}
