// Package server implements the UDP listener that terminates LAN DNS
// queries: one socket, one session per distinct peer address, each
// session serialized through its own goroutine so a peer's queries are
// always answered in the order they arrived (spec §4.7, §5).
package server

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/BrettMayson/mindns-k8s/internal/dnswire"
	"github.com/BrettMayson/mindns-k8s/internal/pipeline"
)

const (
	socketRecvBufferSize = 4 * 1024 * 1024
	socketSendBufferSize = 4 * 1024 * 1024

	// DefaultPeerIdleTimeout tears a session down after this long without
	// activity from its peer (SPEC_FULL §6, server.peer_timeout_seconds).
	DefaultPeerIdleTimeout = 20 * time.Second

	// inboundQueueDepth bounds how many not-yet-processed queries a
	// single peer can have in flight before new ones are dropped,
	// keeping one noisy peer from growing memory unbounded.
	inboundQueueDepth = 64
)

// Server answers DNS-over-UDP queries from LAN clients, one session per
// source (ip, port). Sessions own their own goroutine and are torn down
// together — inbound channel, worker goroutine, idle timer — the moment
// that peer goes quiet for PeerIdleTimeout.
type Server struct {
	Pipeline        *pipeline.Pipeline
	Logger          *slog.Logger
	PeerIdleTimeout time.Duration

	conn *net.UDPConn

	mu       sync.Mutex
	sessions map[string]*peerSession
	wg       sync.WaitGroup
}

type peerSession struct {
	id     string
	addr   *net.UDPAddr
	inbox  chan []byte
	cancel context.CancelFunc
}

// New returns a Server bound to nothing yet; call Run to start listening.
func New(p *pipeline.Pipeline, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		Pipeline:        p,
		Logger:          log,
		PeerIdleTimeout: DefaultPeerIdleTimeout,
		sessions:        make(map[string]*peerSession),
	}
}

// Run listens on addr (host:port) and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	conn, err := listenUDP(addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	return s.RunOnConn(ctx, conn)
}

// RunOnConn serves on an already-open UDP socket — useful for tests that
// manage the listener themselves.
func (s *Server) RunOnConn(ctx context.Context, conn *net.UDPConn) error {
	s.conn = conn
	_ = conn.SetReadBuffer(socketRecvBufferSize)
	_ = conn.SetWriteBuffer(socketSendBufferSize)

	// ReadFromUDP below blocks indefinitely on its own; closing the
	// socket when ctx is cancelled is what actually unblocks recvLoop.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	s.recvLoop(ctx)

	s.mu.Lock()
	for _, sess := range s.sessions {
		sess.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

func (s *Server) recvLoop(ctx context.Context) {
	buf := make([]byte, 512)
	for {
		if ctx.Err() != nil {
			return
		}

		n, peer, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.Logger.Warn("server: read failed", "error", err)
			return
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])
		s.dispatch(ctx, peer, payload)
	}
}

// dispatch routes payload to the session owning peer, creating one if
// this is the first packet seen from that address (spec §4.7: one
// session per unique (ip, port)).
func (s *Server) dispatch(ctx context.Context, peer *net.UDPAddr, payload []byte) {
	key := peer.String()

	s.mu.Lock()
	sess, ok := s.sessions[key]
	if !ok {
		sess = s.newSession(ctx, peer)
		s.sessions[key] = sess
	}
	s.mu.Unlock()

	select {
	case sess.inbox <- payload:
	default:
		s.Logger.Warn("server: peer queue full, dropping query", "peer", key)
	}
}

func (s *Server) newSession(ctx context.Context, peer *net.UDPAddr) *peerSession {
	sessCtx, cancel := context.WithCancel(ctx)
	sess := &peerSession{
		id:     uuid.NewString(),
		addr:   peer,
		inbox:  make(chan []byte, inboundQueueDepth),
		cancel: cancel,
	}

	s.Logger.Debug("server: new peer session", "peer", peer.String(), "session", sess.id)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.teardown(peer.String())
		s.runSession(sessCtx, sess)
	}()

	return sess
}

// runSession processes queries from one peer strictly in arrival order,
// resetting its idle timer on every query and exiting once either its
// context is cancelled or PeerIdleTimeout elapses with nothing received.
func (s *Server) runSession(ctx context.Context, sess *peerSession) {
	idle := s.PeerIdleTimeout
	if idle <= 0 {
		idle = DefaultPeerIdleTimeout
	}
	timer := time.NewTimer(idle)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.Logger.Debug("server: peer session idle timeout", "peer", sess.addr.String(), "session", sess.id)
			return
		case payload := <-sess.inbox:
			s.handleQuery(ctx, sess, payload)
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(idle)
		}
	}
}

func (s *Server) handleQuery(ctx context.Context, sess *peerSession, payload []byte) {
	req, err := dnswire.ParsePacket(payload)
	if err != nil {
		s.Logger.Warn("server: malformed query dropped", "peer", sess.addr.String(), "error", err)
		return
	}

	resp := s.Pipeline.Handle(ctx, req)

	wire, err := resp.Marshal()
	if err != nil {
		s.Logger.Warn("server: failed to marshal response", "peer", sess.addr.String(), "error", err)
		return
	}

	if _, err := s.conn.WriteToUDP(wire, sess.addr); err != nil {
		s.Logger.Warn("server: failed to send response", "peer", sess.addr.String(), "error", err)
	}
}

func (s *Server) teardown(key string) {
	s.mu.Lock()
	delete(s.sessions, key)
	s.mu.Unlock()
}

// SessionCount reports the number of live peer sessions, for the admin
// surface (SPEC_FULL §4.10).
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func listenUDP(addr string) (*net.UDPConn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}

	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
		},
	}

	pc, err := lc.ListenPacket(context.Background(), "udp", udpAddr.String())
	if err != nil {
		return nil, err
	}
	return pc.(*net.UDPConn), nil
}
