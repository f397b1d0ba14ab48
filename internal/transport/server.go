package transport

import (
	"context"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/sysinspect/sysinspect/api/types"
	"github.com/sysinspect/sysinspect/pkg/server"
)

// MessageHandler is invoked once per decoded MinionMessage. remoteAddr is
// the connection's remote address, useful before the session/key registry
// has attached a minion-id to the connection.
type MessageHandler func(remoteAddr string, msg types.MinionMessage)

// conn is one accepted connection's state: a dedicated outbound queue and
// a single-shot cancel shared between its reader and writer goroutines.
type conn struct {
	remoteAddr string
	netConn    net.Conn
	out        chan types.MasterMessage
	cancel     chan struct{}
	cancelOnce sync.Once
}

func (c *conn) stop() {
	c.cancelOnce.Do(func() {
		close(c.cancel)
		_ = c.netConn.Close()
	})
}

// Server is the master side of the transport: one listener, one goroutine
// pair (writer/reader) per accepted connection, and a broadcast fan-out of
// every outbound MasterMessage to every connected minion.
type Server struct {
	lg    *zap.Logger
	ln    net.Listener
	embed server.IEmbedServer

	onMessage MessageHandler

	mu    sync.Mutex
	conns map[string]*conn
}

// NewServer binds addr and returns a ready, not-yet-serving Server.
func NewServer(addr string, lg *zap.Logger, onMessage MessageHandler) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		lg:        lg,
		ln:        ln,
		embed:     server.NewEmbedServer(lg),
		onMessage: onMessage,
		conns:     make(map[string]*conn),
	}, nil
}

// Addr returns the listener's bound address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Serve accepts connections until the server is shut down.
func (s *Server) Serve() {
	s.embed.Destroy(func() {})

	s.embed.GoAttach(func() {
		<-s.embed.StoppingNotify()
		_ = s.ln.Close()
	})

	for {
		nc, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.embed.StoppingNotify():
				return
			default:
				s.lg.Warn("accept failed", zap.Error(err))
				continue
			}
		}
		s.handleConn(nc)
	}
}

func (s *Server) handleConn(nc net.Conn) {
	remote := nc.RemoteAddr().String()
	c := &conn{
		remoteAddr: remote,
		netConn:    nc,
		out:        make(chan types.MasterMessage, 64),
		cancel:     make(chan struct{}),
	}

	s.mu.Lock()
	s.conns[remote] = c
	s.mu.Unlock()

	s.embed.GoAttach(func() { s.writerLoop(c) })
	s.embed.GoAttach(func() { s.readerLoop(c) })
}

func (s *Server) writerLoop(c *conn) {
	fw := NewFrameWriter(c.netConn)
	defer s.removeConn(c)

	for {
		select {
		case <-c.cancel:
			return
		case <-s.embed.StoppingNotify():
			c.stop()
			return
		case msg, ok := <-c.out:
			if !ok {
				return
			}
			if err := fw.Write(msg); err != nil {
				s.lg.Debug("writer: write failed, closing connection", zap.String("remote", c.remoteAddr), zap.Error(err))
				c.stop()
				return
			}
		}
	}
}

func (s *Server) readerLoop(c *conn) {
	defer c.stop()
	defer s.removeConn(c)

	for {
		var msg types.MinionMessage
		if err := ReadFrame(c.netConn, &msg); err != nil {
			select {
			case <-c.cancel:
			default:
				s.lg.Debug("reader: connection closed", zap.String("remote", c.remoteAddr), zap.Error(err))
			}
			return
		}
		if s.onMessage != nil {
			s.onMessage(c.remoteAddr, msg)
		}
	}
}

func (s *Server) removeConn(c *conn) {
	s.mu.Lock()
	if cur, ok := s.conns[c.remoteAddr]; ok && cur == c {
		delete(s.conns, c.remoteAddr)
	}
	s.mu.Unlock()
}

// Broadcast fans msg out to every connected minion's outbound queue. A
// connection whose queue is full drops the message rather than blocking
// the broadcaster.
func (s *Server) Broadcast(msg types.MasterMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		select {
		case c.out <- msg:
		default:
			s.lg.Warn("broadcast queue full, dropping message", zap.String("remote", c.remoteAddr))
		}
	}
}

// Send delivers msg to a single connection by remote address, if still
// connected.
func (s *Server) Send(remoteAddr string, msg types.MasterMessage) bool {
	s.mu.Lock()
	c, ok := s.conns[remoteAddr]
	s.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case c.out <- msg:
		return true
	default:
		return false
	}
}

// Drop shuts down remoteAddr's connection immediately: the paired
// writer/reader goroutines observe the closed socket and exit.
func (s *Server) Drop(remoteAddr string) {
	s.mu.Lock()
	c, ok := s.conns[remoteAddr]
	s.mu.Unlock()
	if ok {
		c.stop()
	}
}

// Shutdown stops accepting, cancels every connection, and waits for all
// goroutines to return or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.embed.Shutdown(ctx)
}
