package base

import (
	"net"
	"sync"

	"github.com/ValentinKolb/rKV/rpc/common"
	"github.com/ValentinKolb/rKV/rpc/transport"
	"github.com/cockroachdb/errors"
)

// ConnHandler is called in its own goroutine for every accepted connection.
// The handler owns the connection and must close it.
type ConnHandler func(conn net.Conn)

// Server accepts connections through a server connector
type Server struct {
	connector transport.IServerConnector
	config    common.TransportConfig

	mu       sync.Mutex
	listener net.Listener
	closed   bool
	wg       sync.WaitGroup
}

// NewServer creates a new server for the given connector
func NewServer(connector transport.IServerConnector, config common.TransportConfig) *Server {
	return &Server{
		connector: connector,
		config:    config,
	}
}

// Listen creates the listener. It must be called before Serve.
func (s *Server) Listen() error {
	listener, err := s.connector.Listen(s.config)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s listener on %s", s.connector.GetName(), s.config.Endpoint)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	Logger.Infof("listening for replicas on %s (%s)", listener.Addr(), s.connector.GetName())
	return nil
}

// Addr returns the address of the listener (nil before Listen)
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until the server is closed. Every connection is
// upgraded and passed to handler in a new goroutine.
func (s *Server) Serve(handler ConnHandler) error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return errors.AssertionFailedf("Serve called before Listen")
	}

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed || errors.Is(err, net.ErrClosed) {
				return nil
			}
			Logger.Errorf("accept error: %v", err)
			continue
		}

		if err := s.connector.UpgradeConnection(conn, s.config); err != nil {
			Logger.Warningf("failed to upgrade connection from %s: %v", conn.RemoteAddr(), err)
			_ = conn.Close()
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			handler(conn)
		}()
	}
}

// Close stops accepting connections and waits for the running handlers
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	listener := s.listener
	s.mu.Unlock()

	var err error
	if listener != nil {
		err = listener.Close()
	}
	s.wg.Wait()
	return err
}
