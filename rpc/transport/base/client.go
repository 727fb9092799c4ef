package base

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	vm "github.com/VictoriaMetrics/metrics"
	"github.com/ValentinKolb/rKV/rpc/common"
	"github.com/ValentinKolb/rKV/rpc/transport"
	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("transport")

var connectAttempts = vm.GetOrCreateCounter("rkv_connect_attempts_total")

// -----------------------------------------------------------
// Connection State
// -----------------------------------------------------------

type ConnectionState int32

const (
	StateConnecting ConnectionState = iota
	StateOpen
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateOpen:
		return "Open"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// -----------------------------------------------------------
// Connection Manager
// -----------------------------------------------------------

// ConnectionManager owns the lifecycle of one client connection: it dials the
// endpoint until it succeeds or is closed, waiting ReconnectBackoff between
// attempts, tunes the socket and publishes the connection to its waiters.
// There is no retry limit.
//
// The manager does not watch the open connection. Its owner reports a fatal
// error on the connection with Fail, which moves the manager from Open to
// Closed. A closed manager never reconnects, the owner creates a new one.
type ConnectionManager struct {
	connector transport.IClientConnector
	endpoint  string
	config    common.TransportConfig

	mu    sync.Mutex
	conn  net.Conn
	state atomic.Int32

	ready     chan struct{} // closed once the connection is published
	closed    chan struct{}
	closeOnce sync.Once
	startOnce sync.Once

	attempts atomic.Uint64
	failure  error // set by Fail before closed is closed
}

// NewConnectionManager creates a manager in state Connecting. Call Start to begin dialing.
func NewConnectionManager(connector transport.IClientConnector, endpoint string, config common.TransportConfig) *ConnectionManager {
	if config.ReconnectBackoff <= 0 {
		config.ReconnectBackoff = common.DefaultReconnectBackoff
	}
	return &ConnectionManager{
		connector: connector,
		endpoint:  endpoint,
		config:    config,
		ready:     make(chan struct{}),
		closed:    make(chan struct{}),
	}
}

// Start launches the dial loop. Calling Start more than once has no effect.
func (m *ConnectionManager) Start() {
	m.startOnce.Do(func() {
		go m.dialLoop()
	})
}

// Conn waits until the connection is open and returns it.
func (m *ConnectionManager) Conn(ctx context.Context) (net.Conn, error) {
	select {
	case <-m.ready:
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.conn == nil {
			return nil, m.closedError()
		}
		return m.conn, nil
	case <-m.closed:
		return nil, m.closedError()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// State returns the current connection state
func (m *ConnectionManager) State() ConnectionState {
	return ConnectionState(m.state.Load())
}

// Attempts returns the number of failed dial attempts
func (m *ConnectionManager) Attempts() uint64 {
	return m.attempts.Load()
}

// Close marks the manager closed, closes the connection if there is one and
// waits CloseGrace so the peer can observe the close.
func (m *ConnectionManager) Close() error {
	return m.shutdown(nil)
}

// Fail closes the manager because of a fatal error on its connection. The
// state becomes Closed and waiters get an error wrapping common.ErrConnectionClosed.
func (m *ConnectionManager) Fail(cause error) error {
	if cause == nil {
		cause = errors.New("unknown failure")
	}
	return m.shutdown(cause)
}

// Err returns the error the manager failed with, or nil
func (m *ConnectionManager) Err() error {
	select {
	case <-m.closed:
		return m.failure
	default:
		return nil
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (m *ConnectionManager) closedError() error {
	if m.failure != nil {
		return m.failure
	}
	return common.ErrConnectionClosed
}

func (m *ConnectionManager) shutdown(cause error) error {
	var err error
	m.closeOnce.Do(func() {
		if cause != nil {
			m.failure = errors.Mark(errors.Wrapf(cause, "connection to %s failed", m.endpoint), common.ErrConnectionClosed)
			Logger.Warningf("connection to %s failed: %v", m.endpoint, cause)
		}
		m.state.Store(int32(StateClosed))
		close(m.closed)

		m.mu.Lock()
		if m.conn != nil {
			err = m.conn.Close()
			m.conn = nil
		}
		m.mu.Unlock()

		if m.config.CloseGrace > 0 {
			time.Sleep(m.config.CloseGrace)
		}
	})
	return err
}

// dialLoop connects to the endpoint, it ends with a published connection or on Close
func (m *ConnectionManager) dialLoop() {
	for {
		select {
		case <-m.closed:
			return
		default:
		}

		conn, err := m.connect()
		if err == nil {
			m.mu.Lock()
			// Close may have won the race
			if m.State() == StateClosed {
				m.mu.Unlock()
				_ = conn.Close()
				return
			}
			m.conn = conn
			m.state.Store(int32(StateOpen))
			close(m.ready)
			m.mu.Unlock()

			Logger.Infof("connected to %s using %s transport after %d failed attempts",
				m.endpoint, m.connector.GetName(), m.attempts.Load())
			return
		}

		m.attempts.Add(1)
		Logger.Debugf("failed to connect to %s (attempt %d), retrying in %s: %v",
			m.endpoint, m.attempts.Load(), m.config.ReconnectBackoff, err)

		select {
		case <-time.After(m.config.ReconnectBackoff):
		case <-m.closed:
			return
		}
	}
}

// connect performs one dial attempt and tunes the new connection
func (m *ConnectionManager) connect() (net.Conn, error) {
	connectAttempts.Inc()

	conn, err := m.connector.Connect(m.endpoint)
	if err != nil {
		return nil, err
	}

	// Upgrade the connection with protocol-specific settings
	if err := m.connector.UpgradeConnection(conn, m.config); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}
