package replication

import (
	"context"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/rpc/common"
	"github.com/ValentinKolb/rKV/rpc/transport"
	"github.com/ValentinKolb/rKV/rpc/transport/base"
	"github.com/cockroachdb/errors"
	"github.com/puzpuzpuz/xsync/v3"
	gometrics "github.com/rcrowley/go-metrics"
)

// handshakeTimeout bounds how long an accepted connection may stay silent
const handshakeTimeout = 10 * time.Second

// SessionInfo describes a running session
type SessionInfo struct {
	Peer       uint8  `json:"peer"`
	RemoteAddr string `json:"remote_addr"`
	Encoder    string `json:"encoder"`
	Decoder    string `json:"decoder"`
	Pending    int    `json:"pending"`
}

// Hub connects a store to all of its peers. It accepts sessions on the
// configured endpoint and dials every peer with a greater identifier, so each
// pair of replicas shares exactly one session. Lost sessions are dialed again
// after ReconnectBackoff.
type Hub struct {
	store           db.KVDB
	config          common.ReplicationConfig
	server          *base.Server
	clientConnector transport.IClientConnector
	registry        gometrics.Registry

	sessions *xsync.MapOf[uint8, *Replicator]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// NewHub creates a hub. The configuration is validated, registry may be nil.
func NewHub(store db.KVDB, config common.ReplicationConfig, serverConnector transport.IServerConnector,
	clientConnector transport.IClientConnector, registry gometrics.Registry) (*Hub, error) {

	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Identifier != store.Identifier() {
		return nil, errors.AssertionFailedf("store identifier %d does not match configured identifier %d",
			store.Identifier(), config.Identifier)
	}
	if registry == nil {
		registry = gometrics.NewRegistry()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		store:           store,
		config:          config,
		server:          base.NewServer(serverConnector, config.Transport),
		clientConnector: clientConnector,
		registry:        registry,
		sessions:        xsync.NewMapOf[uint8, *Replicator](),
		ctx:             ctx,
		cancel:          cancel,
	}, nil
}

// Start listens for peers and starts dialing
func (h *Hub) Start() error {
	if err := h.server.Listen(); err != nil {
		return err
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := h.server.Serve(h.accept); err != nil {
			Logger.Errorf("replication listener stopped: %v", err)
		}
	}()

	for peer, addr := range h.config.Peers {
		if peer < h.config.Identifier {
			continue
		}
		h.wg.Add(1)
		go func(peer uint8, addr string) {
			defer h.wg.Done()
			h.dialLoop(peer, addr)
		}(peer, addr)
	}
	return nil
}

// Addr returns the address the hub listens on
func (h *Hub) Addr() net.Addr {
	return h.server.Addr()
}

// Registry returns the registry holding the per peer metrics
func (h *Hub) Registry() gometrics.Registry {
	return h.registry
}

// Sessions returns the running sessions ordered by peer
func (h *Hub) Sessions() []SessionInfo {
	infos := make([]SessionInfo, 0, h.sessions.Size())
	h.sessions.Range(func(peer uint8, r *Replicator) bool {
		infos = append(infos, SessionInfo{
			Peer:       peer,
			RemoteAddr: r.RemoteAddr(),
			Encoder:    r.EncoderState().String(),
			Decoder:    r.DecoderState().String(),
			Pending:    r.Pending(),
		})
		return true
	})
	sort.Slice(infos, func(i, j int) bool { return infos[i].Peer < infos[j].Peer })
	return infos
}

// Close ends all sessions, stops dialing and closes the listener
func (h *Hub) Close() error {
	var err error
	h.closeOnce.Do(func() {
		h.cancel()
		h.sessions.Range(func(_ uint8, r *Replicator) bool {
			_ = r.Close()
			return true
		})
		err = h.server.Close()
		h.wg.Wait()
	})
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// accept runs the session of an incoming connection
func (h *Hub) accept(conn net.Conn) {
	_ = h.runSession(base.NewStream(conn, h.config.ChunkCapacity()), 0)
}

// dialLoop keeps one outgoing session to peer alive until the hub is closed
func (h *Hub) dialLoop(peer uint8, addr string) {
	for {
		manager := base.NewConnectionManager(h.clientConnector, addr, h.config.Transport)
		manager.Start()

		conn, err := manager.Conn(h.ctx)
		if err != nil {
			_ = manager.Close()
			return
		}

		if err := h.runSession(base.NewStream(conn, h.config.ChunkCapacity()), peer); err != nil {
			_ = manager.Fail(err)
		} else {
			_ = manager.Close()
		}

		select {
		case <-h.ctx.Done():
			return
		case <-time.After(h.config.Transport.ReconnectBackoff):
		}
	}
}

// runSession handshakes, registers and runs a session. expected is the peer
// that was dialed (0 for accepted connections). The error is nil if the
// session ended because the hub was closed.
func (h *Hub) runSession(stream transport.IStream, expected uint8) error {
	defer func() { _ = stream.Close() }()

	r, err := NewReplicator(h.store, stream, h.config, h.registry)
	if err != nil {
		Logger.Errorf("failed to create session: %v", err)
		return err
	}

	hctx, cancel := context.WithTimeout(h.ctx, handshakeTimeout)
	peer, err := r.Handshake(hctx)
	cancel()
	if err != nil {
		Logger.Warningf("handshake with %s failed: %v", stream.RemoteAddr(), err)
		return err
	}
	if expected != 0 && peer != expected {
		sessionsRejected.Inc()
		Logger.Warningf("dialed peer %d at %s but peer %d answered", expected, stream.RemoteAddr(), peer)
		return errors.Wrapf(common.ErrHandshake, "expected peer %d, got %d", expected, peer)
	}

	// a change log has a single consumer, so there is at most one session per peer
	if current, loaded := h.sessions.LoadOrStore(peer, r); loaded {
		sessionsRejected.Inc()
		Logger.Warningf("rejected second session with peer %d from %s, session from %s is running",
			peer, stream.RemoteAddr(), current.RemoteAddr())
		return errors.Newf("session with peer %d is already running", peer)
	}
	defer h.sessions.Compute(peer, func(current *Replicator, loaded bool) (*Replicator, bool) {
		if loaded && current != r {
			return current, false
		}
		return nil, true
	})

	sessionsStarted.Inc()
	err = r.Replicate(h.ctx)
	if h.ctx.Err() != nil {
		Logger.Infof("session with peer %d closed", peer)
		return nil
	}
	Logger.Warningf("session with peer %d ended: %v", peer, err)
	if err == nil {
		err = errors.Newf("session with peer %d ended", peer)
	}
	return err
}
