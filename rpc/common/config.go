package common

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// --------------------------------------------------------------------------
// Defaults
// --------------------------------------------------------------------------

const (
	// EntryOverhead is the per record slack of a chunk buffer on top of MaxEntrySize
	EntryOverhead = 128

	DefaultMaxEntriesPerChunk = 10
	DefaultMaxEntrySize       = 64 * 1024
	DefaultReadBufferSize     = 256 * 1024
	DefaultReconnectBackoff   = time.Second
	DefaultCloseGrace         = 500 * time.Millisecond
)

// --------------------------------------------------------------------------
// Transport configuration
// --------------------------------------------------------------------------

// SocketConf holds settings that apply to every socket type
type SocketConf struct {
	ReadBufferSize  int // receive buffer in bytes (0 = os default)
	WriteBufferSize int // send buffer in bytes (0 = os default)
}

// TCPConf holds settings that only apply to tcp sockets
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int // 0 = disabled
	TCPLingerSec    int // < 0 = os default
}

// TransportConfig configures how replicas connect to each other
type TransportConfig struct {
	Network          string // "tcp" or "unix"
	Endpoint         string // listen address of this replica
	ReconnectBackoff time.Duration
	CloseGrace       time.Duration
	SocketConf
	TCPConf
}

// --------------------------------------------------------------------------
// Replication configuration
// --------------------------------------------------------------------------

// ReplicationConfig holds all configuration parameters of one replica.
type ReplicationConfig struct {
	// Identifier is the origin written into every local mutation (1..255)
	Identifier uint8

	// Peers maps the identifier of every other replica to its address.
	// Only peers with a greater identifier are dialed, the others dial us.
	Peers map[uint8]string

	Transport TransportConfig

	// chunking
	MaxEntriesPerChunk int
	MaxEntrySize       int
	Codec              string // "binary", "json" or "gob"

	// store
	TombstoneRetention time.Duration
	GCInterval         time.Duration

	// HTTP api and metrics
	HTTPEndpoint       string
	MetricsLogInterval time.Duration

	// Logging configuration
	LogLevel string
}

// DefaultReplicationConfig returns a configuration with all defaults set
func DefaultReplicationConfig() ReplicationConfig {
	return ReplicationConfig{
		Identifier: 1,
		Peers:      map[uint8]string{},
		Transport: TransportConfig{
			Network:          "tcp",
			Endpoint:         ":7400",
			ReconnectBackoff: DefaultReconnectBackoff,
			CloseGrace:       DefaultCloseGrace,
			SocketConf: SocketConf{
				ReadBufferSize: DefaultReadBufferSize,
			},
			TCPConf: TCPConf{
				TCPNoDelay:   true,
				TCPLingerSec: -1,
			},
		},
		MaxEntriesPerChunk: DefaultMaxEntriesPerChunk,
		MaxEntrySize:       DefaultMaxEntrySize,
		Codec:              "binary",
		TombstoneRetention: 5 * time.Minute,
		GCInterval:         10 * time.Second,
		HTTPEndpoint:       ":8080",
		MetricsLogInterval: time.Minute,
		LogLevel:           "info",
	}
}

// ChunkCapacity returns the byte capacity of a chunk buffer
func (c *ReplicationConfig) ChunkCapacity() int {
	return (c.MaxEntrySize + EntryOverhead) * c.MaxEntriesPerChunk
}

// Validate checks the configuration. Invalid values are programming or
// operator errors, so the returned error is an assertion failure.
func (c *ReplicationConfig) Validate() error {
	if c.Identifier == 0 {
		return errors.AssertionFailedf("identifier 0 is reserved")
	}
	if c.MaxEntriesPerChunk < 1 {
		return errors.AssertionFailedf("max entries per chunk must be at least 1, got %d", c.MaxEntriesPerChunk)
	}
	if c.MaxEntrySize < 1 {
		return errors.AssertionFailedf("max entry size must be at least 1, got %d", c.MaxEntrySize)
	}
	switch c.Transport.Network {
	case "tcp", "unix":
	default:
		return errors.AssertionFailedf("unknown network %q, must be tcp or unix", c.Transport.Network)
	}
	switch c.Codec {
	case "binary", "json", "gob":
	default:
		return errors.AssertionFailedf("unknown codec %q, must be binary, json or gob", c.Codec)
	}
	if c.Transport.ReconnectBackoff < 0 || c.Transport.CloseGrace < 0 {
		return errors.AssertionFailedf("reconnect backoff and close grace must not be negative")
	}
	for id, addr := range c.Peers {
		if id == 0 {
			return errors.AssertionFailedf("peer %q uses the reserved identifier 0", addr)
		}
		if id == c.Identifier {
			return errors.AssertionFailedf("peer %q uses the identifier of this replica (%d)", addr, id)
		}
		if addr == "" {
			return errors.AssertionFailedf("peer %d has no address", id)
		}
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return errors.WithAssertionFailure(err)
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c *ReplicationConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// Node Identity
	addSection("Replica")
	addField("Identifier", strconv.Itoa(int(c.Identifier)))
	addField("Network", c.Transport.Network)
	addField("Endpoint", c.Transport.Endpoint)
	addField("HTTP Endpoint", c.HTTPEndpoint)

	// Transport
	addSection("Transport")
	addField("Read Buffer", fmt.Sprintf("%d bytes", c.Transport.ReadBufferSize))
	addField("Reconnect Backoff", c.Transport.ReconnectBackoff.String())
	addField("Close Grace", c.Transport.CloseGrace.String())
	if c.Transport.Network == "tcp" {
		addField("TCP No Delay", fmt.Sprintf("%t", c.Transport.TCPNoDelay))
		addField("TCP Keep Alive", fmt.Sprintf("%d sec", c.Transport.TCPKeepAliveSec))
	}

	// Chunking
	addSection("Replication")
	addField("Codec", c.Codec)
	addField("Max Entries / Chunk", strconv.Itoa(c.MaxEntriesPerChunk))
	addField("Max Entry Size", fmt.Sprintf("%d bytes", c.MaxEntrySize))
	addField("Chunk Capacity", fmt.Sprintf("%d bytes", c.ChunkCapacity()))

	// Store
	addSection("Store")
	addField("Tombstone Retention", c.TombstoneRetention.String())
	addField("GC Interval", c.GCInterval.String())

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)
	addField("Metrics Interval", c.MetricsLogInterval.String())

	// Peers
	addSection("Peers")

	// Sort keys for consistent output
	var keys []int
	for k := range c.Peers {
		keys = append(keys, int(k))
	}
	sort.Ints(keys)

	for _, k := range keys {
		role := "accepts"
		if uint8(k) > c.Identifier {
			role = "dials"
		}
		sb.WriteString(fmt.Sprintf("    Replica %d: %s (%s)\n", k, c.Peers[uint8(k)], role))
	}

	return sb.String()
}

// ParsePeers parses peer definitions of the form "<id>=<address>"
func ParsePeers(defs []string) (map[uint8]string, error) {
	peers := make(map[uint8]string, len(defs))
	for _, def := range defs {
		idStr, addr, ok := strings.Cut(def, "=")
		if !ok {
			return nil, errors.Newf("invalid peer %q, expected <id>=<address>", def)
		}
		id, err := strconv.ParseUint(strings.TrimSpace(idStr), 10, 8)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid peer identifier in %q", def)
		}
		if _, dup := peers[uint8(id)]; dup {
			return nil, errors.Newf("peer %d defined twice", id)
		}
		peers[uint8(id)] = strings.TrimSpace(addr)
	}
	return peers, nil
}

// --------------------------------------------------------------------------
// Client configuration struct
// --------------------------------------------------------------------------

// ClientConfig configures the HTTP client of the kv commands
type ClientConfig struct {
	Endpoint      string // base url of a replica, e.g. http://localhost:8080
	TimeoutSecond int
	RetryCount    int
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	sb.WriteString("\nCLIENT CONFIGURATION\n")
	sb.WriteString(fmt.Sprintf("  %-22s: %s\n", "Endpoint", c.Endpoint))
	sb.WriteString(fmt.Sprintf("  %-22s: %d sec\n", "Timeout", c.TimeoutSecond))
	sb.WriteString(fmt.Sprintf("  %-22s: %d\n", "Retry Count", c.RetryCount))

	return sb.String()
}
