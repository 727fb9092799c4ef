package serve

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cmdUtil "github.com/ValentinKolb/rKV/cmd/util"
	"github.com/ValentinKolb/rKV/lib/db/engines/maple"
	"github.com/ValentinKolb/rKV/rpc/api"
	"github.com/ValentinKolb/rKV/rpc/common"
	"github.com/ValentinKolb/rKV/rpc/replication"
	"github.com/ValentinKolb/rKV/rpc/transport"
	"github.com/ValentinKolb/rKV/rpc/transport/tcp"
	"github.com/ValentinKolb/rKV/rpc/transport/unix"
	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Logger = logger.GetLogger("cmd")

var (
	serveCmdConfig = common.DefaultReplicationConfig()
	ServeCmd       = &cobra.Command{
		Use:   "serve",
		Short: "Start an rKV replica",
		Long: `Start an rKV replica with the specified configuration. The configuration can be set via command line flags,
environment variables or a config file. The format of the environment variables is RKV_<flag> (e.g. RKV_MAX_ENTRIES=20)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	defaults := common.DefaultReplicationConfig()

	// add flags
	key := "id"
	ServeCmd.PersistentFlags().Uint8(key, defaults.Identifier, cmdUtil.WrapString("Identifier of this replica (1-255). It is the origin of every local mutation and breaks timestamp ties, so it must be unique"))

	key = "peers"
	ServeCmd.PersistentFlags().StringSlice(key, nil, cmdUtil.WrapString("Comma-separated list of the other replicas. Format: ID=ADDRESS (e.g. 2=node-2:7400,3=node-3:7400). Peers with a greater identifier are dialed, the others are expected to dial this replica"))

	key = "network"
	ServeCmd.PersistentFlags().String(key, defaults.Transport.Network, cmdUtil.WrapString("Network of the replication transport (tcp, unix)"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, defaults.Transport.Endpoint, cmdUtil.WrapString("The address on which the replication transport will listen (e.g. :7400, /tmp/rkv.sock)"))

	key = "http-endpoint"
	ServeCmd.PersistentFlags().String(key, defaults.HTTPEndpoint, cmdUtil.WrapString("The address of the HTTP api and the metrics endpoint (empty disables it)"))

	key = "max-entries"
	ServeCmd.PersistentFlags().Int(key, defaults.MaxEntriesPerChunk, cmdUtil.WrapString("Maximum number of records per chunk"))

	key = "max-entry-size"
	ServeCmd.PersistentFlags().Int(key, defaults.MaxEntrySize, cmdUtil.WrapString("Maximum size of a serialized record in bytes, larger records are not replicated"))

	key = "codec"
	ServeCmd.PersistentFlags().String(key, defaults.Codec, cmdUtil.WrapString("Record codec (binary, json, gob), all replicas must use the same"))

	key = "tombstone-retention"
	ServeCmd.PersistentFlags().Duration(key, defaults.TombstoneRetention, cmdUtil.WrapString("How long removed keys are remembered to reject late writes (0 keeps them forever)"))

	key = "gc-interval"
	ServeCmd.PersistentFlags().Duration(key, defaults.GCInterval, cmdUtil.WrapString("Interval between tombstone collections"))

	key = "reconnect-backoff"
	ServeCmd.PersistentFlags().Duration(key, defaults.Transport.ReconnectBackoff, cmdUtil.WrapString("Time between two connection attempts to a peer"))

	key = "close-grace"
	ServeCmd.PersistentFlags().Duration(key, defaults.Transport.CloseGrace, cmdUtil.WrapString("Time to wait after closing a connection"))

	key = "read-buffer"
	ServeCmd.PersistentFlags().Int(key, defaults.Transport.ReadBufferSize/1024, cmdUtil.WrapString("The size of the socket receive buffer (in KB)"))

	key = "write-buffer"
	ServeCmd.PersistentFlags().Int(key, defaults.Transport.WriteBufferSize/1024, cmdUtil.WrapString("The size of the socket send buffer (in KB, 0 = os default)"))

	key = "tcp-nodelay"
	ServeCmd.PersistentFlags().Bool(key, defaults.Transport.TCPNoDelay, cmdUtil.WrapString("Whether to enable TCP_NODELAY (only for tcp)"))

	key = "tcp-keepalive"
	ServeCmd.PersistentFlags().Int(key, defaults.Transport.TCPKeepAliveSec, cmdUtil.WrapString("The keepalive interval (in seconds, 0 = disabled, only for tcp)"))

	key = "tcp-linger"
	ServeCmd.PersistentFlags().Int(key, defaults.Transport.TCPLingerSec, cmdUtil.WrapString("The linger time (in seconds, < 0 = os default, only for tcp)"))

	key = "metrics-log-interval"
	ServeCmd.PersistentFlags().Duration(key, defaults.MetricsLogInterval, cmdUtil.WrapString("Interval at which the per peer metrics are logged (0 disables it)"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, defaults.LogLevel, cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags, environment variables and the config file
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	peers, err := common.ParsePeers(viper.GetStringSlice("peers"))
	if err != nil {
		return err
	}

	serveCmdConfig.Identifier = uint8(viper.GetUint("id"))
	serveCmdConfig.Peers = peers
	serveCmdConfig.Transport.Network = viper.GetString("network")
	serveCmdConfig.Transport.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.Transport.ReconnectBackoff = viper.GetDuration("reconnect-backoff")
	serveCmdConfig.Transport.CloseGrace = viper.GetDuration("close-grace")
	serveCmdConfig.Transport.ReadBufferSize = viper.GetInt("read-buffer") * 1024
	serveCmdConfig.Transport.WriteBufferSize = viper.GetInt("write-buffer") * 1024
	serveCmdConfig.Transport.TCPNoDelay = viper.GetBool("tcp-nodelay")
	serveCmdConfig.Transport.TCPKeepAliveSec = viper.GetInt("tcp-keepalive")
	serveCmdConfig.Transport.TCPLingerSec = viper.GetInt("tcp-linger")
	serveCmdConfig.MaxEntriesPerChunk = viper.GetInt("max-entries")
	serveCmdConfig.MaxEntrySize = viper.GetInt("max-entry-size")
	serveCmdConfig.Codec = viper.GetString("codec")
	serveCmdConfig.TombstoneRetention = viper.GetDuration("tombstone-retention")
	serveCmdConfig.GCInterval = viper.GetDuration("gc-interval")
	serveCmdConfig.HTTPEndpoint = viper.GetString("http-endpoint")
	serveCmdConfig.MetricsLogInterval = viper.GetDuration("metrics-log-interval")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	if id := viper.GetUint("id"); id == 0 || id > 255 {
		return errors.Newf("invalid replica id %d (expected 1-255)", id)
	}
	return serveCmdConfig.Validate()
}

// run starts the replica and blocks until SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	if err := common.InitLoggers(serveCmdConfig.LogLevel); err != nil {
		return err
	}
	Logger.Infof("starting rKV replica %s", serveCmdConfig.String())

	serverConnector, clientConnector, err := connectors(serveCmdConfig.Transport.Network)
	if err != nil {
		return err
	}

	store := maple.NewMapleDB(&maple.DBOptions{
		Identifier:         serveCmdConfig.Identifier,
		GCInterval:         serveCmdConfig.GCInterval,
		TombstoneRetention: serveCmdConfig.TombstoneRetention,
	})
	defer store.Close()

	registry := gometrics.NewRegistry()
	hub, err := replication.NewHub(store, serveCmdConfig, serverConnector, clientConnector, registry)
	if err != nil {
		return err
	}
	if err := hub.Start(); err != nil {
		return err
	}
	defer hub.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if serveCmdConfig.MetricsLogInterval > 0 {
		go logMetrics(ctx, registry, serveCmdConfig.MetricsLogInterval)
	}

	var httpServer *http.Server
	httpErr := make(chan error, 1)
	if serveCmdConfig.HTTPEndpoint != "" {
		httpServer = &http.Server{
			Addr:    serveCmdConfig.HTTPEndpoint,
			Handler: api.NewHandler(store, hub, registry, serveCmdConfig.LogLevel == "debug"),
		}
		go func() {
			Logger.Infof("starting HTTP api on %s", serveCmdConfig.HTTPEndpoint)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				httpErr <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		Logger.Infof("shutting down")
	case err := <-httpErr:
		return errors.Wrap(err, "HTTP api failed")
	}

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			Logger.Warningf("failed to shut down HTTP api: %v", err)
		}
	}
	return nil
}

// connectors returns the transport connectors of network
func connectors(network string) (transport.IServerConnector, transport.IClientConnector, error) {
	switch network {
	case "tcp":
		return tcp.NewServerConnector(), tcp.NewClientConnector(), nil
	case "unix":
		return unix.NewServerConnector(), unix.NewClientConnector(), nil
	default:
		return nil, nil, errors.Newf("invalid network %s", network)
	}
}

// metricsLogger adapts the package logger to gometrics.Logger
type metricsLogger struct{}

func (metricsLogger) Printf(format string, v ...interface{}) {
	Logger.Infof(format, v...)
}

// logMetrics logs the per peer metrics every interval until ctx is done
func logMetrics(ctx context.Context, registry gometrics.Registry, interval time.Duration) {
	cue := make(chan interface{})
	go gometrics.LogOnCue(registry, cue, metricsLogger{})
	defer close(cue)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cue <- struct{}{}
		}
	}
}
