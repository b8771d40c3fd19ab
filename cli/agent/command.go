package agent

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hashicorp/go-sockaddr"
	rungroup "github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	murmurconfig "github.com/andydunstall/murmur/pkg/config"
	"github.com/andydunstall/murmur/pkg/log"
	"github.com/andydunstall/murmur/server/admin"
	"github.com/andydunstall/murmur/server/config"
	"github.com/andydunstall/murmur/server/gossip"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "start a murmur agent",
		Long: `Start a murmur agent.

The agent joins the cluster as a member, detecting failed members using the
SWIM failure detector and propagating rumors (such as services, service
configuration and leader elections) to the rest of the cluster.

Use '--cluster.join' to configure addresses of existing members in the
cluster to join.

Examples:
  # Start a murmur agent.
  murmur agent

  # Start a murmur agent, listening for gossip traffic on :8000 and admin
  # connections on :8001.
  murmur agent --gossip.bind-addr :8000 --admin.bind-addr :8001

  # Start a murmur agent and join an existing cluster by specifying each
  # member.
  murmur agent --cluster.join 10.26.104.14,10.26.104.75

  # Start a murmur agent and join an existing cluster by specifying a domain.
  # The agent will resolve the domain and attempt to join each returned
  # member.
  murmur agent --cluster.join cluster.murmur-ns.svc.cluster.local

  # Start a murmur agent that encrypts gossip traffic.
  murmur agent --ring-key.path /etc/murmur/ring.key
`,
	}

	conf := config.Default()

	var configPath string
	cmd.Flags().StringVar(
		&configPath,
		"config.path",
		"",
		`
YAML config file path.`,
	)

	var configExpandEnv bool
	cmd.Flags().BoolVar(
		&configExpandEnv,
		"config.expand-env",
		false,
		`
Whether to expand environment variables in the config file.

This will replaces references to ${VAR} or $VAR with the corresponding
environment variable. The replacement is case-sensitive.

References to undefined variables will be replaced with an empty string. A
default value can be given using form ${VAR:default}.`,
	)

	// Register flags and set default values.
	conf.RegisterFlags(cmd.Flags())

	cmd.Run = func(cmd *cobra.Command, args []string) {
		if configPath != "" {
			if err := murmurconfig.Load(configPath, conf, configExpandEnv); err != nil {
				fmt.Printf("load config: %s\n", err.Error())
				os.Exit(1)
			}
		}

		if err := conf.Validate(); err != nil {
			fmt.Printf("invalid config: %s\n", err.Error())
			os.Exit(1)
		}

		logger, err := log.NewLogger(conf.Log.Level, conf.Log.Subsystems)
		if err != nil {
			fmt.Printf("failed to setup logger: %s\n", err.Error())
			os.Exit(1)
		}

		if conf.Cluster.NodeID == "" {
			nodeID := gossip.GenerateMemberID()
			if conf.Cluster.NodeIDPrefix != "" {
				nodeID = conf.Cluster.NodeIDPrefix + nodeID
			}
			conf.Cluster.NodeID = nodeID
		}

		if conf.Admin.AdvertiseAddr == "" {
			advertiseAddr, err := advertiseAddrFromBindAddr(conf.Admin.BindAddr)
			if err != nil {
				logger.Error("invalid configuration", zap.Error(err))
				os.Exit(1)
			}
			conf.Admin.AdvertiseAddr = advertiseAddr
		}
		if conf.Gossip.AdvertiseAddr == "" {
			advertiseAddr, err := advertiseAddrFromBindAddr(conf.Gossip.BindAddr)
			if err != nil {
				logger.Error("invalid configuration", zap.Error(err))
				os.Exit(1)
			}
			conf.Gossip.AdvertiseAddr = advertiseAddr
		}

		if err := run(conf, logger); err != nil {
			logger.Error("failed to run agent", zap.Error(err))
			os.Exit(1)
		}
	}

	return cmd
}

func run(conf *config.Config, logger log.Logger) error {
	logger.Info("starting murmur agent", zap.Any("conf", conf))

	registry := prometheus.NewRegistry()

	key, err := conf.RingKey.Load()
	if err != nil {
		return fmt.Errorf("ring key: %w", err)
	}

	// Gossip uses both TCP and UDP on the same port.
	gossipStreamLn, err := net.Listen("tcp", conf.Gossip.BindAddr)
	if err != nil {
		return fmt.Errorf("gossip listen: %s: %w", conf.Gossip.BindAddr, err)
	}
	gossipPacketLn, err := net.ListenPacket("udp", gossipStreamLn.Addr().String())
	if err != nil {
		gossipStreamLn.Close()
		return fmt.Errorf("gossip listen: %s: %w", conf.Gossip.BindAddr, err)
	}

	gossiper := gossip.NewGossip(
		conf.Cluster.NodeID,
		&conf.Gossip,
		gossipStreamLn,
		gossipPacketLn,
		key,
		logger,
	)
	defer gossiper.Close()
	gossiper.Metrics().Register(registry)

	if err := gossiper.PublishAdminAddr(conf.Admin.AdvertiseAddr); err != nil {
		return fmt.Errorf("gossip: %w", err)
	}

	tlsConfig, err := conf.Admin.TLS.Load()
	if err != nil {
		return fmt.Errorf("admin tls: %w", err)
	}

	adminLn, err := net.Listen("tcp", conf.Admin.BindAddr)
	if err != nil {
		return fmt.Errorf("admin listen: %s: %w", conf.Admin.BindAddr, err)
	}
	adminServer := admin.NewServer(
		gossiper,
		registry,
		tlsConfig,
		logger,
	)
	adminServer.AddStatus("/gossip", gossip.NewStatus(gossiper))

	// Attempt to join an existing cluster. Note if 'join' is a domain that
	// doesn't map to any entries (except ourselves), then join will succeed
	// since it means we're the first member.
	joinCtx, joinCancel := context.WithTimeout(context.Background(), conf.GracePeriod)
	memberIDs, err := gossiper.JoinOnStartup(joinCtx, conf.Cluster.Join)
	joinCancel()
	if err != nil {
		if conf.Cluster.AbortIfJoinFails {
			return fmt.Errorf("join cluster: %w", err)
		}
		logger.Warn("failed to join cluster", zap.Error(err))
	}
	if len(memberIDs) > 0 {
		logger.Info(
			"joined cluster",
			zap.Strings("member-ids", memberIDs),
		)
	}

	var group rungroup.Group

	// Termination handler.
	signalCtx, signalCancel := context.WithCancel(context.Background())
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	group.Add(func() error {
		select {
		case sig := <-signalCh:
			logger.Info(
				"received shutdown signal",
				zap.String("signal", sig.String()),
			)

			leaveCtx, cancel := context.WithTimeout(
				context.Background(),
				conf.GracePeriod,
			)
			defer cancel()

			// Leave as soon as we receive the shutdown signal so other
			// members don't have to detect the failure.
			if err := gossiper.Leave(leaveCtx); err != nil {
				logger.Warn("failed to gracefully leave cluster", zap.Error(err))
			} else {
				logger.Info("left cluster")
			}

			return nil
		case <-signalCtx.Done():
			return nil
		}
	}, func(error) {
		signalCancel()
	})

	// Admin server.
	group.Add(func() error {
		if err := adminServer.Serve(adminLn); err != nil {
			return fmt.Errorf("admin server serve: %w", err)
		}
		return nil
	}, func(error) {
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			conf.GracePeriod,
		)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to gracefully shutdown admin server", zap.Error(err))
		}

		logger.Info("admin server shut down")
	})

	if err := group.Run(); err != nil {
		return err
	}

	logger.Info("shutdown complete")

	return nil
}

func advertiseAddrFromBindAddr(bindAddr string) (string, error) {
	if strings.HasPrefix(bindAddr, ":") {
		bindAddr = "0.0.0.0" + bindAddr
	}

	host, port, err := net.SplitHostPort(bindAddr)
	if err != nil {
		return "", fmt.Errorf("invalid bind addr: %s: %w", bindAddr, err)
	}

	if host == "0.0.0.0" {
		ip, err := sockaddr.GetPrivateIP()
		if err != nil {
			return "", fmt.Errorf("get interface addr: %w", err)
		}
		if ip == "" {
			return "", fmt.Errorf("no private ip found")
		}
		return ip + ":" + port, nil
	}
	return bindAddr, nil
}
