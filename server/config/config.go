package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/andydunstall/murmur/pkg/gossip"
	"github.com/andydunstall/murmur/pkg/log"
	"github.com/andydunstall/murmur/pkg/ringkey"
)

type AdminConfig struct {
	// BindAddr is the address to bind to listen for incoming HTTP connections.
	BindAddr string `json:"bind_addr" yaml:"bind_addr"`

	// AdvertiseAddr is the address to advertise to other members.
	AdvertiseAddr string `json:"advertise_addr" yaml:"advertise_addr"`

	TLS TLSConfig `json:"tls" yaml:"tls"`
}

func (c *AdminConfig) Validate() error {
	if c.BindAddr == "" {
		return fmt.Errorf("missing bind addr")
	}
	if err := c.TLS.Validate(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	return nil
}

func (c *AdminConfig) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(
		&c.BindAddr,
		"admin.bind-addr",
		c.BindAddr,
		`
The host/port to listen for incoming admin connections.

If the host is unspecified it defaults to all listeners, such as
'--admin.bind-addr :7947' will listen on '0.0.0.0:7947'`,
	)
	fs.StringVar(
		&c.AdvertiseAddr,
		"admin.advertise-addr",
		c.AdvertiseAddr,
		`
Admin listen address to advertise to other members in the cluster. This is the
address other members will use to forward admin requests.

Such as if the listen address is ':7947', the advertised address may be
'10.26.104.45:7947' or 'node1.cluster:7947'.

By default, if the bind address includes an IP to bind to that will be used.
If the bind address does not include an IP (such as ':7947') the members
private IP will be used.`,
	)

	c.TLS.RegisterFlags(fs, "admin")
}

type ClusterConfig struct {
	// NodeID is a unique identifier for this node in the cluster.
	NodeID string `json:"node_id" yaml:"node_id"`

	// NodeIDPrefix is a node ID prefix, where murmur will generate the rest
	// of the node ID to ensure uniqueness.
	NodeIDPrefix string `json:"node_id_prefix" yaml:"node_id_prefix"`

	// Join contians a list of addresses of members in the cluster to join.
	Join []string `json:"join" yaml:"join"`

	AbortIfJoinFails bool `json:"abort_if_join_fails" yaml:"abort_if_join_fails"`
}

func (c *ClusterConfig) Validate() error {
	if c.NodeID != "" && c.NodeIDPrefix != "" {
		return fmt.Errorf("cannot specify both node ID and node ID prefix")
	}
	return nil
}

func (c *ClusterConfig) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(
		&c.NodeID,
		"cluster.node-id",
		c.NodeID,
		`
A unique identifier for the node in the cluster.

By default a random ID will be generated for the node.`,
	)
	fs.StringVar(
		&c.NodeIDPrefix,
		"cluster.node-id-prefix",
		c.NodeIDPrefix,
		`
A prefix for the node ID.

murmur will generate a unique random identifier for the node and append it to
the given prefix.

Such as you could use the node or pod name as a prefix, then add a unique
identifier to ensure the node ID is unique across restarts.`,
	)
	fs.StringSliceVar(
		&c.Join,
		"cluster.join",
		c.Join,
		`
A list of addresses of members in the cluster to join.

This may be either addresses of specific nodes, such as
'--cluster.join 10.26.104.14,10.26.104.75', or a domain that resolves to
the addresses of the nodes in the cluster (e.g. a Kubernetes headless
service), such as '--cluster.join murmur.prod-murmur-ns'.

Each address must include the host, and may optionally include a port. If no
port is given, the gossip port of this node is used.

Note each node propagates membership information to the other known nodes,
so the initial set of configured members only needs to be a subset of nodes.`,
	)
	fs.BoolVar(
		&c.AbortIfJoinFails,
		"cluster.abort-if-join-fails",
		c.AbortIfJoinFails,
		`
Whether the node should abort if it is configured with members to join
(excluding itself) but fails to join any of them.`,
	)
}

type Config struct {
	Gossip  gossip.Config  `json:"gossip" yaml:"gossip"`
	Cluster ClusterConfig  `json:"cluster" yaml:"cluster"`
	Admin   AdminConfig    `json:"admin" yaml:"admin"`
	RingKey ringkey.Config `json:"ring_key" yaml:"ring_key"`
	Log     log.Config     `json:"log" yaml:"log"`

	// GracePeriod is the duration to gracefully shutdown the node. During
	// the grace period the node announces it is leaving the cluster and
	// waits for active admin requests to complete.
	GracePeriod time.Duration `json:"grace_period" yaml:"grace_period"`
}

func Default() *Config {
	return &Config{
		Gossip: gossip.DefaultConfig(),
		Cluster: ClusterConfig{
			AbortIfJoinFails: true,
		},
		Admin: AdminConfig{
			BindAddr: ":7947",
		},
		Log: log.Config{
			Level: "info",
		},
		GracePeriod: time.Minute,
	}
}

func (c *Config) Validate() error {
	if err := c.Gossip.Validate(); err != nil {
		return fmt.Errorf("gossip: %w", err)
	}
	if err := c.Cluster.Validate(); err != nil {
		return fmt.Errorf("cluster: %w", err)
	}
	if err := c.Admin.Validate(); err != nil {
		return fmt.Errorf("admin: %w", err)
	}
	if err := c.RingKey.Validate(); err != nil {
		return fmt.Errorf("ring key: %w", err)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}

	if c.GracePeriod == 0 {
		return fmt.Errorf("missing grace period")
	}

	return nil
}

// RegisterFlags registers the flags for each field, using the current
// values as the flag defaults.
func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	c.Gossip.RegisterFlags(fs)

	c.Cluster.RegisterFlags(fs)

	c.Admin.RegisterFlags(fs)

	c.RingKey.RegisterFlags(fs)

	c.Log.RegisterFlags(fs)

	fs.DurationVar(
		&c.GracePeriod,
		"grace-period",
		c.GracePeriod,
		`
Maximum duration after a shutdown signal is received (SIGTERM or
SIGINT) to gracefully shutdown the node before terminating.
This includes announcing to the cluster the node is leaving and handling
in-progress admin requests.`,
	)
}
