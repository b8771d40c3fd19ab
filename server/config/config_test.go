package config

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andydunstall/murmur/pkg/config"
	"github.com/andydunstall/murmur/pkg/gossip"
	"github.com/andydunstall/murmur/pkg/log"
	"github.com/andydunstall/murmur/pkg/ringkey"
)

// Tests the default configuration is valid (not including node ID).
func TestConfig_Default(t *testing.T) {
	conf := Default()
	conf.Cluster.NodeID = "my-node"
	assert.NoError(t, conf.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		Name   string
		Modify func(conf *Config)
	}{
		{
			Name: "node id and prefix",
			Modify: func(conf *Config) {
				conf.Cluster.NodeID = "my-node"
				conf.Cluster.NodeIDPrefix = "my-prefix"
			},
		},
		{
			Name: "missing admin bind addr",
			Modify: func(conf *Config) {
				conf.Admin.BindAddr = ""
			},
		},
		{
			Name: "missing tls key",
			Modify: func(conf *Config) {
				conf.Admin.TLS.Cert = "/murmur/cert.pem"
			},
		},
		{
			Name: "ring key path and key",
			Modify: func(conf *Config) {
				conf.RingKey.Path = "/murmur/ring.key"
				conf.RingKey.Key = "SYM-SEC-1\nmy-ring\n\nc2VjcmV0"
			},
		},
		{
			Name: "ping timeout exceeds protocol period",
			Modify: func(conf *Config) {
				conf.Gossip.PingTimeout = conf.Gossip.ProtocolPeriod
			},
		},
		{
			Name: "invalid log level",
			Modify: func(conf *Config) {
				conf.Log.Level = "trace"
			},
		},
		{
			Name: "missing grace period",
			Modify: func(conf *Config) {
				conf.GracePeriod = 0
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.Name, func(t *testing.T) {
			conf := Default()
			tt.Modify(conf)
			assert.Error(t, conf.Validate())
		})
	}
}

// Tests loading the agent configuration from YAML.
func TestConfig_LoadYAML(t *testing.T) {
	yaml := `
gossip:
  bind_addr: 10.15.104.25:7946
  advertise_addr: 1.2.3.4:7946
  protocol_period: 2s
  ping_timeout: 500ms
  indirect_probes: 3
  suspicion_timeout: 20s
  departure_timeout: 24h
  gossip_interval: 500ms
  fanout: 4
  max_gossip_rumors: 20
  membership_expiry_interval: 2s
  rumor_expiry_interval: 5s
  rumor_retention: 2h
  max_packet_size: 1200
  compress: true

cluster:
  node_id: "my-node"
  join:
    - 10.26.104.12:7946
    - 10.26.104.73:7946
  abort_if_join_fails: true

admin:
  bind_addr: 10.15.104.25:7947
  advertise_addr: 1.2.3.4:7947
  tls:
    cert: /murmur/cert.pem
    key: /murmur/key.pem

ring_key:
  path: /murmur/ring.key

log:
  level: info
  subsystems:
    - foo
    - bar

grace_period: 2m
`

	f, err := os.CreateTemp("", "murmur")
	require.NoError(t, err)
	defer os.Remove(f.Name())

	_, err = f.WriteString(yaml)
	require.NoError(t, err)

	var loadedConf Config
	require.NoError(t, config.Load(f.Name(), &loadedConf, false))

	expectedConf := Config{
		Gossip: gossip.Config{
			BindAddr:                 "10.15.104.25:7946",
			AdvertiseAddr:            "1.2.3.4:7946",
			ProtocolPeriod:           time.Second * 2,
			PingTimeout:              time.Millisecond * 500,
			IndirectProbes:           3,
			SuspicionTimeout:         time.Second * 20,
			DepartureTimeout:         time.Hour * 24,
			GossipInterval:           time.Millisecond * 500,
			Fanout:                   4,
			MaxGossipRumors:          20,
			MembershipExpiryInterval: time.Second * 2,
			RumorExpiryInterval:      time.Second * 5,
			RumorRetention:           time.Hour * 2,
			MaxPacketSize:            1200,
			Compress:                 true,
		},
		Cluster: ClusterConfig{
			NodeID: "my-node",
			Join: []string{
				"10.26.104.12:7946",
				"10.26.104.73:7946",
			},
			AbortIfJoinFails: true,
		},
		Admin: AdminConfig{
			BindAddr:      "10.15.104.25:7947",
			AdvertiseAddr: "1.2.3.4:7947",
			TLS: TLSConfig{
				Cert: "/murmur/cert.pem",
				Key:  "/murmur/key.pem",
			},
		},
		RingKey: ringkey.Config{
			Path: "/murmur/ring.key",
		},
		Log: log.Config{
			Level: "info",
			Subsystems: []string{
				"foo",
				"bar",
			},
		},
		GracePeriod: 2 * time.Minute,
	}
	assert.Equal(t, expectedConf, loadedConf)
}

// Tests loading the agent configuration from command line flags.
func TestConfig_LoadFlags(t *testing.T) {
	args := []string{
		"--gossip.bind-addr", "10.15.104.25:7946",
		"--gossip.advertise-addr", "1.2.3.4:7946",
		"--gossip.protocol-period", "2s",
		"--gossip.fanout", "4",
		"--cluster.node-id", "my-node",
		"--cluster.join", "10.26.104.12:7946,10.26.104.73:7946",
		"--cluster.abort-if-join-fails=false",
		"--admin.bind-addr", "10.15.104.25:7947",
		"--admin.tls.cert", "/murmur/cert.pem",
		"--admin.tls.key", "/murmur/key.pem",
		"--ring-key.path", "/murmur/ring.key",
		"--log.level", "debug",
		"--log.subsystems", "foo,bar",
		"--grace-period", "2m",
	}

	conf := Default()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	conf.RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))

	expectedGossip := gossip.DefaultConfig()
	expectedGossip.BindAddr = "10.15.104.25:7946"
	expectedGossip.AdvertiseAddr = "1.2.3.4:7946"
	expectedGossip.ProtocolPeriod = time.Second * 2
	expectedGossip.Fanout = 4

	expectedConf := &Config{
		Gossip: expectedGossip,
		Cluster: ClusterConfig{
			NodeID: "my-node",
			Join: []string{
				"10.26.104.12:7946",
				"10.26.104.73:7946",
			},
			AbortIfJoinFails: false,
		},
		Admin: AdminConfig{
			BindAddr: "10.15.104.25:7947",
			TLS: TLSConfig{
				Cert: "/murmur/cert.pem",
				Key:  "/murmur/key.pem",
			},
		},
		RingKey: ringkey.Config{
			Path: "/murmur/ring.key",
		},
		Log: log.Config{
			Level: "debug",
			Subsystems: []string{
				"foo",
				"bar",
			},
		},
		GracePeriod: 2 * time.Minute,
	}
	assert.Equal(t, expectedConf, conf)
}
