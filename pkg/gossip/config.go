package gossip

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

type Config struct {
	// BindAddr is the address to bind to listen for gossip traffic.
	BindAddr string `json:"bind_addr" yaml:"bind_addr"`

	// AdvertiseAddr is the address to advertise to other members.
	AdvertiseAddr string `json:"advertise_addr" yaml:"advertise_addr"`

	// ProtocolPeriod is the duration of each probe round.
	ProtocolPeriod time.Duration `json:"protocol_period" yaml:"protocol_period"`

	// PingTimeout is the duration to wait for a direct ack before probing
	// indirectly.
	PingTimeout time.Duration `json:"ping_timeout" yaml:"ping_timeout"`

	// IndirectProbes is the number of members asked to probe a target that
	// didn't respond to a direct ping.
	IndirectProbes int `json:"indirect_probes" yaml:"indirect_probes"`

	// SuspicionTimeout is the duration a member may be suspect before it is
	// confirmed.
	SuspicionTimeout time.Duration `json:"suspicion_timeout" yaml:"suspicion_timeout"`

	// DepartureTimeout is the duration a member may be confirmed before it
	// is departed.
	DepartureTimeout time.Duration `json:"departure_timeout" yaml:"departure_timeout"`

	// GossipInterval is the rate to push rumors to other members.
	GossipInterval time.Duration `json:"gossip_interval" yaml:"gossip_interval"`

	// Fanout is the number of members to push rumors to each gossip round.
	Fanout int `json:"fanout" yaml:"fanout"`

	// MaxGossipRumors is the maximum number of rumors of each kind sent
	// in a gossip round.
	MaxGossipRumors int `json:"max_gossip_rumors" yaml:"max_gossip_rumors"`

	// MembershipExpiryInterval is the rate to check for expired suspect and
	// confirmed members.
	MembershipExpiryInterval time.Duration `json:"membership_expiry_interval" yaml:"membership_expiry_interval"`

	// RumorExpiryInterval is the rate to check for expired rumors.
	RumorExpiryInterval time.Duration `json:"rumor_expiry_interval" yaml:"rumor_expiry_interval"`

	// RumorRetention is the duration to keep departed members and their
	// rumors before removing them.
	RumorRetention time.Duration `json:"rumor_retention" yaml:"rumor_retention"`

	// MaxPacketSize is the maximum size of any packet sent.
	MaxPacketSize int `json:"max_packet_size" yaml:"max_packet_size"`

	// Compress enables compressing outbound messages.
	Compress bool `json:"compress" yaml:"compress"`
}

func DefaultConfig() Config {
	return Config{
		BindAddr:                 ":7946",
		ProtocolPeriod:           time.Second,
		PingTimeout:              300 * time.Millisecond,
		IndirectProbes:           5,
		SuspicionTimeout:         10 * time.Second,
		DepartureTimeout:         72 * time.Hour,
		GossipInterval:           time.Second,
		Fanout:                   5,
		MaxGossipRumors:          50,
		MembershipExpiryInterval: time.Second,
		RumorExpiryInterval:      time.Second,
		RumorRetention:           time.Hour,
		MaxPacketSize:            1400,
	}
}

func (c *Config) Validate() error {
	if c.BindAddr == "" {
		return fmt.Errorf("missing bind addr")
	}
	if c.ProtocolPeriod == 0 {
		return fmt.Errorf("missing protocol period")
	}
	if c.PingTimeout == 0 {
		return fmt.Errorf("missing ping timeout")
	}
	if c.PingTimeout >= c.ProtocolPeriod {
		return fmt.Errorf("ping timeout must be less than protocol period")
	}
	if c.IndirectProbes < 0 {
		return fmt.Errorf("indirect probes cannot be negative")
	}
	if c.SuspicionTimeout == 0 {
		return fmt.Errorf("missing suspicion timeout")
	}
	if c.DepartureTimeout == 0 {
		return fmt.Errorf("missing departure timeout")
	}
	if c.GossipInterval == 0 {
		return fmt.Errorf("missing gossip interval")
	}
	if c.Fanout <= 0 {
		return fmt.Errorf("missing fanout")
	}
	if c.MaxGossipRumors <= 0 {
		return fmt.Errorf("missing max gossip rumors")
	}
	if c.MembershipExpiryInterval == 0 {
		return fmt.Errorf("missing membership expiry interval")
	}
	if c.RumorExpiryInterval == 0 {
		return fmt.Errorf("missing rumor expiry interval")
	}
	if c.RumorRetention == 0 {
		return fmt.Errorf("missing rumor retention")
	}
	if c.MaxPacketSize == 0 {
		return fmt.Errorf("missing max packet size")
	}
	return nil
}

func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(
		&c.BindAddr,
		"gossip.bind-addr",
		c.BindAddr,
		`
The host/port to listen for gossip traffic. Both UDP and TCP listen on the
same port.

If the host is unspecified it defaults to all listeners, such as
a bind address ':7946' will listen on '0.0.0.0:7946'`,
	)

	fs.StringVar(
		&c.AdvertiseAddr,
		"gossip.advertise-addr",
		c.AdvertiseAddr,
		`
Gossip address to advertise to other members in the cluster. This is the
address other members will use to probe and gossip with the member.

By default, if the bind address includes an IP to bind to that will be used.
If the bind address does not include an IP (such as ':7946') the members
private IP will be used.`,
	)

	fs.DurationVar(
		&c.ProtocolPeriod,
		"gossip.protocol-period",
		c.ProtocolPeriod,
		`
The duration of each failure detection round. Each round probes one member.`,
	)

	fs.DurationVar(
		&c.PingTimeout,
		"gossip.ping-timeout",
		c.PingTimeout,
		`
The duration to wait for an ack to a direct ping before asking other members
to probe the target. Must be less than the protocol period.`,
	)

	fs.IntVar(
		&c.IndirectProbes,
		"gossip.indirect-probes",
		c.IndirectProbes,
		`
The number of members asked to probe a target that didn't respond to a
direct ping.`,
	)

	fs.DurationVar(
		&c.SuspicionTimeout,
		"gossip.suspicion-timeout",
		c.SuspicionTimeout,
		`
The duration a member may be suspect before it is marked confirmed.`,
	)

	fs.DurationVar(
		&c.DepartureTimeout,
		"gossip.departure-timeout",
		c.DepartureTimeout,
		`
The duration a member may be confirmed before it is marked departed.`,
	)

	fs.DurationVar(
		&c.GossipInterval,
		"gossip.interval",
		c.GossipInterval,
		`
The interval to push rumors to other members.`,
	)

	fs.IntVar(
		&c.Fanout,
		"gossip.fanout",
		c.Fanout,
		`
The number of members to push rumors to each gossip round.`,
	)

	fs.IntVar(
		&c.MaxGossipRumors,
		"gossip.max-rumors",
		c.MaxGossipRumors,
		`
The maximum number of rumors of each kind sent in a gossip round.`,
	)

	fs.DurationVar(
		&c.MembershipExpiryInterval,
		"gossip.membership-expiry-interval",
		c.MembershipExpiryInterval,
		`
The interval to check for suspect and confirmed members that have timed out.`,
	)

	fs.DurationVar(
		&c.RumorExpiryInterval,
		"gossip.rumor-expiry-interval",
		c.RumorExpiryInterval,
		`
The interval to check for expired rumors.`,
	)

	fs.DurationVar(
		&c.RumorRetention,
		"gossip.rumor-retention",
		c.RumorRetention,
		`
The duration to keep departed members, their rumors and departure rumors
before removing them.`,
	)

	fs.IntVar(
		&c.MaxPacketSize,
		"gossip.max-packet-size",
		c.MaxPacketSize,
		`
The maximum size of any packet sent.

Depending on your networks MTU you may be able to increase to include more data
in each packet.`,
	)

	fs.BoolVar(
		&c.Compress,
		"gossip.compress",
		c.Compress,
		`
Whether to compress outbound messages with LZ4.`,
	)
}
