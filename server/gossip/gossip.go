package gossip

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/andydunstall/murmur/pkg/backoff"
	"github.com/andydunstall/murmur/pkg/gossip"
	"github.com/andydunstall/murmur/pkg/log"
	"github.com/andydunstall/murmur/pkg/ringkey"
)

// AdminServiceGroup is the service group each agent publishes its admin
// address in, so admin requests can be forwarded to other members.
const AdminServiceGroup = "admin.murmur"

// GenerateMemberID returns a random member ID, which is a UUID without
// dashes.
func GenerateMemberID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// Gossip runs the local agents cluster membership.
//
// It wraps the gossip engine with the agent lifecycle (joining on startup
// and leaving on shutdown) and publishes the agents admin address so other
// members can forward admin requests.
type Gossip struct {
	gossiper *gossip.Gossip

	logger log.Logger
}

func NewGossip(
	localID string,
	conf *gossip.Config,
	streamLn net.Listener,
	packetLn net.PacketConn,
	key *ringkey.Key,
	logger log.Logger,
) *Gossip {
	gossiper := gossip.New(
		localID,
		conf,
		streamLn,
		packetLn,
		key,
		newLoggingWatcher(logger),
		logger,
	)
	return &Gossip{
		gossiper: gossiper,
		logger:   logger.WithSubsystem("gossip"),
	}
}

// LocalID returns the ID of the local member.
func (g *Gossip) LocalID() string {
	return g.gossiper.LocalID()
}

// PublishAdminAddr advertises the admin address of the local member.
func (g *Gossip) PublishAdminAddr(addr string) error {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid admin addr: %s: %w", addr, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 32)
	if err != nil {
		return fmt.Errorf("invalid admin addr: %s: %w", addr, err)
	}
	hostname, _ := os.Hostname()

	g.gossiper.PublishService(AdminServiceGroup, gossip.SysInfo{
		Hostname: hostname,
		IP:       host,
		Port:     uint32(port),
	}, true)
	return nil
}

// AdminAddr returns the advertised admin address of the member with the
// given ID.
//
// Departed members have no admin address.
func (g *Gossip) AdminAddr(memberID string) (string, bool) {
	if g.gossiper.IsDeparted(memberID) {
		return "", false
	}
	service, ok := g.gossiper.Service(AdminServiceGroup, memberID)
	if !ok {
		return "", false
	}
	return net.JoinHostPort(
		service.SysInfo.IP,
		strconv.FormatUint(uint64(service.SysInfo.Port), 10),
	), true
}

// JoinOnStartup attempts to join an existing cluster by syncronising with the
// members at the given addresses.
//
// This will retry 5 times (with backoff).
func (g *Gossip) JoinOnStartup(ctx context.Context, addrs []string) ([]string, error) {
	backoff := backoff.New(5, time.Second, time.Minute)
	var lastErr error
	for {
		if !backoff.Wait(ctx) {
			return nil, lastErr
		}

		memberIDs, err := g.gossiper.Join(ctx, addrs)
		if err == nil {
			return memberIDs, nil
		}
		g.logger.Warn("failed to join cluster", zap.Error(err))
		lastErr = err
	}
}

// Leave notifies the known members that this member is leaving the cluster.
//
// Returns an error if no known members could be notified.
func (g *Gossip) Leave(ctx context.Context) error {
	return g.gossiper.Leave(ctx)
}

// Depart marks the member with the given ID as permanently departed.
func (g *Gossip) Depart(memberID string) error {
	return g.gossiper.Depart(memberID)
}

func (g *Gossip) Members() []gossip.MemberState {
	return g.gossiper.Members()
}

func (g *Gossip) Member(memberID string) (gossip.MemberState, bool) {
	return g.gossiper.Member(memberID)
}

// Rumors returns the known rumors of the given kind. If key is not empty
// only rumors with that key are returned.
func (g *Gossip) Rumors(kind gossip.RumorKind, key string) []gossip.Rumor {
	rumors := g.gossiper.Rumors(kind)
	if key == "" {
		return rumors
	}

	var filtered []gossip.Rumor
	for _, r := range rumors {
		if r.Key() == key {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

func (g *Gossip) Metrics() *gossip.Metrics {
	return g.gossiper.Metrics()
}

func (g *Gossip) Close() error {
	return g.gossiper.Close()
}
