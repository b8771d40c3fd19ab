package gossip

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andydunstall/murmur/pkg/log"
)

// testIdleGossip returns a gossip instance whose background tasks never run,
// so state only changes from the messages the test handles.
func testIdleGossip(t *testing.T, localID string) *Gossip {
	t.Helper()

	streamLn, packetLn := testListen(t)
	config := testConfig()
	config.AdvertiseAddr = streamLn.Addr().String()
	config.ProtocolPeriod = time.Hour
	config.PingTimeout = time.Minute
	config.GossipInterval = time.Hour
	config.MembershipExpiryInterval = time.Hour
	config.RumorExpiryInterval = time.Hour

	g := New(localID, config, streamLn, packetLn, nil, nil, log.NewNopLogger())
	t.Cleanup(func() { g.Close() })
	return g
}

func remoteRecord(id string, health Health) memberRecord {
	return memberRecord{
		ID:     id,
		Addr:   "10.26.104.2:7946",
		Health: uint8(health),
	}
}

// addGroupMember adds a remote member with the given health and a service
// in the group.
func addGroupMember(g *Gossip, group string, id string, health Health) {
	g.handleMessage(&rumors{
		From:       remoteRecord(id, health),
		Membership: []memberRecord{remoteRecord(id, health)},
		Services: []Service{
			{MemberID: id, ServiceGroup: group},
		},
	})
}

func TestGossip_ApplyRumors(t *testing.T) {
	t.Run("refute", func(t *testing.T) {
		g := testIdleGossip(t, "node-1")

		g.handleMessage(&rumors{
			From: remoteRecord("node-2", HealthAlive),
			Membership: []memberRecord{
				{ID: "node-1", Incarnation: 4, Health: uint8(HealthSuspect)},
			},
		})

		local := g.LocalMember()
		assert.Equal(t, uint64(5), local.Incarnation)
		assert.Equal(t, HealthAlive, local.Health)
	})

	t.Run("departed member never revived", func(t *testing.T) {
		g := testIdleGossip(t, "node-1")

		g.handleMessage(&rumors{
			From:       remoteRecord("node-3", HealthAlive),
			Departures: []Departure{{MemberID: "node-2"}},
		})
		assert.True(t, g.IsDeparted("node-2"))

		g.handleMessage(&rumors{
			From: remoteRecord("node-3", HealthAlive),
			Membership: []memberRecord{
				{ID: "node-2", Incarnation: 10, Health: uint8(HealthAlive)},
			},
		})

		state, ok := g.Member("node-2")
		require.True(t, ok)
		assert.Equal(t, HealthDeparted, state.Health)
		assert.Equal(t, uint64(10), state.Incarnation)
	})

	t.Run("local departure", func(t *testing.T) {
		g := testIdleGossip(t, "node-1")

		g.handleMessage(&rumors{
			From:       remoteRecord("node-2", HealthAlive),
			Departures: []Departure{{MemberID: "node-1"}},
		})
		assert.Equal(t, HealthDeparted, g.LocalMember().Health)

		// Once departed the local member doesn't refute.
		g.handleMessage(&rumors{
			From: remoteRecord("node-2", HealthAlive),
			Membership: []memberRecord{
				{ID: "node-1", Incarnation: 5, Health: uint8(HealthSuspect)},
			},
		})
		assert.Equal(t, HealthDeparted, g.LocalMember().Health)
	})

	t.Run("invalid membership", func(t *testing.T) {
		g := testIdleGossip(t, "node-1")

		g.handleMessage(&rumors{
			From: remoteRecord("node-2", HealthAlive),
			Membership: []memberRecord{
				{ID: "node-3", Health: 12},
				{ID: "", Health: uint8(HealthAlive)},
			},
		})

		assert.Len(t, g.Members(), 2)
	})

	t.Run("join", func(t *testing.T) {
		g := testIdleGossip(t, "node-1")
		g.PublishService("redis.default", SysInfo{Hostname: "node-1"}, false)
		g.PublishServiceFile("redis.default", "cert.pem", 1, []byte("cert"), false)

		reply := g.handleJoin(&join{
			From: remoteRecord("node-2", HealthAlive),
		})

		assert.Equal(t, "node-1", reply.From.ID)
		assert.Len(t, reply.Membership, 2)
		assert.Len(t, reply.Services, 1)
		assert.Len(t, reply.ServiceFiles, 1)

		_, ok := g.Member("node-2")
		assert.True(t, ok)
	})
}

func TestGossip_Publish(t *testing.T) {
	t.Run("service", func(t *testing.T) {
		g := testIdleGossip(t, "node-1")

		service := g.PublishService("redis.default", SysInfo{Hostname: "node-1"}, false)
		assert.Equal(t, uint64(0), service.Incarnation)

		service = g.PublishService("redis.default", SysInfo{Hostname: "node-1"}, true)
		assert.Equal(t, uint64(1), service.Incarnation)

		stored, ok := g.Service("redis.default", "node-1")
		require.True(t, ok)
		assert.Equal(t, service, stored)
		assert.Equal(t, []string{"redis.default"}, g.ServiceGroups())
	})

	t.Run("service config", func(t *testing.T) {
		g := testIdleGossip(t, "node-1")

		first := g.PublishServiceConfig("redis.default", 1, []byte("a"), false)
		second := g.PublishServiceConfig("redis.default", 1, []byte("b"), false)
		assert.Greater(t, uint64(second.Clock), uint64(first.Clock))

		stored, ok := g.ServiceConfig("redis.default")
		require.True(t, ok)
		assert.Equal(t, []byte("b"), stored.Config)
	})

	t.Run("service config witnesses clock", func(t *testing.T) {
		g := testIdleGossip(t, "node-1")

		g.handleMessage(&rumors{
			From: remoteRecord("node-2", HealthAlive),
			ServiceConfigs: []ServiceConfig{
				{ServiceGroup: "redis.default", Incarnation: 1, Clock: 20, Config: []byte("remote")},
			},
		})

		published := g.PublishServiceConfig("redis.default", 1, []byte("local"), false)
		assert.Greater(t, uint64(published.Clock), uint64(20))

		stored, ok := g.ServiceConfig("redis.default")
		require.True(t, ok)
		assert.Equal(t, []byte("local"), stored.Config)
	})

	t.Run("service file", func(t *testing.T) {
		g := testIdleGossip(t, "node-1")

		g.PublishServiceFile("redis.default", "b.pem", 1, []byte("b"), false)
		g.PublishServiceFile("redis.default", "a.pem", 1, []byte("a"), true)

		files := g.ServiceFiles("redis.default")
		require.Len(t, files, 2)
		assert.Equal(t, "a.pem", files[0].Filename)
		assert.True(t, files[0].Encrypted)

		file, ok := g.ServiceFile("redis.default", "b.pem")
		require.True(t, ok)
		assert.Equal(t, []byte("b"), file.Body)
	})

	t.Run("depart", func(t *testing.T) {
		g := testIdleGossip(t, "node-1")

		assert.ErrorIs(t, g.Depart(""), ErrMissingMemberID)

		require.NoError(t, g.Depart("node-2"))
		assert.True(t, g.IsDeparted("node-2"))

		departure, ok := g.Departure("node-2")
		require.True(t, ok)
		assert.Equal(t, "node-2", departure.MemberID)
	})
}

func TestGossip_Rumors(t *testing.T) {
	g := testIdleGossip(t, "node-1")

	g.PublishService("redis.default", SysInfo{}, false)
	g.handleMessage(&rumors{
		From: remoteRecord("node-2", HealthSuspect),
	})

	memberships := g.Rumors(RumorKindMembership)
	require.Len(t, memberships, 2)
	assert.Equal(t, "node-1", memberships[0].ID())
	assert.Equal(t, "node-2", memberships[1].ID())

	r, ok := g.Rumor(RumorKindMembership, "node-2", "node-2")
	require.True(t, ok)
	assert.Equal(t, HealthSuspect, r.(Membership).Health)

	_, ok = g.Rumor(RumorKindMembership, "node-1", "node-2")
	assert.False(t, ok)

	r, ok = g.Rumor(RumorKindService, "redis.default", "node-1")
	require.True(t, ok)
	assert.Equal(t, RumorKindService, r.Kind())

	assert.Len(t, g.Rumors(RumorKindService), 1)
	assert.Empty(t, g.Rumors(RumorKindElection))
}

func TestGossip_Election(t *testing.T) {
	const group = "redis.default"

	t.Run("start", func(t *testing.T) {
		g := testIdleGossip(t, "node-1")
		g.PublishService(group, SysInfo{}, true)

		election := g.StartElection(group, 5, 0)
		assert.Equal(t, "node-1", election.MemberID)
		assert.Equal(t, ElectionRunning, election.Status)
		assert.Equal(t, []string{"node-1"}, election.Votes)

		stored, ok := g.Election(group)
		require.True(t, ok)
		assert.True(t, election.Equal(stored))
	})

	t.Run("no quorum", func(t *testing.T) {
		g := testIdleGossip(t, "node-1")
		g.PublishService(group, SysInfo{}, true)
		addGroupMember(g, group, "node-2", HealthSuspect)
		addGroupMember(g, group, "node-3", HealthConfirmed)

		election := g.StartElection(group, 5, 0)
		assert.Equal(t, ElectionNoQuorum, election.Status)
	})

	t.Run("vote for more suitable candidate", func(t *testing.T) {
		g := testIdleGossip(t, "node-1")
		g.PublishService(group, SysInfo{}, true)
		addGroupMember(g, group, "node-2", HealthAlive)
		g.StartElection(group, 5, 0)

		g.handleMessage(&rumors{
			From: remoteRecord("node-2", HealthAlive),
			Elections: []Election{
				newElection("node-2", group, 10, 0),
			},
		})

		election, ok := g.Election(group)
		require.True(t, ok)
		assert.Equal(t, "node-2", election.MemberID)
		assert.Equal(t, []string{"node-1", "node-2"}, election.Votes)
		assert.Equal(t, ElectionRunning, election.Status)
	})

	t.Run("finish with every vote", func(t *testing.T) {
		g := testIdleGossip(t, "node-1")
		g.PublishService(group, SysInfo{}, true)
		addGroupMember(g, group, "node-2", HealthAlive)
		g.StartElection(group, 10, 0)

		// Node 2 votes for the local member.
		election := newElection("node-1", group, 10, 0)
		election.Votes = []string{"node-2", "node-1"}
		g.handleMessage(&rumors{
			From:      remoteRecord("node-2", HealthAlive),
			Elections: []Election{election},
		})

		stored, ok := g.Election(group)
		require.True(t, ok)
		assert.Equal(t, "node-1", stored.MemberID)
		assert.Equal(t, ElectionFinished, stored.Status)
		assert.Equal(t, []string{"node-1", "node-2"}, stored.Votes)
	})

	t.Run("join election of unknown group", func(t *testing.T) {
		g := testIdleGossip(t, "node-1")
		g.PublishService(group, SysInfo{}, true)
		addGroupMember(g, group, "node-2", HealthAlive)

		g.handleMessage(&rumors{
			From: remoteRecord("node-2", HealthAlive),
			Elections: []Election{
				newElection("node-2", group, 1, 0),
			},
		})

		// The local member starts its own election at suitability zero,
		// then votes for the remote candidate.
		election, ok := g.Election(group)
		require.True(t, ok)
		assert.Equal(t, "node-2", election.MemberID)
		assert.Equal(t, []string{"node-1", "node-2"}, election.Votes)
	})

	t.Run("not a group member", func(t *testing.T) {
		g := testIdleGossip(t, "node-1")
		addGroupMember(g, group, "node-2", HealthAlive)

		g.handleMessage(&rumors{
			From: remoteRecord("node-2", HealthAlive),
			Elections: []Election{
				newElection("node-2", group, 1, 0),
			},
		})

		election, ok := g.Election(group)
		require.True(t, ok)
		assert.Equal(t, []string{"node-2"}, election.Votes)
	})

	t.Run("restart when leader confirmed", func(t *testing.T) {
		g := testIdleGossip(t, "node-1")
		g.PublishService(group, SysInfo{}, true)
		addGroupMember(g, group, "node-2", HealthAlive)

		finished := newElection("node-2", group, 10, 0)
		finished.Status = ElectionFinished
		finished.Votes = []string{"node-1", "node-2"}
		g.handleMessage(&rumors{
			From:      remoteRecord("node-2", HealthAlive),
			Elections: []Election{finished},
		})

		g.RestartElections()
		election, ok := g.Election(group)
		require.True(t, ok)
		assert.Equal(t, "node-2", election.MemberID)

		g.handleMessage(&rumors{
			From: remoteRecord("node-3", HealthAlive),
			Membership: []memberRecord{
				remoteRecord("node-2", HealthConfirmed),
			},
		})
		g.RestartElections()

		election, ok = g.Election(group)
		require.True(t, ok)
		assert.Equal(t, "node-1", election.MemberID)
		assert.Equal(t, uint64(1), election.Term)
		assert.False(t, election.Finished())
	})
}

func TestGossip_ServiceQuorumLoss(t *testing.T) {
	const group = "redis.default"

	g := testIdleGossip(t, "node-1")
	g.PublishService(group, SysInfo{}, true)
	addGroupMember(g, group, "node-2", HealthAlive)
	addGroupMember(g, group, "node-3", HealthAlive)
	g.handleMessage(&rumors{
		From: remoteRecord("node-5", HealthAlive),
		Membership: []memberRecord{
			remoteRecord("node-2", HealthConfirmed),
			remoteRecord("node-3", HealthConfirmed),
		},
	})

	// A new member joining a group without quorum replaces the confirmed
	// member with the lowest ID.
	addGroupMember(g, group, "node-4", HealthAlive)

	health, ok := g.MemberHealth("node-2")
	require.True(t, ok)
	assert.Equal(t, HealthDeparted, health)

	health, ok = g.MemberHealth("node-3")
	require.True(t, ok)
	assert.Equal(t, HealthConfirmed, health)
}

func TestGossip_Close(t *testing.T) {
	g := testIdleGossip(t, "node-1")

	assert.NoError(t, g.Close())
	// Closing twice is a no-op.
	assert.NoError(t, g.Close())
}

func testListen(t *testing.T) (net.Listener, net.PacketConn) {
	streamLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	packetLn, err := net.ListenUDP("udp", &net.UDPAddr{
		IP:   streamLn.Addr().(*net.TCPAddr).IP,
		Port: streamLn.Addr().(*net.TCPAddr).Port,
	})
	require.NoError(t, err)

	return streamLn, packetLn
}

func testConfig() *Config {
	return &Config{
		BindAddr:                 "127.0.0.1:0",
		ProtocolPeriod:           time.Millisecond * 100,
		PingTimeout:              time.Millisecond * 30,
		IndirectProbes:           2,
		SuspicionTimeout:         time.Millisecond * 300,
		DepartureTimeout:         time.Hour,
		GossipInterval:           time.Millisecond * 20,
		Fanout:                   3,
		MaxGossipRumors:          50,
		MembershipExpiryInterval: time.Millisecond * 20,
		RumorExpiryInterval:      time.Millisecond * 20,
		RumorRetention:           time.Hour,
		MaxPacketSize:            1400,
	}
}
