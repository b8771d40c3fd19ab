package gossip

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andydunstall/murmur/pkg/log"
)

type sentPacket struct {
	Msg  message
	Addr string
}

// fakePacketSender records sent packets and calls onSend for each.
type fakePacketSender struct {
	sent []sentPacket
	mu   sync.Mutex

	onSend func(msg message, addr string)
}

func (s *fakePacketSender) SendPacket(msg message, addr string) error {
	s.mu.Lock()
	s.sent = append(s.sent, sentPacket{Msg: msg, Addr: addr})
	onSend := s.onSend
	s.mu.Unlock()

	if onSend != nil {
		onSend(msg, addr)
	}
	return nil
}

func (s *fakePacketSender) Sent() []sentPacket {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]sentPacket(nil), s.sent...)
}

var _ packetSender = &fakePacketSender{}

func testProberConfig() *Config {
	config := DefaultConfig()
	config.ProtocolPeriod = time.Millisecond * 100
	config.PingTimeout = time.Millisecond * 20
	config.IndirectProbes = 2
	return &config
}

func testProber(t *testing.T, sender packetSender) (*prober, *memberList) {
	members, _, _ := testMemberList("local")
	shutdownCh := make(chan struct{})
	t.Cleanup(func() { close(shutdownCh) })

	p := newProber(
		members,
		sender,
		newRTTTracker(rttSampleSize),
		testProberConfig(),
		shutdownCh,
		newMetrics(),
		log.NewNopLogger(),
	)
	return p, members
}

func TestProber_Probe(t *testing.T) {
	t.Run("ack", func(t *testing.T) {
		sender := &fakePacketSender{}
		p, members := testProber(t, sender)
		sender.onSend = func(msg message, _ string) {
			if ping, ok := msg.(*ping); ok {
				p.HandleAck(&ack{Seq: ping.Seq})
			}
		}

		_, err := members.Apply(Member{ID: "member-1", Addr: "10.26.104.2:7946"}, HealthAlive)
		require.NoError(t, err)

		p.Round()

		health, _ := members.Health("member-1")
		assert.Equal(t, HealthAlive, health)

		sent := sender.Sent()
		require.Len(t, sent, 1)
		assert.Equal(t, "10.26.104.2:7946", sent[0].Addr)
		assert.IsType(t, &ping{}, sent[0].Msg)
	})

	t.Run("indirect ack", func(t *testing.T) {
		sender := &fakePacketSender{}
		p, members := testProber(t, sender)
		sender.onSend = func(msg message, _ string) {
			// Only relays can reach the target.
			if req, ok := msg.(*pingReq); ok {
				p.HandleAck(&ack{
					Seq:       req.Seq,
					From:      req.Target,
					ForwardTo: &req.From,
				})
			}
		}

		_, err := members.Apply(Member{ID: "member-1", Addr: "10.26.104.2:7946"}, HealthAlive)
		require.NoError(t, err)
		_, err = members.Apply(Member{ID: "member-2", Addr: "10.26.104.3:7946"}, HealthAlive)
		require.NoError(t, err)

		target, ok := p.nextTarget()
		require.True(t, ok)
		p.probe(target)

		health, _ := members.Health(target.ID)
		assert.Equal(t, HealthAlive, health)

		var pingReqs int
		for _, packet := range sender.Sent() {
			if req, ok := packet.Msg.(*pingReq); ok {
				pingReqs++
				assert.Equal(t, target.ID, req.Target.ID)
				assert.Equal(t, "local", req.From.ID)
			}
		}
		assert.Equal(t, 1, pingReqs)
	})

	t.Run("no ack", func(t *testing.T) {
		sender := &fakePacketSender{}
		p, members := testProber(t, sender)

		for i, id := range []string{"member-1", "member-2", "member-3", "member-4"} {
			_, err := members.Apply(Member{
				ID:          id,
				Addr:        fmt.Sprintf("10.26.104.%d:7946", i+2),
				Incarnation: 2,
			}, HealthAlive)
			require.NoError(t, err)
		}

		target, ok := p.nextTarget()
		require.True(t, ok)
		p.probe(target)

		state, _ := members.Member(target.ID)
		assert.Equal(t, HealthSuspect, state.Health)
		// Suspected at the incarnation known when the probe started.
		assert.Equal(t, uint64(2), state.Incarnation)

		var pingReqs int
		for _, packet := range sender.Sent() {
			if _, ok := packet.Msg.(*pingReq); ok {
				pingReqs++
				assert.NotEqual(t, target.Addr, packet.Addr)
			}
		}
		assert.Equal(t, 2, pingReqs)
	})

	t.Run("refuted during probe", func(t *testing.T) {
		sender := &fakePacketSender{}
		p, members := testProber(t, sender)

		_, err := members.Apply(Member{ID: "member-1", Addr: "10.26.104.2:7946"}, HealthAlive)
		require.NoError(t, err)

		sender.onSend = func(msg message, _ string) {
			if _, ok := msg.(*ping); ok {
				_, err := members.Apply(Member{
					ID:          "member-1",
					Addr:        "10.26.104.2:7946",
					Incarnation: 1,
				}, HealthAlive)
				assert.NoError(t, err)
			}
		}

		p.Round()

		state, _ := members.Member("member-1")
		assert.Equal(t, HealthAlive, state.Health)
		assert.Equal(t, uint64(1), state.Incarnation)
	})

	t.Run("no members", func(t *testing.T) {
		sender := &fakePacketSender{}
		p, _ := testProber(t, sender)

		p.Round()
		assert.Empty(t, sender.Sent())
	})
}

func TestProber_HandlePing(t *testing.T) {
	sender := &fakePacketSender{}
	p, _ := testProber(t, sender)

	forwardTo := memberRecord{ID: "member-2", Addr: "10.26.104.3:7946"}
	p.HandlePing(&ping{
		Seq:       12,
		From:      memberRecord{ID: "member-1", Addr: "10.26.104.2:7946"},
		ForwardTo: &forwardTo,
	})

	sent := sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "10.26.104.2:7946", sent[0].Addr)

	reply, ok := sent[0].Msg.(*ack)
	require.True(t, ok)
	assert.Equal(t, uint64(12), reply.Seq)
	assert.Equal(t, "local", reply.From.ID)
	assert.Equal(t, &forwardTo, reply.ForwardTo)
}

func TestProber_TruncatedPiggyback(t *testing.T) {
	sender := &fakePacketSender{}
	p, members := testProber(t, sender)
	// Drop half the piggybacked membership, as when it exceeds the max
	// packet size.
	sender.onSend = func(msg message, _ string) {
		truncatePiggyback(msg)
	}

	for _, id := range []string{"member-1", "member-2", "member-3"} {
		_, err := members.Apply(Member{ID: id, Addr: id + ":7946"}, HealthAlive)
		require.NoError(t, err)
	}

	p.HandlePing(&ping{
		Seq:  1,
		From: memberRecord{ID: "member-1", Addr: "member-1:7946"},
	})

	sent := sender.Sent()
	require.Len(t, sent, 1)
	reply, ok := sent[0].Msg.(*ack)
	require.True(t, ok)
	require.Len(t, reply.Membership, 2)

	gossiped := make(map[string]bool)
	for _, r := range reply.Membership {
		gossiped[r.ID] = true
	}
	for id, e := range members.members {
		if gossiped[id] {
			assert.Equal(t, 1, e.heard, id)
		} else {
			assert.Equal(t, 0, e.heard, id)
		}
	}
}

func TestProber_HandlePingReq(t *testing.T) {
	sender := &fakePacketSender{}
	p, _ := testProber(t, sender)

	p.HandlePingReq(&pingReq{
		Seq:    4,
		From:   memberRecord{ID: "member-1", Addr: "10.26.104.2:7946"},
		Target: memberRecord{ID: "member-2", Addr: "10.26.104.3:7946"},
	})

	sent := sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "10.26.104.3:7946", sent[0].Addr)

	indirect, ok := sent[0].Msg.(*ping)
	require.True(t, ok)
	assert.Equal(t, uint64(4), indirect.Seq)
	require.NotNil(t, indirect.ForwardTo)
	assert.Equal(t, "member-1", indirect.ForwardTo.ID)
}

func TestProber_HandleAck(t *testing.T) {
	t.Run("forward", func(t *testing.T) {
		sender := &fakePacketSender{}
		p, _ := testProber(t, sender)

		p.HandleAck(&ack{
			Seq:       4,
			From:      memberRecord{ID: "member-2", Addr: "10.26.104.3:7946"},
			ForwardTo: &memberRecord{ID: "member-1", Addr: "10.26.104.2:7946"},
		})

		sent := sender.Sent()
		require.Len(t, sent, 1)
		assert.Equal(t, "10.26.104.2:7946", sent[0].Addr)

		forwarded, ok := sent[0].Msg.(*ack)
		require.True(t, ok)
		assert.Equal(t, uint64(4), forwarded.Seq)
		assert.Equal(t, "member-2", forwarded.From.ID)
		assert.Nil(t, forwarded.ForwardTo)
	})

	t.Run("unknown seq", func(t *testing.T) {
		sender := &fakePacketSender{}
		p, _ := testProber(t, sender)

		p.HandleAck(&ack{Seq: 100})
		assert.Empty(t, sender.Sent())
	})
}

func TestProber_NextTarget(t *testing.T) {
	sender := &fakePacketSender{}
	p, members := testProber(t, sender)

	for _, id := range []string{"member-1", "member-2", "member-3"} {
		_, err := members.Apply(Member{ID: id}, HealthAlive)
		require.NoError(t, err)
	}
	_, err := members.Apply(Member{ID: "member-4"}, HealthConfirmed)
	require.NoError(t, err)
	_, err = members.Apply(Member{ID: "member-5"}, HealthDeparted)
	require.NoError(t, err)

	// Each cycle of six rounds probes every live member once, and the
	// confirmed member every other round.
	seen := make(map[string]int)
	for i := 0; i != 6; i++ {
		target, ok := p.nextTarget()
		require.True(t, ok)
		seen[target.ID]++
	}
	assert.Equal(t, map[string]int{
		"member-1": 1,
		"member-2": 1,
		"member-3": 1,
		"member-4": 3,
	}, seen)
}
