package gossip

import (
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/andydunstall/murmur/pkg/log"
)

// packetSender sends a message to the member at the given address.
type packetSender interface {
	SendPacket(msg message, addr string) error
}

// prober detects failed members using SWIM.
//
// Each round selects a target, pings it, and if no ack is received within
// the ping timeout, asks other alive members to ping the target on its
// behalf. If still no ack is received by the end of the protocol period the
// target is marked suspect.
//
// Targets are selected round robin from a shuffled list of live members.
// Every other round probes a random confirmed member instead, so confirmed
// members that recover are rediscovered.
type prober struct {
	members *memberList
	sender  packetSender
	rtt     *rttTracker

	protocolPeriod time.Duration
	pingTimeout    time.Duration
	indirectProbes int
	maxPiggybacked int

	seq *atomic.Uint64

	pending map[uint64]chan struct{}

	// checkList is the shuffled list of members to probe, where cursor
	// points to the next member.
	checkList []string
	cursor    int

	// probeConfirmedNext indicates whether the next round should probe a
	// confirmed member.
	probeConfirmedNext bool

	// mu protects the above fields.
	mu sync.Mutex

	shutdownCh <-chan struct{}

	metrics *Metrics
	logger  log.Logger
}

func newProber(
	members *memberList,
	sender packetSender,
	rtt *rttTracker,
	config *Config,
	shutdownCh <-chan struct{},
	metrics *Metrics,
	logger log.Logger,
) *prober {
	return &prober{
		members:        members,
		sender:         sender,
		rtt:            rtt,
		protocolPeriod: config.ProtocolPeriod,
		pingTimeout:    config.PingTimeout,
		indirectProbes: config.IndirectProbes,
		maxPiggybacked: config.MaxGossipRumors,
		seq:            atomic.NewUint64(0),
		pending:        make(map[uint64]chan struct{}),
		shutdownCh:     shutdownCh,
		metrics:        metrics,
		logger:         logger,
	}
}

// Round runs a single probe round. Blocks until the target acks or the
// protocol period expires.
func (p *prober) Round() {
	target, ok := p.nextTarget()
	if !ok {
		return
	}
	p.probe(target)
}

func (p *prober) probe(target Member) {
	seq := p.seq.Inc()
	ackCh := p.registerAck(seq)
	defer p.removeAck(seq)

	start := time.Now()
	if err := p.send(&ping{
		Seq:        seq,
		From:       p.localRecord(),
		Membership: p.piggyback(),
	}, target.Addr); err != nil {
		p.logger.Warn(
			"failed to send ping",
			zap.String("target", target.ID),
			zap.Error(err),
		)
	}

	pingTimer := time.NewTimer(p.pingTimeout)
	defer pingTimer.Stop()

	select {
	case <-ackCh:
		rtt := time.Since(start)
		p.rtt.Record(target.ID, rtt)
		p.metrics.ProbeRTT.Observe(rtt.Seconds())
		p.metrics.Probes.WithLabelValues("ack").Inc()
		return
	case <-pingTimer.C:
	case <-p.shutdownCh:
		return
	}

	relays := p.members.PingReqTargets(target.ID, p.indirectProbes)
	targetRecord := memberRecord{
		ID:          target.ID,
		Addr:        target.Addr,
		Incarnation: target.Incarnation,
	}
	for _, relay := range relays {
		if err := p.send(&pingReq{
			Seq:        seq,
			From:       p.localRecord(),
			Target:     targetRecord,
			Membership: p.piggyback(),
		}, relay.Addr); err != nil {
			p.logger.Warn(
				"failed to send ping req",
				zap.String("target", target.ID),
				zap.String("relay", relay.ID),
				zap.Error(err),
			)
		}
	}

	periodTimer := time.NewTimer(p.protocolPeriod - p.pingTimeout)
	defer periodTimer.Stop()

	select {
	case <-ackCh:
		p.metrics.Probes.WithLabelValues("indirect_ack").Inc()
		return
	case <-periodTimer.C:
	case <-p.shutdownCh:
		return
	}

	p.metrics.Probes.WithLabelValues("failed").Inc()

	// Suspect the target at the incarnation it had when the round started,
	// so a refutation received during the round isn't overridden.
	changed, err := p.members.Apply(target, HealthSuspect)
	if err != nil {
		p.logger.Warn("failed to suspect member", zap.Error(err))
		return
	}
	if changed {
		p.logger.Info(
			"member suspect",
			zap.String("member-id", target.ID),
			zap.Uint64("incarnation", target.Incarnation),
			zap.Int("relays", len(relays)),
		)
	}
}

// HandlePing replies to a ping with an ack.
func (p *prober) HandlePing(msg *ping) {
	if err := p.send(&ack{
		Seq:        msg.Seq,
		From:       p.localRecord(),
		ForwardTo:  msg.ForwardTo,
		Membership: p.piggyback(),
	}, msg.From.Addr); err != nil {
		p.logger.Warn(
			"failed to send ack",
			zap.String("member-id", msg.From.ID),
			zap.Error(err),
		)
	}
}

// HandleAck resolves a pending probe, or forwards the ack to the member
// that requested an indirect probe.
func (p *prober) HandleAck(msg *ack) {
	if msg.ForwardTo == nil || msg.ForwardTo.ID == p.members.localID {
		p.ackReceived(msg.Seq)
		return
	}

	if err := p.send(&ack{
		Seq:        msg.Seq,
		From:       msg.From,
		Membership: p.piggyback(),
	}, msg.ForwardTo.Addr); err != nil {
		p.logger.Warn(
			"failed to forward ack",
			zap.String("member-id", msg.ForwardTo.ID),
			zap.Error(err),
		)
	}
}

// HandlePingReq pings the target on behalf of the requesting member.
func (p *prober) HandlePingReq(msg *pingReq) {
	forwardTo := msg.From
	if err := p.send(&ping{
		Seq:        msg.Seq,
		From:       p.localRecord(),
		ForwardTo:  &forwardTo,
		Membership: p.piggyback(),
	}, msg.Target.Addr); err != nil {
		p.logger.Warn(
			"failed to send indirect ping",
			zap.String("target", msg.Target.ID),
			zap.Error(err),
		)
	}
}

func (p *prober) nextTarget() (Member, bool) {
	p.mu.Lock()
	probeConfirmed := p.probeConfirmedNext
	p.probeConfirmedNext = !p.probeConfirmedNext
	p.mu.Unlock()

	if probeConfirmed {
		if confirmed := p.members.ProbeList(); len(confirmed) > 0 {
			return confirmed[0], true
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Skip members that have been confirmed or removed since the check
	// list was built.
	for attempts := 0; attempts < 2; attempts++ {
		for p.cursor < len(p.checkList) {
			id := p.checkList[p.cursor]
			p.cursor++

			state, ok := p.members.Member(id)
			if !ok {
				continue
			}
			if state.Health == HealthAlive || state.Health == HealthSuspect {
				return state.Member, true
			}
		}

		live := p.members.LiveMembers()
		p.checkList = p.checkList[:0]
		for _, m := range live {
			p.checkList = append(p.checkList, m.ID)
		}
		p.cursor = 0
	}
	return Member{}, false
}

func (p *prober) registerAck(seq uint64) <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := make(chan struct{}, 1)
	p.pending[seq] = ch
	return ch
}

func (p *prober) removeAck(seq uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.pending, seq)
}

func (p *prober) ackReceived(seq uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, ok := p.pending[seq]
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (p *prober) localRecord() memberRecord {
	local := p.members.LocalMember()
	return newMemberRecord(Membership{
		Member: local.Member,
		Health: local.Health,
	})
}

func (p *prober) piggyback() []memberRecord {
	return newMemberRecords(p.members.SelectForGossip(p.maxPiggybacked))
}

// send sends the packet and counts its piggybacked membership as gossiped.
// The sender may truncate the membership to fit the packet, so only what
// remains once sent is counted.
func (p *prober) send(msg message, addr string) error {
	if err := p.sender.SendPacket(msg, addr); err != nil {
		return err
	}

	var records []memberRecord
	switch msg := msg.(type) {
	case *ping:
		records = msg.Membership
	case *ack:
		records = msg.Membership
	case *pingReq:
		records = msg.Membership
	}
	memberships := make([]Membership, 0, len(records))
	for _, r := range records {
		memberships = append(memberships, Membership{
			Member: r.Member(),
			Health: Health(r.Health),
		})
	}
	p.members.MarkGossiped(memberships)
	return nil
}
