package gossip

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/andydunstall/murmur/pkg/lamport"
	"github.com/andydunstall/murmur/pkg/log"
	"github.com/andydunstall/murmur/pkg/ringkey"
)

const (
	// selfDepartureFanout is the maximum number of members notified when
	// the local member leaves.
	selfDepartureFanout = 10

	rttSampleSize = 20
)

var (
	ErrMissingMemberID = errors.New("missing member id")
)

// Gossip manages cluster membership and disseminates rumors to other
// members.
type Gossip struct {
	localID string

	config *Config

	members *memberList
	stores  *rumorStores
	clock   *lamport.Clock
	rtt     *rttTracker

	transport *transport
	prober    *prober
	pusher    *pusher
	expirer   *expirer

	streamListener *streamListener
	packetListener *packetListener

	// suitability contains the local suitability to lead each service
	// group, as set by the last StartElection.
	suitability map[string]uint64

	// publishMu serialises locally published rumors so incarnations don't
	// race, and protects suitability.
	publishMu sync.Mutex

	watcher Watcher

	metrics *Metrics

	logger log.Logger

	ctx    context.Context
	cancel func()

	closed     *atomic.Bool
	shutdownCh chan struct{}
	wg         sync.WaitGroup
}

// New starts gossiping as the member with the given ID.
//
// The stream and packet listeners must be bound to the same address, which
// should be the configured advertise address. If key is not nil, all
// traffic is encrypted with the key and unencrypted traffic is rejected.
func New(
	localID string,
	config *Config,
	streamLn net.Listener,
	packetLn net.PacketConn,
	key *ringkey.Key,
	watcher Watcher,
	logger log.Logger,
) *Gossip {
	logger = logger.WithSubsystem("gossip")

	logger.Info(
		"starting gossip",
		zap.String("member-id", localID),
		zap.String("bind-addr", config.BindAddr),
		zap.String("advertise-addr", config.AdvertiseAddr),
		zap.Bool("encrypted", key != nil),
	)

	if watcher == nil {
		watcher = newNopWatcher()
	}

	metrics := newMetrics()

	members := newMemberList(Member{
		ID:   localID,
		Addr: config.AdvertiseAddr,
	}, watcher, metrics)
	stores := newRumorStores(metrics)
	rtt := newRTTTracker(rttSampleSize)

	transport := newTransport(
		packetLn, key, config.Compress, config.MaxPacketSize, metrics,
	)

	ctx, cancel := context.WithCancel(context.Background())
	shutdownCh := make(chan struct{})

	gossip := &Gossip{
		localID:     localID,
		config:      config,
		members:     members,
		stores:      stores,
		clock:       lamport.NewClock(),
		rtt:         rtt,
		transport:   transport,
		suitability: make(map[string]uint64),
		watcher:     watcher,
		metrics:     metrics,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		closed:      atomic.NewBool(false),
		shutdownCh:  shutdownCh,
	}
	gossip.prober = newProber(
		members, transport, rtt, config, shutdownCh, metrics,
		logger.WithSubsystem("gossip.probe"),
	)
	gossip.pusher = newPusher(
		members, stores, transport, config, metrics,
		logger.WithSubsystem("gossip.push"),
	)
	gossip.expirer = newExpirer(
		members, stores, rtt, config,
		logger.WithSubsystem("gossip.expire"),
	)

	listenerLogger := logger.WithSubsystem("gossip.listener")
	gossip.streamListener = newStreamListener(
		streamLn, gossip, key, config.Compress, streamTimeout, metrics,
		listenerLogger,
	)
	gossip.packetListener = newPacketListener(
		packetLn, gossip, key, metrics, listenerLogger,
	)

	gossip.wg.Add(2)
	go func() {
		defer gossip.wg.Done()
		gossip.streamListener.Serve()
	}()
	go func() {
		defer gossip.wg.Done()
		gossip.packetListener.Serve()
	}()

	gossip.schedule()

	return gossip
}

// LocalID returns the ID of the local member.
func (g *Gossip) LocalID() string {
	return g.localID
}

// Member returns the known state of the member with the given ID.
func (g *Gossip) Member(id string) (MemberState, bool) {
	state, ok := g.members.Member(id)
	if !ok {
		return MemberState{}, false
	}
	state.RTT = g.rtt.Mean(id)
	return state, true
}

// LocalMember returns the state of the local member.
func (g *Gossip) LocalMember() MemberState {
	return g.members.LocalMember()
}

// Members returns the known state of each member in the cluster, including
// the local member, sorted by ID.
func (g *Gossip) Members() []MemberState {
	members := g.members.Members()
	for i := range members {
		members[i].RTT = g.rtt.Mean(members[i].ID)
	}
	return members
}

// MemberHealth returns the health of the member with the given ID.
func (g *Gossip) MemberHealth(id string) (Health, bool) {
	return g.members.Health(id)
}

// IsConfirmed returns whether the member with the given ID is confirmed
// failed.
func (g *Gossip) IsConfirmed(id string) bool {
	health, ok := g.members.Health(id)
	return ok && health == HealthConfirmed
}

// IsDeparted returns whether the member with the given ID has departed.
func (g *Gossip) IsDeparted(id string) bool {
	health, ok := g.members.Health(id)
	if ok && health == HealthDeparted {
		return true
	}
	return g.stores.departures.Contains(departureKey, id)
}

// Service returns the service rumor of the given member in the group.
func (g *Gossip) Service(group, memberID string) (Service, bool) {
	return g.stores.services.Get(group, memberID)
}

// Services returns the service rumors in the group sorted by member ID.
func (g *Gossip) Services(group string) []Service {
	return g.stores.services.List(group)
}

// ServiceGroups returns the groups with at least one service.
func (g *Gossip) ServiceGroups() []string {
	return g.stores.services.Keys()
}

// ServiceConfig returns the config rumor of the group.
func (g *Gossip) ServiceConfig(group string) (ServiceConfig, bool) {
	return g.stores.serviceConfigs.Get(group, serviceConfigID)
}

// ServiceFile returns the file rumor with the given filename in the group.
func (g *Gossip) ServiceFile(group, filename string) (ServiceFile, bool) {
	return g.stores.serviceFiles.Get(group, filename)
}

// ServiceFiles returns the file rumors in the group sorted by filename.
func (g *Gossip) ServiceFiles(group string) []ServiceFile {
	return g.stores.serviceFiles.List(group)
}

// Election returns the election rumor of the group.
func (g *Gossip) Election(group string) (Election, bool) {
	return g.stores.elections.Get(group, electionID)
}

// Departure returns the departure rumor of the given member.
func (g *Gossip) Departure(memberID string) (Departure, bool) {
	return g.stores.departures.Get(departureKey, memberID)
}

// Rumors returns every known rumor of the given kind.
func (g *Gossip) Rumors(kind RumorKind) []Rumor {
	if kind != RumorKindMembership {
		return g.stores.all(kind)
	}

	memberships := g.members.All()
	sort.Slice(memberships, func(i, j int) bool {
		return memberships[i].Member.ID < memberships[j].Member.ID
	})
	return toRumors(memberships)
}

// Rumor returns the rumor with the given kind, key and ID.
func (g *Gossip) Rumor(kind RumorKind, key, id string) (Rumor, bool) {
	if kind != RumorKindMembership {
		return g.stores.rumor(kind, key, id)
	}

	if key != id {
		return nil, false
	}
	state, ok := g.members.Member(id)
	if !ok {
		return nil, false
	}
	return Membership{
		Member: state.Member,
		Health: state.Health,
	}, true
}

// PublishService advertises that the local member runs a service in the
// given group. Each publish increments the incarnation of the local service
// rumor so it replaces the previous rumor.
func (g *Gossip) PublishService(group string, sysInfo SysInfo, initialized bool) Service {
	g.publishMu.Lock()
	defer g.publishMu.Unlock()

	var incarnation uint64
	if existing, ok := g.stores.services.Get(group, g.localID); ok {
		incarnation = existing.Incarnation + 1
	}
	service := Service{
		MemberID:     g.localID,
		ServiceGroup: group,
		Incarnation:  incarnation,
		Initialized:  initialized,
		SysInfo:      sysInfo,
	}
	g.insertService(service)
	return service
}

// PublishServiceConfig publishes the configuration of a service group.
func (g *Gossip) PublishServiceConfig(
	group string,
	incarnation uint64,
	config []byte,
	encrypted bool,
) ServiceConfig {
	g.publishMu.Lock()
	defer g.publishMu.Unlock()

	serviceConfig := ServiceConfig{
		ServiceGroup: group,
		Incarnation:  incarnation,
		Clock:        g.clock.Increment(),
		Encrypted:    encrypted,
		Config:       config,
	}
	g.insertServiceConfig(serviceConfig)
	return serviceConfig
}

// PublishServiceFile publishes a file to a service group.
func (g *Gossip) PublishServiceFile(
	group string,
	filename string,
	incarnation uint64,
	body []byte,
	encrypted bool,
) ServiceFile {
	g.publishMu.Lock()
	defer g.publishMu.Unlock()

	serviceFile := ServiceFile{
		ServiceGroup: group,
		Incarnation:  incarnation,
		Filename:     filename,
		Encrypted:    encrypted,
		Body:         body,
	}
	g.insertServiceFile(serviceFile)
	return serviceFile
}

// StartElection starts a leader election in the service group, with the
// local member as a candidate of the given suitability.
func (g *Gossip) StartElection(group string, suitability uint64, term uint64) Election {
	g.publishMu.Lock()
	g.suitability[group] = suitability
	g.publishMu.Unlock()

	return g.startElection(group, term)
}

// Depart marks the member with the given ID as permanently departed. The
// member is never considered alive again, even if it refutes.
func (g *Gossip) Depart(memberID string) error {
	if memberID == "" {
		return ErrMissingMemberID
	}

	g.logger.Info("departing member", zap.String("member-id", memberID))
	g.insertDeparture(Departure{MemberID: memberID})
	return nil
}

// Join attempts to join an existing cluster by exchanging state with the
// members at the given addresses.
//
// The addresses may contain either IP addresses or domain names. When a domain
// name is used, the domain is resolved and each resolved IP address is
// attempted. If the port is omitted the default bind port is used.
//
// Returns the IDs of joined members. Or if addresses were provided but no
// members could be joined an error is returned. Note if a domain was
// provided that didn't resolve any addresses then Join will return nil.
func (g *Gossip) Join(ctx context.Context, addrs []string) ([]string, error) {
	if len(addrs) == 0 {
		return nil, nil
	}

	var joined []string
	var lastJoinErr error
	for _, unresolvedAddr := range addrs {
		unresolvedAddr = g.ensurePort(unresolvedAddr)
		resolvedAddrs, err := resolveAddr(unresolvedAddr)
		if err != nil {
			return nil, fmt.Errorf("resolve: %s: %w", unresolvedAddr, err)
		}

		if len(resolvedAddrs) == 0 {
			g.logger.Warn(
				"join: domain did not resolve any addresses",
				zap.String("addr", unresolvedAddr),
			)
			continue
		}

		for _, addr := range resolvedAddrs {
			memberID, err := g.join(ctx, addr)
			if err != nil {
				lastJoinErr = err

				g.logger.Warn(
					"failed to join member",
					zap.String("addr", addr),
					zap.Error(err),
				)
			} else {
				joined = append(joined, memberID)
			}
		}
	}

	// Return an error if we couldn't join any resolved addresses (if there
	// were no resolved addresses return nil).
	if len(joined) == 0 && lastJoinErr != nil {
		return nil, lastJoinErr
	}
	return joined, nil
}

// Leave gracefully leaves the cluster.
//
// The local member is marked departed with a new incarnation, then the
// departure is pushed to up to selfDepartureFanout live members to ensure
// it is propagated. After leaving the local member no longer refutes
// suspicion.
//
// Returns an error if no members could be notified.
func (g *Gossip) Leave(ctx context.Context) error {
	g.members.DepartLocal()

	targets := g.members.LiveMembers()
	if len(targets) > selfDepartureFanout {
		targets = targets[:selfDepartureFanout]
	}

	local := g.members.LocalMember()
	record := newMemberRecord(Membership{
		Member: local.Member,
		Health: local.Health,
	})
	msg := &rumors{
		From:       record,
		Membership: []memberRecord{record},
	}

	notified := atomic.NewInt64(0)
	var errg errgroup.Group
	for _, target := range targets {
		target := target
		errg.Go(func() error {
			if err := g.transport.SendStream(ctx, msg, target.Addr); err != nil {
				g.logger.Warn(
					"failed to send leave to member",
					zap.String("member-id", target.ID),
					zap.Error(err),
				)
				return err
			}
			notified.Inc()
			return nil
		})
	}
	err := errg.Wait()

	g.logger.Info(
		"left cluster",
		zap.Int64("notified", notified.Load()),
		zap.Int("targets", len(targets)),
	)

	if notified.Load() > 0 {
		return nil
	}
	return err
}

func (g *Gossip) Metrics() *Metrics {
	return g.metrics
}

// Close stops gossiping and closes all listeners.
//
// To leave gracefully, first call Leave, otherwise other members in the
// cluster will detect this member as failed rather than as having left.
func (g *Gossip) Close() error {
	if !g.closed.CompareAndSwap(false, true) {
		// Already closed.
		return nil
	}

	close(g.shutdownCh)
	g.cancel()

	var errs error
	if err := g.streamListener.Close(); err != nil {
		errs = errors.Join(errs, err)
	}
	if err := g.packetListener.Close(); err != nil {
		errs = errors.Join(errs, err)
	}

	g.wg.Wait()

	return errs
}

// RestartElections restarts finished elections in groups the local member
// belongs to, when the local member leads but has lost quorum, or the
// leader has failed.
func (g *Gossip) RestartElections() {
	for _, group := range g.stores.elections.Keys() {
		if !g.stores.services.Contains(group, g.localID) {
			continue
		}
		election, ok := g.stores.elections.Get(group, electionID)
		if !ok || !election.Finished() {
			continue
		}

		restart := false
		if election.MemberID == g.localID {
			restart = !g.hasQuorum(group)
		} else {
			health, ok := g.members.Health(election.MemberID)
			restart = !ok || health >= HealthConfirmed
		}
		if !restart {
			continue
		}

		g.logger.Warn(
			"restarting election",
			zap.String("service-group", group),
			zap.String("leader", election.MemberID),
			zap.Uint64("term", election.Term+1),
		)
		g.stores.elections.Remove(group, electionID)
		g.startElection(group, election.Term+1)
	}
}

func (g *Gossip) handleMessage(msg message) {
	switch msg := msg.(type) {
	case *ping:
		g.applyMemberRecords([]memberRecord{msg.From})
		g.applyMemberRecords(msg.Membership)
		g.prober.HandlePing(msg)
	case *ack:
		g.applyMemberRecords([]memberRecord{msg.From})
		g.applyMemberRecords(msg.Membership)
		g.prober.HandleAck(msg)
	case *pingReq:
		g.applyMemberRecords([]memberRecord{msg.From})
		g.applyMemberRecords(msg.Membership)
		g.prober.HandlePingReq(msg)
	case *rumors:
		g.applyRumors(msg)
	default:
		g.logger.Debug(
			"unexpected message",
			zap.String("type", msg.messageType().String()),
		)
	}
}

func (g *Gossip) handleJoin(msg *join) *rumors {
	g.applyMemberRecords([]memberRecord{msg.From})

	g.logger.Info(
		"member joined",
		zap.String("member-id", msg.From.ID),
		zap.String("addr", msg.From.Addr),
	)

	return g.fullState()
}

func (g *Gossip) fullState() *rumors {
	local := g.members.LocalMember()
	batch := &rumors{
		From: newMemberRecord(Membership{
			Member: local.Member,
			Health: local.Health,
		}),
		Membership: newMemberRecords(g.members.All()),
	}
	g.stores.fullState(batch)
	return batch
}

func (g *Gossip) applyRumors(batch *rumors) {
	g.applyMemberRecords([]memberRecord{batch.From})
	g.applyMemberRecords(batch.Membership)

	// Departures are applied first so services of departed members are
	// applied with the member already departed.
	for _, departure := range batch.Departures {
		g.inbound(RumorKindDeparture, g.insertDeparture(departure))
	}
	for _, service := range batch.Services {
		g.inbound(RumorKindService, g.insertService(service))
	}
	for _, serviceConfig := range batch.ServiceConfigs {
		g.inbound(RumorKindServiceConfig, g.insertServiceConfig(serviceConfig))
	}
	for _, serviceFile := range batch.ServiceFiles {
		g.inbound(RumorKindServiceFile, g.insertServiceFile(serviceFile))
	}
	for _, election := range batch.Elections {
		g.inbound(RumorKindElection, g.insertElection(election))
	}
}

func (g *Gossip) applyMemberRecords(records []memberRecord) {
	for _, record := range records {
		health := Health(record.Health)
		// Members with a departure rumor can never recover.
		if health.Valid() && g.stores.departures.Contains(departureKey, record.ID) {
			health = HealthDeparted
		}

		changed, err := g.members.Apply(record.Member(), health)
		if err != nil {
			g.logger.Warn(
				"invalid membership",
				zap.String("member-id", record.ID),
				zap.Uint8("health", record.Health),
				zap.Error(err),
			)
			g.metrics.PacketsDropped.WithLabelValues("invalid_rumor").Inc()
			continue
		}
		g.inbound(RumorKindMembership, changed)
	}
}

func (g *Gossip) insertDeparture(departure Departure) bool {
	if err := validateRumor(departure); err != nil {
		g.invalidRumor(departure, err)
		return false
	}

	if departure.MemberID == g.localID {
		if g.members.DepartLocal() {
			g.logger.Warn("local member departed by cluster")
		}
	} else {
		g.members.MarkHealth(departure.MemberID, HealthDeparted)
	}

	if !g.stores.departures.InsertIfNewer(departure) {
		return false
	}
	g.watcher.OnRumor(RumorKindDeparture, departure.Key(), departure.ID())
	return true
}

func (g *Gossip) insertService(service Service) bool {
	if err := validateRumor(service); err != nil {
		g.invalidRumor(service, err)
		return false
	}

	group := service.ServiceGroup
	newGroupMember := len(g.stores.services.List(group)) > 0 &&
		!g.stores.services.Contains(group, service.MemberID)

	if !g.stores.services.InsertIfNewer(service) {
		return false
	}

	// When a new member joins a group that has lost quorum, depart a
	// confirmed member so the new member can replace it.
	if newGroupMember && !g.hasQuorum(group) {
		if id, ok := g.minConfirmedMember(group); ok {
			g.logger.Warn(
				"departing confirmed member of group without quorum",
				zap.String("service-group", group),
				zap.String("member-id", id),
			)
			g.members.MarkHealth(id, HealthDeparted)
		}
	}

	g.watcher.OnRumor(RumorKindService, service.Key(), service.ID())
	return true
}

func (g *Gossip) insertServiceConfig(serviceConfig ServiceConfig) bool {
	if err := validateRumor(serviceConfig); err != nil {
		g.invalidRumor(serviceConfig, err)
		return false
	}

	g.clock.Witness(serviceConfig.Clock)

	if !g.stores.serviceConfigs.InsertIfNewer(serviceConfig) {
		return false
	}
	g.watcher.OnRumor(RumorKindServiceConfig, serviceConfig.Key(), serviceConfig.ID())
	return true
}

func (g *Gossip) insertServiceFile(serviceFile ServiceFile) bool {
	if err := validateRumor(serviceFile); err != nil {
		g.invalidRumor(serviceFile, err)
		return false
	}

	if !g.stores.serviceFiles.InsertIfNewer(serviceFile) {
		return false
	}
	g.watcher.OnRumor(RumorKindServiceFile, serviceFile.Key(), serviceFile.ID())
	return true
}

// insertElection merges an election rumor. If the local member belongs to
// the group, it joins the election as a candidate, and if it is the winning
// candidate with the votes of every alive elector, finishes the election.
func (g *Gossip) insertElection(election Election) bool {
	if err := validateRumor(election); err != nil {
		g.invalidRumor(election, err)
		return false
	}
	group := election.ServiceGroup
	election.Votes = mergeVotes(election.Votes, nil)

	if g.stores.services.Contains(group, g.localID) {
		existing, ok := g.stores.elections.Get(group, electionID)
		if ok {
			if election.Term > existing.Term {
				g.stores.elections.Remove(group, electionID)
				g.startElection(group, election.Term)
			}

			if election.MemberID == g.localID {
				if g.hasQuorum(group) {
					electorate := g.electorate(group)
					votes := 0
					for _, vote := range election.Votes {
						if _, ok := electorate[vote]; ok {
							votes++
						}
					}
					if votes == len(electorate) {
						election.Status = ElectionFinished
					}
				} else {
					election.Status = ElectionNoQuorum
				}
			}
		} else {
			g.startElection(group, election.Term)
		}

		if !election.Finished() {
			if g.hasQuorum(group) {
				election.Status = ElectionRunning
			} else {
				election.Status = ElectionNoQuorum
			}
		}
	}

	if !g.stores.elections.InsertIfNewer(election) {
		return false
	}

	if election.Finished() {
		if stored, ok := g.stores.elections.Get(group, electionID); ok && stored.Finished() {
			g.logger.Info(
				"election finished",
				zap.String("service-group", group),
				zap.String("leader", stored.MemberID),
				zap.Uint64("term", stored.Term),
			)
		}
	}
	g.watcher.OnRumor(RumorKindElection, group, electionID)
	return true
}

func (g *Gossip) startElection(group string, term uint64) Election {
	g.publishMu.Lock()
	suitability := g.suitability[group]
	g.publishMu.Unlock()

	election := newElection(g.localID, group, suitability, term)
	if !g.hasQuorum(group) {
		election.Status = ElectionNoQuorum
		g.logger.Warn(
			"election lacks quorum",
			zap.String("service-group", group),
			zap.Uint64("term", term),
		)
	}

	if g.stores.elections.InsertIfNewer(election) {
		g.watcher.OnRumor(RumorKindElection, group, electionID)
	}
	return election
}

// electorate returns the alive members of the group.
func (g *Gossip) electorate(group string) map[string]struct{} {
	electorate := make(map[string]struct{})
	for _, service := range g.stores.services.List(group) {
		if health, ok := g.members.Health(service.MemberID); ok && health == HealthAlive {
			electorate[service.MemberID] = struct{}{}
		}
	}
	return electorate
}

// hasQuorum returns whether a majority of the non-departed members of the
// group are alive.
func (g *Gossip) hasQuorum(group string) bool {
	population := 0
	alive := 0
	for _, service := range g.stores.services.List(group) {
		health, ok := g.members.Health(service.MemberID)
		if !ok || health == HealthDeparted {
			continue
		}
		population++
		if health == HealthAlive {
			alive++
		}
	}
	return alive > population/2
}

func (g *Gossip) minConfirmedMember(group string) (string, bool) {
	// Services are listed sorted by member ID.
	for _, service := range g.stores.services.List(group) {
		if health, ok := g.members.Health(service.MemberID); ok && health == HealthConfirmed {
			return service.MemberID, true
		}
	}
	return "", false
}

func (g *Gossip) invalidRumor(r Rumor, err error) {
	g.logger.Warn(
		"invalid rumor",
		zap.String("kind", r.Kind().String()),
		zap.String("key", r.Key()),
		zap.String("id", r.ID()),
		zap.Error(err),
	)
	g.metrics.PacketsDropped.WithLabelValues("invalid_rumor").Inc()
}

func (g *Gossip) inbound(kind RumorKind, accepted bool) {
	label := "false"
	if accepted {
		label = "true"
	}
	g.metrics.RumorsInbound.WithLabelValues(kind.String(), label).Inc()
}

// join exchanges state with the member at the given address.
func (g *Gossip) join(ctx context.Context, addr string) (string, error) {
	local := g.members.LocalMember()
	reply, err := g.transport.RequestStream(ctx, &join{
		From: newMemberRecord(Membership{
			Member: local.Member,
			Health: local.Health,
		}),
	}, addr)
	if err != nil {
		return "", err
	}

	state, ok := reply.(*rumors)
	if !ok {
		return "", fmt.Errorf("unexpected reply: %s", reply.messageType())
	}
	g.applyRumors(state)

	return state.From.ID, nil
}

// schedule runs the background tasks at the configured rates.
func (g *Gossip) schedule() {
	g.scheduleFunc(g.config.ProtocolPeriod, g.prober.Round)
	g.scheduleFunc(g.config.GossipInterval, func() {
		g.pusher.Round(g.ctx)
	})
	g.scheduleFunc(g.config.MembershipExpiryInterval, g.expirer.ExpireMembers)
	g.scheduleFunc(g.config.RumorExpiryInterval, g.expirer.ExpireRumors)
	g.scheduleFunc(g.config.ProtocolPeriod, g.RestartElections)
}

func (g *Gossip) scheduleFunc(interval time.Duration, f func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		scheduleFunc(interval, g.shutdownCh, f)
	}()
}

// scheduleFunc calls f every interval until shutdownCh is closed.
func scheduleFunc(interval time.Duration, shutdownCh <-chan struct{}, f func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Add 10% jitter to avoid members synchronising.
			jitter := time.Duration(rand.Int63n(int64(interval)/10 + 1))
			select {
			case <-time.After(jitter):
				f()
			case <-shutdownCh:
				return
			}

		case <-shutdownCh:
			return
		}
	}
}

// ensurePort adds the configured bind port to addr if addr doesn't already
// have a port.
func (g *Gossip) ensurePort(addr string) string {
	if strings.Contains(addr, ":") {
		return addr
	}

	_, bindPort, err := net.SplitHostPort(g.config.BindAddr)
	if err != nil {
		// We've already bound to bind addr so expect it to be valid.
		panic("invalid bind addr:" + g.config.BindAddr)
	}

	return addr + ":" + bindPort
}

// resolveAddr resolves the given address, which may be a domain pointing
// to multiple IP addresses.
func resolveAddr(addr string) ([]string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid addr: %s: %w", addr, err)
	}

	// If the address already contains an IP address, do nothing.
	if ip := net.ParseIP(host); ip != nil {
		return []string{addr}, nil
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, fmt.Errorf("lookup host: %s: %w", host, err)
	}

	var addrs []string
	for _, ip := range ips {
		addrs = append(addrs, net.JoinHostPort(ip.String(), port))
	}
	return addrs, nil
}

var _ messageHandler = &Gossip{}
