package gossip

import (
	"errors"
	"math/rand"
	"sort"
	"sync"
	"time"
)

var (
	// ErrInvalidMembership is returned when a membership fact has a missing
	// member ID or an unknown health.
	ErrInvalidMembership = errors.New("invalid membership")
)

// Member identifies a member of the cluster.
type Member struct {
	// ID is a unique identifier for the member.
	ID string `json:"id"`

	// Addr is the gossip address of the member, used for both packet and
	// stream traffic.
	Addr string `json:"addr"`

	// Incarnation is incremented only by the member itself, to refute
	// suspicion of its health.
	Incarnation uint64 `json:"incarnation"`
}

// MemberState contains the known state of a member.
type MemberState struct {
	Member

	Health Health `json:"health"`

	// Since is the time the member entered its current health.
	Since time.Time `json:"since"`

	// RTT is the mean round trip time of direct probes to the member, or
	// zero if unknown.
	RTT time.Duration `json:"rtt"`

	// Local indicates whether this is the local member.
	Local bool `json:"local"`
}

type memberEntry struct {
	member Member
	health Health
	since  time.Time

	// heard is the number of times the membership has been selected for
	// gossip since it last changed.
	heard int
}

// tombstone records a purged member, so older facts about the member still
// being gossiped by other members don't add it back.
type tombstone struct {
	incarnation uint64
	purgedAt    time.Time
}

// memberList is the registry of known members and their health.
//
// Every membership fact is merged using the incarnation and health of the
// member: a higher incarnation always wins, and at equal incarnations only a
// worse health wins. Facts about the local member that are not alive are
// refuted by incrementing the local incarnation.
//
// The watcher is notified after the mutex is released.
type memberList struct {
	localID string

	members map[string]*memberEntry

	// probeList contains the IDs of confirmed members.
	probeList map[string]struct{}

	tombstones map[string]tombstone

	// mu protects the above fields.
	mu sync.RWMutex

	watcher Watcher
	metrics *Metrics

	now func() time.Time
}

func newMemberList(
	local Member,
	watcher Watcher,
	metrics *Metrics,
) *memberList {
	l := &memberList{
		localID:   local.ID,
		members:   make(map[string]*memberEntry),
		probeList:  make(map[string]struct{}),
		tombstones: make(map[string]tombstone),
		watcher:    watcher,
		metrics:    metrics,
		now:        time.Now,
	}
	l.members[local.ID] = &memberEntry{
		member: local,
		health: HealthAlive,
		since:  l.now(),
	}
	l.updateMetricsLocked()
	return l
}

// Apply merges the given membership fact. Returns true if the known state of
// the member changed.
func (l *memberList) Apply(member Member, health Health) (bool, error) {
	if member.ID == "" || !health.Valid() {
		return false, ErrInvalidMembership
	}

	l.mu.Lock()
	changed, healthChanged := l.applyLocked(member, health)
	l.mu.Unlock()

	if healthChanged {
		l.watcher.OnHealthChange(member.ID, health)
	}
	return changed, nil
}

// MarkHealth sets the health of the member with the given ID at its current
// incarnation. The merge rule still applies, so the health may only get
// worse. Returns false if the member is unknown or the state didn't change.
func (l *memberList) MarkHealth(id string, health Health) bool {
	if id == l.localID || !health.Valid() {
		return false
	}

	l.mu.Lock()
	e, ok := l.members[id]
	if !ok {
		l.mu.Unlock()
		return false
	}
	changed, healthChanged := l.applyLocked(e.member, health)
	l.mu.Unlock()

	if healthChanged {
		l.watcher.OnHealthChange(id, health)
	}
	return changed
}

// DepartLocal marks the local member as departed with a new incarnation, so
// the departure overrides any earlier state held by other members.
//
// Once departed the local member no longer refutes suspicion.
func (l *memberList) DepartLocal() bool {
	l.mu.Lock()
	e := l.members[l.localID]
	if e.health == HealthDeparted {
		l.mu.Unlock()
		return false
	}
	e.member.Incarnation++
	e.health = HealthDeparted
	e.since = l.now()
	e.heard = 0
	l.updateMetricsLocked()
	l.mu.Unlock()

	l.metrics.HealthTransitions.WithLabelValues(HealthDeparted.String()).Inc()
	l.watcher.OnHealthChange(l.localID, HealthDeparted)
	return true
}

func (l *memberList) applyLocked(member Member, health Health) (bool, bool) {
	if member.ID == l.localID {
		return l.refuteLocked(member, health), false
	}

	e, ok := l.members[member.ID]
	if !ok {
		if t, ok := l.tombstones[member.ID]; ok {
			if member.Incarnation <= t.incarnation {
				return false, false
			}
			delete(l.tombstones, member.ID)
		}

		l.members[member.ID] = &memberEntry{
			member: member,
			health: health,
			since:  l.now(),
		}
		if health == HealthConfirmed {
			l.probeList[member.ID] = struct{}{}
		}
		l.updateMetricsLocked()
		l.metrics.HealthTransitions.WithLabelValues(health.String()).Inc()
		return true, true
	}

	if member.Incarnation < e.member.Incarnation {
		return false, false
	}
	if member.Incarnation == e.member.Incarnation && health <= e.health {
		return false, false
	}

	healthChanged := health != e.health
	e.member = member
	e.heard = 0
	if healthChanged {
		e.health = health
		e.since = l.now()

		if health == HealthConfirmed {
			l.probeList[member.ID] = struct{}{}
		} else {
			delete(l.probeList, member.ID)
		}

		l.updateMetricsLocked()
		l.metrics.HealthTransitions.WithLabelValues(health.String()).Inc()
	}
	return true, healthChanged
}

// refuteLocked handles a fact about the local member. If another member
// considers the local member unhealthy at an incarnation at least as high
// as ours, we bump our incarnation so our alive membership wins.
func (l *memberList) refuteLocked(member Member, health Health) bool {
	e := l.members[l.localID]
	if e.health == HealthDeparted {
		return false
	}
	if health == HealthAlive {
		return false
	}
	if member.Incarnation < e.member.Incarnation {
		return false
	}

	e.member.Incarnation = member.Incarnation + 1
	e.heard = 0
	l.metrics.Refutations.Inc()
	return true
}

// Member returns the known state of the member with the given ID.
func (l *memberList) Member(id string) (MemberState, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	e, ok := l.members[id]
	if !ok {
		return MemberState{}, false
	}
	return l.stateLocked(e), true
}

// LocalMember returns the state of the local member.
func (l *memberList) LocalMember() MemberState {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.stateLocked(l.members[l.localID])
}

// Members returns the known state of all members, sorted by ID.
func (l *memberList) Members() []MemberState {
	l.mu.RLock()
	defer l.mu.RUnlock()

	members := make([]MemberState, 0, len(l.members))
	for _, e := range l.members {
		members = append(members, l.stateLocked(e))
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].ID < members[j].ID
	})
	return members
}

// Health returns the health of the member with the given ID.
func (l *memberList) Health(id string) (Health, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	e, ok := l.members[id]
	if !ok {
		return 0, false
	}
	return e.health, true
}

// ProbeList returns the confirmed members in random order.
func (l *memberList) ProbeList() []Member {
	l.mu.RLock()
	targets := make([]Member, 0, len(l.probeList))
	for id := range l.probeList {
		targets = append(targets, l.members[id].member)
	}
	l.mu.RUnlock()

	rand.Shuffle(len(targets), func(i, j int) {
		targets[i], targets[j] = targets[j], targets[i]
	})
	return targets
}

// PingReqTargets returns up to n alive members, excluding the local member
// and the member with ID exclude, sampled uniformly without replacement.
func (l *memberList) PingReqTargets(exclude string, n int) []Member {
	targets := l.filter(func(id string, e *memberEntry) bool {
		return id != exclude && e.health == HealthAlive
	})
	rand.Shuffle(len(targets), func(i, j int) {
		targets[i], targets[j] = targets[j], targets[i]
	})
	if len(targets) > n {
		targets = targets[:n]
	}
	return targets
}

// LiveMembers returns the alive and suspect members, excluding the local
// member, in random order.
func (l *memberList) LiveMembers() []Member {
	targets := l.filter(func(_ string, e *memberEntry) bool {
		return e.health == HealthAlive || e.health == HealthSuspect
	})
	rand.Shuffle(len(targets), func(i, j int) {
		targets[i], targets[j] = targets[j], targets[i]
	})
	return targets
}

// SelectForGossip returns up to max memberships to gossip, preferring those
// that have been gossiped the fewest times since they last changed.
//
// Selected memberships are only counted once passed to MarkGossiped, since
// they may be dropped before being sent.
func (l *memberList) SelectForGossip(max int) []Membership {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := make([]*memberEntry, 0, len(l.members))
	for _, e := range l.members {
		entries = append(entries, e)
	}
	// Shuffle first so members with equal heard counts are selected
	// randomly.
	rand.Shuffle(len(entries), func(i, j int) {
		entries[i], entries[j] = entries[j], entries[i]
	})
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].heard < entries[j].heard
	})
	if len(entries) > max {
		entries = entries[:max]
	}

	memberships := make([]Membership, 0, len(entries))
	for _, e := range entries {
		memberships = append(memberships, Membership{
			Member: e.member,
			Health: e.health,
		})
	}
	return memberships
}

// MarkGossiped counts the given memberships as sent. Memberships that have
// changed since they were selected are ignored.
func (l *memberList) MarkGossiped(memberships []Membership) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, m := range memberships {
		e, ok := l.members[m.Member.ID]
		if !ok {
			continue
		}
		if e.member.Incarnation != m.Incarnation || e.health != m.Health {
			continue
		}
		e.heard++
	}
}

// All returns the membership of every known member.
func (l *memberList) All() []Membership {
	l.mu.RLock()
	defer l.mu.RUnlock()

	memberships := make([]Membership, 0, len(l.members))
	for _, e := range l.members {
		memberships = append(memberships, Membership{
			Member: e.member,
			Health: e.health,
		})
	}
	return memberships
}

// ExpireSuspects marks members that have been suspect for longer than the
// given timeout as confirmed. Returns the IDs of the confirmed members.
func (l *memberList) ExpireSuspects(timeout time.Duration) []string {
	return l.expire(HealthSuspect, HealthConfirmed, timeout)
}

// ExpireConfirmed marks members that have been confirmed for longer than the
// given timeout as departed. Returns the IDs of the departed members.
func (l *memberList) ExpireConfirmed(timeout time.Duration) []string {
	return l.expire(HealthConfirmed, HealthDeparted, timeout)
}

func (l *memberList) expire(from Health, to Health, timeout time.Duration) []string {
	l.mu.Lock()
	var expired []string
	now := l.now()
	for id, e := range l.members {
		if id == l.localID || e.health != from {
			continue
		}
		if now.Sub(e.since) < timeout {
			continue
		}
		if _, healthChanged := l.applyLocked(e.member, to); healthChanged {
			expired = append(expired, id)
		}
	}
	l.mu.Unlock()

	for _, id := range expired {
		l.watcher.OnHealthChange(id, to)
	}
	return expired
}

// PurgeDeparted removes members that have been departed for longer than
// the given retention. Returns the IDs of the removed members.
//
// A removed member is tombstoned for another retention period, during which
// facts at or below its last incarnation are ignored.
func (l *memberList) PurgeDeparted(retention time.Duration) []string {
	l.mu.Lock()
	var purged []string
	now := l.now()
	for id, t := range l.tombstones {
		if now.Sub(t.purgedAt) >= retention {
			delete(l.tombstones, id)
		}
	}
	for id, e := range l.members {
		if id == l.localID || e.health != HealthDeparted {
			continue
		}
		if now.Sub(e.since) < retention {
			continue
		}
		delete(l.members, id)
		delete(l.probeList, id)
		l.tombstones[id] = tombstone{
			incarnation: e.member.Incarnation,
			purgedAt:    now,
		}
		purged = append(purged, id)
	}
	if len(purged) > 0 {
		l.updateMetricsLocked()
	}
	l.mu.Unlock()

	for _, id := range purged {
		l.watcher.OnExpired(id)
	}
	return purged
}

func (l *memberList) filter(f func(id string, e *memberEntry) bool) []Member {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var members []Member
	for id, e := range l.members {
		if id == l.localID {
			continue
		}
		if f(id, e) {
			members = append(members, e.member)
		}
	}
	return members
}

func (l *memberList) stateLocked(e *memberEntry) MemberState {
	return MemberState{
		Member: e.member,
		Health: e.health,
		Since:  e.since,
		Local:  e.member.ID == l.localID,
	}
}

func (l *memberList) updateMetricsLocked() {
	counts := make(map[Health]int)
	for _, e := range l.members {
		counts[e.health]++
	}
	for h := HealthAlive; h <= HealthDeparted; h++ {
		l.metrics.Members.WithLabelValues(h.String()).Set(float64(counts[h]))
	}
}
