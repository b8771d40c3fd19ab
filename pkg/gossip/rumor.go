package gossip

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/andydunstall/murmur/pkg/lamport"
)

var (
	// ErrInvalidRumor is returned when a rumor is missing its key or ID.
	ErrInvalidRumor = errors.New("invalid rumor")
)

// RumorKind identifies the type of a rumor.
type RumorKind uint8

const (
	RumorKindMembership RumorKind = iota + 1
	RumorKindService
	RumorKindServiceConfig
	RumorKindServiceFile
	RumorKindElection
	RumorKindDeparture
)

var rumorKinds = []RumorKind{
	RumorKindMembership,
	RumorKindService,
	RumorKindServiceConfig,
	RumorKindServiceFile,
	RumorKindElection,
	RumorKindDeparture,
}

func (k RumorKind) String() string {
	switch k {
	case RumorKindMembership:
		return "membership"
	case RumorKindService:
		return "service"
	case RumorKindServiceConfig:
		return "service_config"
	case RumorKindServiceFile:
		return "service_file"
	case RumorKindElection:
		return "election"
	case RumorKindDeparture:
		return "departure"
	default:
		return "unknown"
	}
}

func (k RumorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ParseRumorKind parses the kind from its string representation.
func ParseRumorKind(s string) (RumorKind, error) {
	for _, k := range rumorKinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown rumor kind: %s", s)
}

// Rumor is a versioned fact disseminated through the cluster.
//
// Rumors are stored by kind, key and ID, where a newer rumor replaces the
// existing rumor with the same key and ID.
type Rumor interface {
	Kind() RumorKind
	Key() string
	ID() string
}

// mergeable is a rumor that can be merged with an existing rumor of the same
// kind, key and ID.
type mergeable[R any] interface {
	Rumor

	// Merge returns the result of merging the rumor into the existing
	// rumor, and whether the result differs from the existing rumor.
	Merge(existing R) (R, bool)
}

// Membership is a rumor containing the health of a member.
type Membership struct {
	Member

	Health Health `json:"health"`
}

func (m Membership) Kind() RumorKind {
	return RumorKindMembership
}

func (m Membership) Key() string {
	return m.Member.ID
}

func (m Membership) ID() string {
	return m.Member.ID
}

// SysInfo describes the host a service is running on.
type SysInfo struct {
	Hostname string   `codec:"hostname" json:"hostname"`
	IP       string   `codec:"ip" json:"ip"`
	Port     uint32   `codec:"port" json:"port,omitempty"`
	Exposes  []uint32 `codec:"exposes" json:"exposes,omitempty"`
}

// Service is a rumor advertising that a member runs a service in a service
// group.
type Service struct {
	MemberID     string  `codec:"member_id" json:"member_id"`
	ServiceGroup string  `codec:"service_group" json:"service_group"`
	Incarnation  uint64  `codec:"incarnation" json:"incarnation"`
	Initialized  bool    `codec:"initialized" json:"initialized"`
	SysInfo      SysInfo `codec:"sys_info" json:"sys_info"`
}

func (s Service) Kind() RumorKind {
	return RumorKindService
}

func (s Service) Key() string {
	return s.ServiceGroup
}

func (s Service) ID() string {
	return s.MemberID
}

// Merge keeps the service with the highest incarnation.
func (s Service) Merge(existing Service) (Service, bool) {
	if s.Incarnation > existing.Incarnation {
		return s, true
	}
	return existing, false
}

const serviceConfigID = "service_config"

// ServiceConfig is a rumor containing the configuration of a service group.
type ServiceConfig struct {
	ServiceGroup string       `codec:"service_group" json:"service_group"`
	Incarnation  uint64       `codec:"incarnation" json:"incarnation"`
	Clock        lamport.Time `codec:"clock" json:"clock"`
	Encrypted    bool         `codec:"encrypted" json:"encrypted"`
	Config       []byte       `codec:"config" json:"config"`
}

func (c ServiceConfig) Kind() RumorKind {
	return RumorKindServiceConfig
}

func (c ServiceConfig) Key() string {
	return c.ServiceGroup
}

func (c ServiceConfig) ID() string {
	return serviceConfigID
}

// Merge keeps the config with the highest incarnation, then the highest
// Lamport clock. Equal clocks are ordered by the config bytes then the
// encrypted flag so every member picks the same winner.
func (c ServiceConfig) Merge(existing ServiceConfig) (ServiceConfig, bool) {
	if c.Incarnation != existing.Incarnation {
		if c.Incarnation > existing.Incarnation {
			return c, true
		}
		return existing, false
	}
	if c.Clock != existing.Clock {
		if c.Clock > existing.Clock {
			return c, true
		}
		return existing, false
	}
	if cmp := bytes.Compare(c.Config, existing.Config); cmp != 0 {
		if cmp > 0 {
			return c, true
		}
		return existing, false
	}
	if c.Encrypted && !existing.Encrypted {
		return c, true
	}
	return existing, false
}

// ServiceFile is a rumor containing a file distributed to a service group.
type ServiceFile struct {
	ServiceGroup string `codec:"service_group" json:"service_group"`
	Incarnation  uint64 `codec:"incarnation" json:"incarnation"`
	Filename     string `codec:"filename" json:"filename"`
	Encrypted    bool   `codec:"encrypted" json:"encrypted"`
	Body         []byte `codec:"body" json:"body"`
}

func (f ServiceFile) Kind() RumorKind {
	return RumorKindServiceFile
}

func (f ServiceFile) Key() string {
	return f.ServiceGroup
}

func (f ServiceFile) ID() string {
	return f.Filename
}

// Merge keeps the file with the highest incarnation. Equal incarnations are
// ordered by the body bytes then the encrypted flag.
func (f ServiceFile) Merge(existing ServiceFile) (ServiceFile, bool) {
	if f.Incarnation != existing.Incarnation {
		if f.Incarnation > existing.Incarnation {
			return f, true
		}
		return existing, false
	}
	if cmp := bytes.Compare(f.Body, existing.Body); cmp != 0 {
		if cmp > 0 {
			return f, true
		}
		return existing, false
	}
	if f.Encrypted && !existing.Encrypted {
		return f, true
	}
	return existing, false
}

// ElectionStatus is the status of a leader election.
type ElectionStatus uint8

const (
	ElectionRunning ElectionStatus = iota
	ElectionNoQuorum
	ElectionFinished
)

func (s ElectionStatus) String() string {
	switch s {
	case ElectionRunning:
		return "running"
	case ElectionNoQuorum:
		return "no_quorum"
	case ElectionFinished:
		return "finished"
	default:
		return "unknown"
	}
}

func (s ElectionStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

const electionID = "election"

// Election is a rumor containing the state of a leader election in a
// service group.
//
// MemberID is the current candidate, and Votes contains the sorted IDs of
// the members that voted for the candidate.
type Election struct {
	MemberID     string         `codec:"member_id" json:"member_id"`
	ServiceGroup string         `codec:"service_group" json:"service_group"`
	Term         uint64         `codec:"term" json:"term"`
	Suitability  uint64         `codec:"suitability" json:"suitability"`
	Status       ElectionStatus `codec:"status" json:"status"`
	Votes        []string       `codec:"votes" json:"votes"`
}

func newElection(memberID, group string, suitability, term uint64) Election {
	return Election{
		MemberID:     memberID,
		ServiceGroup: group,
		Term:         term,
		Suitability:  suitability,
		Status:       ElectionRunning,
		Votes:        []string{memberID},
	}
}

func (e Election) Kind() RumorKind {
	return RumorKindElection
}

func (e Election) Key() string {
	return e.ServiceGroup
}

func (e Election) ID() string {
	return electionID
}

// Finished returns whether the election has a leader.
func (e Election) Finished() bool {
	return e.Status == ElectionFinished
}

// Equal returns whether both elections have identical state.
func (e Election) Equal(o Election) bool {
	return e.MemberID == o.MemberID &&
		e.ServiceGroup == o.ServiceGroup &&
		e.Term == o.Term &&
		e.Suitability == o.Suitability &&
		e.Status == o.Status &&
		slices.Equal(e.Votes, o.Votes)
}

// Merge merges the election into the existing election.
//
// A finished election at an equal or higher term always wins. Otherwise
// the higher term wins, then within a term the most suitable candidate, then
// the candidate with the highest member ID. The winning candidate takes the
// votes of the losing candidate.
func (e Election) Merge(existing Election) (Election, bool) {
	switch {
	case e.Equal(existing):
		return existing, false
	case e.Term >= existing.Term && e.Finished():
		return e, true
	case e.Term == existing.Term && existing.Finished():
		return existing, false
	case existing.Term > e.Term:
		return existing, false
	case e.Term > existing.Term:
		return e, true
	}

	var merged Election
	switch {
	case existing.Suitability > e.Suitability:
		merged = existing.withVotes(e.Votes)
	case e.Suitability > existing.Suitability:
		merged = e.withVotes(existing.Votes)
	case existing.MemberID >= e.MemberID:
		merged = existing.withVotes(e.Votes)
	default:
		merged = e.withVotes(existing.Votes)
	}
	return merged, !merged.Equal(existing)
}

// withVotes returns a copy of the election with the given votes added.
func (e Election) withVotes(votes []string) Election {
	e.Votes = mergeVotes(e.Votes, votes)
	return e
}

func mergeVotes(a []string, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	merged := make([]string, 0, len(a)+len(b))
	for _, vote := range append(slices.Clone(a), b...) {
		if _, ok := seen[vote]; ok {
			continue
		}
		seen[vote] = struct{}{}
		merged = append(merged, vote)
	}
	sort.Strings(merged)
	return merged
}

const departureKey = "departure"

// Departure is a rumor that a member has permanently left the cluster.
type Departure struct {
	MemberID string `codec:"member_id" json:"member_id"`
}

func (d Departure) Kind() RumorKind {
	return RumorKindDeparture
}

func (d Departure) Key() string {
	return departureKey
}

func (d Departure) ID() string {
	return d.MemberID
}

// Merge never replaces an existing departure.
func (d Departure) Merge(existing Departure) (Departure, bool) {
	return existing, false
}

// validateRumor returns ErrInvalidRumor if the rumor can't be stored.
func validateRumor(r Rumor) error {
	if r.Key() == "" || r.ID() == "" {
		return ErrInvalidRumor
	}
	// Elections are stored under a fixed ID so must name their candidate.
	if e, ok := r.(Election); ok && e.MemberID == "" {
		return ErrInvalidRumor
	}
	return nil
}

var (
	_ mergeable[Service]       = Service{}
	_ mergeable[ServiceConfig] = ServiceConfig{}
	_ mergeable[ServiceFile]   = ServiceFile{}
	_ mergeable[Election]      = Election{}
	_ mergeable[Departure]     = Departure{}
	_ Rumor                    = Membership{}
)
