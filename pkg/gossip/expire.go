package gossip

import (
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/andydunstall/murmur/pkg/log"
)

// expirer expires members and rumors that have timed out.
type expirer struct {
	members *memberList
	stores  *rumorStores
	rtt     *rttTracker

	suspicionTimeout time.Duration
	departureTimeout time.Duration
	rumorRetention   time.Duration

	now func() time.Time

	logger log.Logger
}

func newExpirer(
	members *memberList,
	stores *rumorStores,
	rtt *rttTracker,
	config *Config,
	logger log.Logger,
) *expirer {
	return &expirer{
		members:          members,
		stores:           stores,
		rtt:              rtt,
		suspicionTimeout: config.SuspicionTimeout,
		departureTimeout: config.DepartureTimeout,
		rumorRetention:   config.RumorRetention,
		now:              time.Now,
		logger:           logger,
	}
}

// ExpireMembers confirms members that have been suspect for longer than the
// suspicion timeout, and departs members that have been confirmed for longer
// than the departure timeout.
func (e *expirer) ExpireMembers() {
	for _, id := range e.members.ExpireSuspects(e.suspicionTimeout) {
		e.logger.Info("member confirmed", zap.String("member-id", id))
	}
	for _, id := range e.members.ExpireConfirmed(e.departureTimeout) {
		e.logger.Info("member departed", zap.String("member-id", id))
	}
}

// ExpireRumors removes members that have been departed for longer than the
// rumor retention, along with their services and election votes. Departure
// rumors older than the retention are also removed.
func (e *expirer) ExpireRumors() {
	purged := e.members.PurgeDeparted(e.rumorRetention)
	if len(purged) > 0 {
		for _, id := range purged {
			e.rtt.Remove(id)
		}

		services := e.stores.services.RemoveIf(func(s Service, _ time.Time) bool {
			return slices.Contains(purged, s.MemberID)
		})
		e.stores.elections.Update(func(election Election) (Election, bool) {
			votes := slices.DeleteFunc(slices.Clone(election.Votes), func(vote string) bool {
				return slices.Contains(purged, vote)
			})
			if len(votes) == len(election.Votes) {
				return election, false
			}
			election.Votes = votes
			return election, true
		})

		e.logger.Info(
			"purged departed members",
			zap.Strings("member-ids", purged),
			zap.Int("services", len(services)),
		)
	}

	now := e.now()
	departures := e.stores.departures.RemoveIf(func(_ Departure, storedAt time.Time) bool {
		return now.Sub(storedAt) >= e.rumorRetention
	})
	if len(departures) > 0 {
		e.logger.Debug(
			"removed expired departures",
			zap.Int("departures", len(departures)),
		)
	}
}
