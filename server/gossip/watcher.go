package gossip

import (
	"go.uber.org/zap"

	"github.com/andydunstall/murmur/pkg/gossip"
	"github.com/andydunstall/murmur/pkg/log"
)

// loggingWatcher logs changes to the cluster state.
type loggingWatcher struct {
	logger log.Logger
}

func newLoggingWatcher(logger log.Logger) *loggingWatcher {
	return &loggingWatcher{
		logger: logger.WithSubsystem("gossip.watcher"),
	}
}

func (w *loggingWatcher) OnHealthChange(memberID string, health gossip.Health) {
	switch health {
	case gossip.HealthAlive:
		w.logger.Info(
			"member alive",
			zap.String("member-id", memberID),
		)
	case gossip.HealthSuspect:
		w.logger.Warn(
			"member suspect",
			zap.String("member-id", memberID),
		)
	case gossip.HealthConfirmed:
		w.logger.Warn(
			"member confirmed failed",
			zap.String("member-id", memberID),
		)
	case gossip.HealthDeparted:
		w.logger.Info(
			"member departed",
			zap.String("member-id", memberID),
		)
	}
}

func (w *loggingWatcher) OnRumor(kind gossip.RumorKind, key, id string) {
	w.logger.Debug(
		"rumor updated",
		zap.String("kind", kind.String()),
		zap.String("key", key),
		zap.String("id", id),
	)
}

func (w *loggingWatcher) OnExpired(memberID string) {
	w.logger.Info(
		"member expired",
		zap.String("member-id", memberID),
	)
}

var _ gossip.Watcher = &loggingWatcher{}
