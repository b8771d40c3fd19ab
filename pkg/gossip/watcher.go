package gossip

// Watcher is used to receive notifications when the known cluster state
// changes.
//
// The implementations of Watcher must not block. Watcher is called after
// the state mutexes are released so may call back to Gossip.
type Watcher interface {
	// OnHealthChange notifies that the health of a member changed, including
	// when a member is first discovered.
	OnHealthChange(memberID string, health Health)

	// OnRumor notifies that a rumor was inserted or replaced.
	OnRumor(kind RumorKind, key, id string)

	// OnExpired notifies that a departed member was removed.
	OnExpired(memberID string)
}

type nopWatcher struct {
}

func newNopWatcher() *nopWatcher {
	return &nopWatcher{}
}

func (w *nopWatcher) OnHealthChange(_ string, _ Health) {}

func (w *nopWatcher) OnRumor(_ RumorKind, _, _ string) {}

func (w *nopWatcher) OnExpired(_ string) {}

var _ Watcher = &nopWatcher{}
