package gossip

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type storeEntry[R any] struct {
	rumor R

	// heard is the number of times the rumor has been selected for gossip
	// since it was last stored.
	heard int

	storedAt time.Time
}

// rumorStore stores the latest rumor of a single kind for each key and ID.
type rumorStore[R mergeable[R]] struct {
	rumors map[string]map[string]*storeEntry[R]

	// mu protects the above fields.
	mu sync.RWMutex

	// gauge is set to the number of stored rumors, if not nil.
	gauge prometheus.Gauge

	now func() time.Time
}

func newRumorStore[R mergeable[R]](gauge prometheus.Gauge) *rumorStore[R] {
	return &rumorStore[R]{
		rumors: make(map[string]map[string]*storeEntry[R]),
		gauge:  gauge,
		now:    time.Now,
	}
}

// InsertIfNewer merges the rumor with any existing rumor with the same key
// and ID. Returns true if the stored rumor changed.
func (s *rumorStore[R]) InsertIfNewer(r R) bool {
	key, id := r.Key(), r.ID()
	if key == "" || id == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, ok := s.rumors[key]
	if !ok {
		entries = make(map[string]*storeEntry[R])
		s.rumors[key] = entries
	}

	e, ok := entries[id]
	if !ok {
		entries[id] = &storeEntry[R]{
			rumor:    r,
			storedAt: s.now(),
		}
		s.updateGaugeLocked()
		return true
	}

	merged, changed := r.Merge(e.rumor)
	if !changed {
		return false
	}
	e.rumor = merged
	e.heard = 0
	e.storedAt = s.now()
	return true
}

// Get returns the rumor with the given key and ID.
func (s *rumorStore[R]) Get(key, id string) (R, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.rumors[key][id]
	if !ok {
		var r R
		return r, false
	}
	return e.rumor, true
}

// Contains returns whether a rumor with the given key and ID is stored.
func (s *rumorStore[R]) Contains(key, id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.rumors[key][id]
	return ok
}

// List returns the rumors with the given key sorted by ID.
func (s *rumorStore[R]) List(key string) []R {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.rumors[key]
	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rumors := make([]R, 0, len(ids))
	for _, id := range ids {
		rumors = append(rumors, entries[id].rumor)
	}
	return rumors
}

// Keys returns the sorted keys with at least one rumor.
func (s *rumorStore[R]) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.rumors))
	for key := range s.rumors {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// All returns every stored rumor sorted by key then ID.
func (s *rumorStore[R]) All() []R {
	var rumors []R
	for _, key := range s.Keys() {
		rumors = append(rumors, s.List(key)...)
	}
	return rumors
}

// SelectForGossip returns up to max rumors, preferring those that have been
// gossiped the fewest times since they were stored, and increments the
// heard count of each selected rumor.
//
// Rumors are never excluded once they've been heard enough, so repeatedly
// selecting rumors eventually resends every rumor to repair missed updates.
func (s *rumorStore[R]) SelectForGossip(max int) []R {
	if max <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []*storeEntry[R]
	for _, byID := range s.rumors {
		for _, e := range byID {
			entries = append(entries, e)
		}
	}
	rand.Shuffle(len(entries), func(i, j int) {
		entries[i], entries[j] = entries[j], entries[i]
	})
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].heard < entries[j].heard
	})
	if len(entries) > max {
		entries = entries[:max]
	}

	rumors := make([]R, 0, len(entries))
	for _, e := range entries {
		e.heard++
		rumors = append(rumors, e.rumor)
	}
	return rumors
}

// Remove removes the rumor with the given key and ID.
func (s *rumorStore[R]) Remove(key, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, ok := s.rumors[key]
	if !ok {
		return false
	}
	if _, ok := entries[id]; !ok {
		return false
	}
	delete(entries, id)
	if len(entries) == 0 {
		delete(s.rumors, key)
	}
	s.updateGaugeLocked()
	return true
}

// RemoveIf removes every rumor where f returns true, given the rumor and
// when it was stored. Returns the removed rumors.
func (s *rumorStore[R]) RemoveIf(f func(r R, storedAt time.Time) bool) []R {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []R
	for key, entries := range s.rumors {
		for id, e := range entries {
			if f(e.rumor, e.storedAt) {
				delete(entries, id)
				removed = append(removed, e.rumor)
			}
		}
		if len(entries) == 0 {
			delete(s.rumors, key)
		}
	}
	if len(removed) > 0 {
		s.updateGaugeLocked()
	}
	return removed
}

// Update replaces every rumor where f returns true with the rumor returned
// by f. Returns the number of updated rumors.
func (s *rumorStore[R]) Update(f func(r R) (R, bool)) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := 0
	for _, entries := range s.rumors {
		for _, e := range entries {
			r, ok := f(e.rumor)
			if !ok {
				continue
			}
			e.rumor = r
			e.heard = 0
			e.storedAt = s.now()
			updated++
		}
	}
	return updated
}

// Len returns the number of stored rumors.
func (s *rumorStore[R]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.lenLocked()
}

func (s *rumorStore[R]) lenLocked() int {
	n := 0
	for _, entries := range s.rumors {
		n += len(entries)
	}
	return n
}

func (s *rumorStore[R]) updateGaugeLocked() {
	if s.gauge != nil {
		s.gauge.Set(float64(s.lenLocked()))
	}
}

// rumorStores contains the store for each rumor kind other than membership.
type rumorStores struct {
	services       *rumorStore[Service]
	serviceConfigs *rumorStore[ServiceConfig]
	serviceFiles   *rumorStore[ServiceFile]
	elections      *rumorStore[Election]
	departures     *rumorStore[Departure]
}

func newRumorStores(metrics *Metrics) *rumorStores {
	gauge := func(kind RumorKind) prometheus.Gauge {
		return metrics.Rumors.WithLabelValues(kind.String())
	}
	return &rumorStores{
		services:       newRumorStore[Service](gauge(RumorKindService)),
		serviceConfigs: newRumorStore[ServiceConfig](gauge(RumorKindServiceConfig)),
		serviceFiles:   newRumorStore[ServiceFile](gauge(RumorKindServiceFile)),
		elections:      newRumorStore[Election](gauge(RumorKindElection)),
		departures:     newRumorStore[Departure](gauge(RumorKindDeparture)),
	}
}

// selectForGossip adds up to max rumors of each kind to the batch.
func (s *rumorStores) selectForGossip(batch *rumors, max int) {
	batch.Services = s.services.SelectForGossip(max)
	batch.ServiceConfigs = s.serviceConfigs.SelectForGossip(max)
	batch.ServiceFiles = s.serviceFiles.SelectForGossip(max)
	batch.Elections = s.elections.SelectForGossip(max)
	batch.Departures = s.departures.SelectForGossip(max)
}

// fullState adds every stored rumor to the batch.
func (s *rumorStores) fullState(batch *rumors) {
	batch.Services = s.services.All()
	batch.ServiceConfigs = s.serviceConfigs.All()
	batch.ServiceFiles = s.serviceFiles.All()
	batch.Elections = s.elections.All()
	batch.Departures = s.departures.All()
}

// rumor returns the rumor of the given kind, key and ID.
func (s *rumorStores) rumor(kind RumorKind, key, id string) (Rumor, bool) {
	switch kind {
	case RumorKindService:
		return getRumor(s.services, key, id)
	case RumorKindServiceConfig:
		return getRumor(s.serviceConfigs, key, id)
	case RumorKindServiceFile:
		return getRumor(s.serviceFiles, key, id)
	case RumorKindElection:
		return getRumor(s.elections, key, id)
	case RumorKindDeparture:
		return getRumor(s.departures, key, id)
	default:
		return nil, false
	}
}

// all returns every rumor of the given kind.
func (s *rumorStores) all(kind RumorKind) []Rumor {
	switch kind {
	case RumorKindService:
		return toRumors(s.services.All())
	case RumorKindServiceConfig:
		return toRumors(s.serviceConfigs.All())
	case RumorKindServiceFile:
		return toRumors(s.serviceFiles.All())
	case RumorKindElection:
		return toRumors(s.elections.All())
	case RumorKindDeparture:
		return toRumors(s.departures.All())
	default:
		return nil
	}
}

func getRumor[R mergeable[R]](s *rumorStore[R], key, id string) (Rumor, bool) {
	r, ok := s.Get(key, id)
	if !ok {
		return nil, false
	}
	return r, true
}

func toRumors[R Rumor](rs []R) []Rumor {
	rumors := make([]Rumor, 0, len(rs))
	for _, r := range rs {
		rumors = append(rumors, r)
	}
	return rumors
}
