package gossip

import (
	"fmt"
)

// Health is the health of a member as observed by the cluster.
//
// Health values are totally ordered, Alive < Suspect < Confirmed < Departed,
// where at equal incarnations a worse health always wins a merge.
type Health uint8

const (
	// HealthAlive means the member is responding to probes.
	HealthAlive Health = iota
	// HealthSuspect means a probe of the member failed and it has not yet
	// refuted the suspicion.
	HealthSuspect
	// HealthConfirmed means the member was suspect for longer than the
	// suspicion timeout.
	HealthConfirmed
	// HealthDeparted means the member left the cluster, either gracefully or
	// after being confirmed for longer than the departure timeout.
	HealthDeparted
)

// Valid returns whether h is a known health value.
func (h Health) Valid() bool {
	return h <= HealthDeparted
}

func (h Health) String() string {
	switch h {
	case HealthAlive:
		return "alive"
	case HealthSuspect:
		return "suspect"
	case HealthConfirmed:
		return "confirmed"
	case HealthDeparted:
		return "departed"
	default:
		return "unknown"
	}
}

func (h Health) MarshalText() ([]byte, error) {
	if !h.Valid() {
		return nil, fmt.Errorf("invalid health: %d", h)
	}
	return []byte(h.String()), nil
}

func (h *Health) UnmarshalText(b []byte) error {
	switch string(b) {
	case "alive":
		*h = HealthAlive
	case "suspect":
		*h = HealthSuspect
	case "confirmed":
		*h = HealthConfirmed
	case "departed":
		*h = HealthDeparted
	default:
		return fmt.Errorf("invalid health: %s", string(b))
	}
	return nil
}
