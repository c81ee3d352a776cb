package channel

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/plumahq/messaging/internal/bus"
)

// State is the push channel connection state.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Reconnecting State = "RECONNECTING"
)

// validTransitions defines the allowed connection lifecycle:
// disconnected -> connecting -> connected <-> reconnecting -> disconnected.
var validTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Connected, Disconnected},
	Connected:    {Reconnecting, Disconnected},
	Reconnecting: {Connected, Disconnected},
}

// Machine tracks and enforces connection state transitions, publishing
// each change on the bus.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// StateChange is the payload for connection state change events.
type StateChange struct {
	From State
	To   State
}

// NewMachine creates a machine starting in Disconnected.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Disconnected, bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns an error when the
// transition is not allowed.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	if !slices.Contains(validTransitions[m.current], to) {
		from := m.current
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	from := m.current
	m.current = to
	m.mu.Unlock()

	if kind := kindFor(to); m.bus != nil && kind != "" {
		m.bus.Publish(bus.Event{
			Kind:      kind,
			Timestamp: time.Now(),
			Payload:   StateChange{From: from, To: to},
		})
	}
	return nil
}

func kindFor(s State) string {
	switch s {
	case Connected:
		return bus.KindChannelConnected
	case Reconnecting:
		return bus.KindChannelReconnecting
	case Disconnected:
		return bus.KindChannelDisconnected
	default:
		return ""
	}
}
