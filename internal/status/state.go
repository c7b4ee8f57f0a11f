package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
)

// State is the connectivity state of the sync coordinator.
type State string

const (
	// Stopped means no session is active.
	Stopped State = "STOPPED"
	// Running means a session is active and the remote store is reachable.
	Running State = "RUNNING"
	// Offline means a session is active but the last remote call failed.
	// Local reads and writes keep working; the outbox retries.
	Offline State = "OFFLINE"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Stopped: {Running},
	Running: {Offline, Stopped},
	Offline: {Running, Stopped},
}

// Machine tracks and enforces coordinator state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Stopped state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Stopped,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Active reports whether a session is running, online or not.
func (m *Machine) Active() bool {
	return m.Current() != Stopped
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(to)
}

// Settle moves to the given state if it differs from the current one.
// Staying in place is not an error.
func (m *Machine) Settle(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == to {
		return nil
	}
	return m.transitionLocked(to)
}

func (m *Machine) transitionLocked(to State) error {
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindStatusChanged,
			Timestamp: time.Now(),
			Payload: StatusChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State `json:"from"`
	To   State `json:"to"`
}
