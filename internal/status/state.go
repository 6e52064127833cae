package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/wallwatch/internal/bus"
)

// State is the lifecycle state of a wall watch.
type State string

const (
	Idle    State = "IDLE"
	Running State = "RUNNING"
	Stopped State = "STOPPED"
)

// validTransitions defines allowed state transitions. Stopped is terminal.
var validTransitions = map[State][]State{
	Idle:    {Running, Stopped},
	Running: {Stopped},
}

// Machine tracks and enforces the lifecycle of one watch.
type Machine struct {
	mu      sync.RWMutex
	current State
	wallID  int64
	bus     *bus.Bus
}

// NewMachine creates a new state machine in the Idle state.
func NewMachine(wallID int64, b *bus.Bus) *Machine {
	return &Machine{
		current: Idle,
		wallID:  wallID,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Is reports whether the machine is in s.
func (m *Machine) Is(s State) bool {
	return m.Current() == s
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindStatusChanged,
			WallID:    m.wallID,
			Timestamp: time.Now(),
			Payload: StatusChange{
				WallID: m.wallID,
				From:   from,
				To:     to,
			},
		})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	WallID int64
	From   State
	To     State
}
