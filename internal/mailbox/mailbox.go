package mailbox

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Mailbox is a single device's command queue plus its latest-value and flag slots.
//
// All methods are safe for concurrent use.
type Mailbox struct {
	mu         sync.Mutex
	pending    []Command
	latest     map[Slot]json.RawMessage
	flags      map[string]bool
	maxPending int
}

// State is a point-in-time copy of a mailbox, used for persistence.
type State struct {
	Pending []Command                `json:"pending"`
	Latest  map[Slot]json.RawMessage `json:"latest,omitempty"`
	Flags   map[string]bool          `json:"flags,omitempty"`
}

// New creates an empty mailbox. maxPending caps the command queue; 0 means unbounded.
func New(maxPending int) *Mailbox {
	if maxPending < 0 {
		maxPending = 0
	}
	return &Mailbox{
		pending:    []Command{},
		latest:     make(map[Slot]json.RawMessage),
		flags:      make(map[string]bool),
		maxPending: maxPending,
	}
}

// Restore rebuilds a mailbox from a persisted State.
// If the restored queue exceeds maxPending the oldest commands are dropped.
func Restore(st State, maxPending int) *Mailbox {
	m := New(maxPending)
	m.pending = append(m.pending, st.Pending...)
	if m.maxPending > 0 && len(m.pending) > m.maxPending {
		m.pending = append([]Command{}, m.pending[len(m.pending)-m.maxPending:]...)
	}
	for slot, v := range st.Latest {
		if slot.Valid() && json.Valid(v) {
			m.latest[slot] = cloneRaw(v)
		}
	}
	for name, v := range st.Flags {
		m.flags[name] = v
	}
	return m
}

// Enqueue appends cmd to the pending queue.
// It returns the number of oldest commands evicted to respect the queue cap.
func (m *Mailbox) Enqueue(cmd Command) (evicted int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pending = append(m.pending, cmd)
	if m.maxPending > 0 && len(m.pending) > m.maxPending {
		evicted = len(m.pending) - m.maxPending
		// Copy so the evicted commands are not pinned by the backing array.
		m.pending = append([]Command{}, m.pending[evicted:]...)
	}
	return evicted
}

// DrainPending returns every pending command in insertion order and empties
// the queue. The result is never nil.
func (m *Mailbox) DrainPending() []Command {
	m.mu.Lock()
	defer m.mu.Unlock()

	drained := m.pending
	m.pending = []Command{}
	return drained
}

// TakeLatest returns the newest pending command and empties the queue.
// superseded is the number of older commands discarded with it.
// ok is false when the queue was empty.
func (m *Mailbox) TakeLatest() (cmd Command, superseded int, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.pending)
	if n == 0 {
		return Command{}, 0, false
	}
	cmd = m.pending[n-1]
	m.pending = []Command{}
	return cmd, n - 1, true
}

// Len returns the number of pending commands.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// SetLatest replaces the value held in slot.
func (m *Mailbox) SetLatest(slot Slot, value json.RawMessage) error {
	if !slot.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSlot, slot)
	}
	if len(value) == 0 || !json.Valid(value) {
		return fmt.Errorf("%w: slot %s requires a JSON value", ErrInvalidValue, slot)
	}
	stored := cloneRaw(value)

	m.mu.Lock()
	m.latest[slot] = stored
	m.mu.Unlock()
	return nil
}

// GetLatest returns a copy of the value held in slot, or the slot's empty
// default if nothing has been written.
func (m *Mailbox) GetLatest(slot Slot) json.RawMessage {
	m.mu.Lock()
	v, ok := m.latest[slot]
	m.mu.Unlock()

	if !ok {
		return slot.Empty()
	}
	return cloneRaw(v)
}

// SetFlag sets a named boolean flag.
func (m *Mailbox) SetFlag(name string, value bool) error {
	if err := validateFlagName(name); err != nil {
		return err
	}
	m.mu.Lock()
	m.flags[name] = value
	m.mu.Unlock()
	return nil
}

// Flag returns the value of a named flag; unset flags are false.
func (m *Mailbox) Flag(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flags[name]
}

// Snapshot returns a deep copy of the mailbox state.
func (m *Mailbox) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := State{
		Pending: append([]Command{}, m.pending...),
		Latest:  make(map[Slot]json.RawMessage, len(m.latest)),
		Flags:   make(map[string]bool, len(m.flags)),
	}
	for slot, v := range m.latest {
		st.Latest[slot] = cloneRaw(v)
	}
	for name, v := range m.flags {
		st.Flags[name] = v
	}
	return st
}

func cloneRaw(v json.RawMessage) json.RawMessage {
	out := make(json.RawMessage, len(v))
	copy(out, v)
	return out
}
