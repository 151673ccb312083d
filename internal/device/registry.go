package device

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/relaybox/internal/mailbox"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// entry is one registered device and its mailbox.
type entry struct {
	mu     sync.Mutex // Protects device
	device Device
	box    *mailbox.Mailbox
}

func (e *entry) snapshot() Device {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.device
}

// Registry owns every registered device and its mailbox.
//
// All public methods are thread-safe.
type Registry struct {
	mu         sync.RWMutex      // Protects entries and order
	entries    map[string]*entry // Devices by ID
	order      []string          // Registration order
	maxPending int
	logger     Logger

	persister   Persister
	persistMode PersistMode
	flushMu     sync.Mutex
	flushCh     chan struct{}
	done        chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
}

// NewRegistry creates an empty registry.
// maxPending caps each device's command queue (0 means unbounded).
func NewRegistry(maxPending int) *Registry {
	return &Registry{
		entries:    make(map[string]*entry),
		maxPending: maxPending,
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Register creates the device on first call and refreshes lastSeenAt on later
// calls. The model is only replaced when a non-empty model is supplied.
// Re-registration never clears mailbox state.
func (r *Registry) Register(ctx context.Context, id, model string) (Device, bool, error) {
	if err := ValidateDeviceID(id); err != nil {
		return Device{}, false, err
	}
	model, err := normaliseModel(model)
	if err != nil {
		return Device{}, false, err
	}

	now := time.Now().UTC()

	var dev Device
	r.mu.Lock()
	e, exists := r.entries[id]
	if !exists {
		if model == "" {
			model = DefaultModel
		}
		e = &entry{
			device: Device{ID: id, Model: model, RegisteredAt: now, LastSeenAt: now},
			box:    mailbox.New(r.maxPending),
		}
		r.entries[id] = e
		r.order = append(r.order, id)
		// Copied before unlocking; once published, Touch may write it.
		dev = e.device
	}
	r.mu.Unlock()

	if exists {
		e.mu.Lock()
		e.device.LastSeenAt = now
		if model != "" {
			e.device.Model = model
		}
		dev = e.device
		e.mu.Unlock()
		r.logger.Debug("device re-registered", "device_id", id, "model", dev.Model)
	} else {
		r.logger.Info("device registered", "device_id", id, "model", dev.Model)
	}

	if err := r.afterMutation(ctx); err != nil {
		return dev, !exists, err
	}
	return dev, !exists, nil
}

// Exists reports whether id has been registered.
func (r *Registry) Exists(id string) bool {
	return r.lookup(id) != nil
}

// Get returns a copy of the device record.
// Returns ErrDeviceNotFound if the device is not registered.
func (r *Registry) Get(id string) (Device, error) {
	e := r.lookup(id)
	if e == nil {
		return Device{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return e.snapshot(), nil
}

// ListAll returns every device in registration order.
func (r *Registry) ListAll() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	devices := make([]Device, 0, len(r.order))
	for _, id := range r.order {
		devices = append(devices, r.entries[id].snapshot())
	}
	return devices
}

// Touch records device activity. Unknown IDs are ignored.
func (r *Registry) Touch(id string) {
	e := r.lookup(id)
	if e == nil {
		return
	}
	e.mu.Lock()
	e.device.LastSeenAt = time.Now().UTC()
	e.mu.Unlock()
}

// Enqueue appends cmd to the device's pending queue.
// It returns how many of the oldest commands were evicted by the queue cap.
func (r *Registry) Enqueue(ctx context.Context, id string, cmd mailbox.Command) (int, error) {
	e := r.lookup(id)
	if e == nil {
		return 0, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}

	evicted := e.box.Enqueue(cmd)
	if evicted > 0 {
		r.logger.Warn("pending queue full, dropped oldest commands",
			"device_id", id, "evicted", evicted, "max_pending", r.maxPending)
	}
	return evicted, r.afterMutation(ctx)
}

// DrainPending removes and returns every pending command for the device.
// Unknown devices yield an empty slice. The result is never nil.
func (r *Registry) DrainPending(ctx context.Context, id string) []mailbox.Command {
	e := r.lookup(id)
	if e == nil {
		return []mailbox.Command{}
	}

	cmds := e.box.DrainPending()
	if len(cmds) > 0 {
		// The commands are already handed over; a failed flush cannot undo that.
		_ = r.afterMutation(ctx) //nolint:errcheck // logged in afterMutation
	}
	return cmds
}

// TakeLatestCommand removes the pending queue and returns only its newest command.
// superseded counts the older commands discarded with it.
func (r *Registry) TakeLatestCommand(ctx context.Context, id string) (cmd mailbox.Command, superseded int, ok bool) {
	e := r.lookup(id)
	if e == nil {
		return mailbox.Command{}, 0, false
	}

	cmd, superseded, ok = e.box.TakeLatest()
	if ok {
		_ = r.afterMutation(ctx) //nolint:errcheck // logged in afterMutation
	}
	if superseded > 0 {
		r.logger.Info("older commands superseded", "device_id", id, "superseded", superseded)
	}
	return cmd, superseded, ok
}

// SetLatest replaces the value held in one of the device's latest-value slots.
func (r *Registry) SetLatest(ctx context.Context, id string, slot mailbox.Slot, value json.RawMessage) error {
	e := r.lookup(id)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	if err := e.box.SetLatest(slot, value); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return r.afterMutation(ctx)
}

// GetLatest returns the value held in a latest-value slot.
// Unknown devices and unwritten slots yield the slot's empty default.
func (r *Registry) GetLatest(id string, slot mailbox.Slot) json.RawMessage {
	e := r.lookup(id)
	if e == nil {
		return slot.Empty()
	}
	return e.box.GetLatest(slot)
}

// SetFlag sets a named wait flag on the device.
func (r *Registry) SetFlag(ctx context.Context, id, name string, value bool) error {
	e := r.lookup(id)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	if err := e.box.SetFlag(name, value); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return r.afterMutation(ctx)
}

// Flag returns a named wait flag. Unknown devices and unset flags are false.
func (r *Registry) Flag(id, name string) bool {
	e := r.lookup(id)
	if e == nil {
		return false
	}
	return e.box.Flag(name)
}

// PendingCount returns the number of queued commands for the device.
func (r *Registry) PendingCount(id string) int {
	e := r.lookup(id)
	if e == nil {
		return 0
	}
	return e.box.Len()
}

// Stats returns the device count and total pending commands.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := Stats{Devices: len(r.entries)}
	for _, e := range r.entries {
		st.Pending += e.box.Len()
	}
	return st
}

// Snapshot returns a deep copy of every device and mailbox in registration order.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{
		TakenAt: time.Now().UTC(),
		Devices: make([]DeviceState, 0, len(r.order)),
	}
	for _, id := range r.order {
		e := r.entries[id]
		snap.Devices = append(snap.Devices, DeviceState{
			Device:  e.snapshot(),
			Mailbox: e.box.Snapshot(),
		})
	}
	return snap
}

// Restore replaces the registry contents with snap.
// Entries with invalid or duplicate IDs are skipped. Returns the number of
// devices restored. Restore does not trigger a persistence flush.
func (r *Registry) Restore(snap Snapshot) int {
	entries := make(map[string]*entry, len(snap.Devices))
	order := make([]string, 0, len(snap.Devices))

	for _, ds := range snap.Devices {
		id := ds.Device.ID
		if err := ValidateDeviceID(id); err != nil {
			r.logger.Warn("skipping invalid device in snapshot", "device_id", id, "error", err)
			continue
		}
		if _, dup := entries[id]; dup {
			continue
		}
		dev := ds.Device
		if dev.Model == "" {
			dev.Model = DefaultModel
		}
		entries[id] = &entry{device: dev, box: mailbox.Restore(ds.Mailbox, r.maxPending)}
		order = append(order, id)
	}

	r.mu.Lock()
	r.entries = entries
	r.order = order
	r.mu.Unlock()

	r.logger.Info("registry restored from snapshot", "devices", len(order), "taken_at", snap.TakenAt)
	return len(order)
}

func (r *Registry) lookup(id string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id]
}
