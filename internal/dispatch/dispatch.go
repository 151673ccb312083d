// Package dispatch validates admin commands and queues them in device mailboxes.
//
// After a command is queued the Dispatcher runs its synchronous notifiers
// (the audit trail) and then fires its background notifiers (MQTT wake-up,
// WebSocket admin feed). Notifier failures are logged and never fail the
// dispatch: the command is already in the mailbox and will be picked up on
// the device's next poll.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/relaybox/internal/device"
	"github.com/nerrad567/relaybox/internal/mailbox"
)

// Mailbox event names passed to a Recorder.
const (
	EventCommandQueued  = "command_queued"
	EventCommandEvicted = "commands_evicted"
)

// notifyTimeout bounds a single notifier call.
const notifyTimeout = 5 * time.Second

// Logger defines the logging interface used by the Dispatcher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Notifier is told about every queued command.
type Notifier interface {
	NotifyCommand(ctx context.Context, deviceID string, cmd mailbox.Command) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, deviceID string, cmd mailbox.Command) error

// NotifyCommand calls f.
func (f NotifierFunc) NotifyCommand(ctx context.Context, deviceID string, cmd mailbox.Command) error {
	return f(ctx, deviceID, cmd)
}

// Recorder receives mailbox event counts for time-series storage.
type Recorder interface {
	RecordMailboxEvent(deviceID, event string, count int)
}

// Dispatcher turns admin requests into queued commands.
type Dispatcher struct {
	registry  *device.Registry
	sync      []Notifier
	notifiers []Notifier
	recorder  Recorder
	logger    Logger
}

// New creates a Dispatcher that queues into registry.
func New(registry *device.Registry) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// AddNotifier registers a hook fired after each successful enqueue.
// Not safe to call concurrently with Dispatch.
func (d *Dispatcher) AddNotifier(n Notifier) {
	d.notifiers = append(d.notifiers, n)
}

// AddSyncNotifier registers a hook run before Dispatch returns and before any
// background notifier fires. Not safe to call concurrently with Dispatch.
func (d *Dispatcher) AddSyncNotifier(n Notifier) {
	d.sync = append(d.sync, n)
}

// SetRecorder sets the event recorder.
func (d *Dispatcher) SetRecorder(r Recorder) {
	d.recorder = r
}

// Dispatch validates the request, queues a new command and fires notifiers.
//
// Errors:
//   - device.ErrInvalidArgument: empty device ID, unknown kind or missing payload fields
//   - device.ErrDeviceNotFound: device is not registered
//   - device.ErrPersist: sync persistence failed (the command is still queued)
func (d *Dispatcher) Dispatch(ctx context.Context, deviceID string, kind mailbox.Kind, payload mailbox.Payload) (mailbox.Command, error) {
	if strings.TrimSpace(deviceID) == "" {
		return mailbox.Command{}, fmt.Errorf("%w: deviceId is required", device.ErrInvalidArgument)
	}
	if !d.registry.Exists(deviceID) {
		return mailbox.Command{}, fmt.Errorf("%w: %s", device.ErrDeviceNotFound, deviceID)
	}

	cmd, err := mailbox.NewCommand(kind, payload)
	if err != nil {
		return mailbox.Command{}, fmt.Errorf("%w: %w", device.ErrInvalidArgument, err)
	}

	evicted, err := d.registry.Enqueue(ctx, deviceID, cmd)
	if err != nil && !errors.Is(err, device.ErrPersist) {
		return mailbox.Command{}, fmt.Errorf("queueing command: %w", err)
	}
	persistErr := err

	if kind == mailbox.KindMediaRequest {
		if ferr := d.registry.SetFlag(ctx, deviceID, mailbox.FlagMedia, true); ferr != nil && persistErr == nil {
			persistErr = ferr
		}
	}

	d.logger.Info("command queued",
		"device_id", deviceID,
		"command_id", cmd.ID,
		"kind", string(cmd.Kind),
	)
	d.record(deviceID, EventCommandQueued, 1)
	if evicted > 0 {
		d.record(deviceID, EventCommandEvicted, evicted)
	}
	d.notifySync(ctx, deviceID, cmd)
	d.notify(ctx, deviceID, cmd)

	if persistErr != nil {
		return cmd, persistErr
	}
	return cmd, nil
}

// notifySync runs the synchronous notifiers in registration order.
func (d *Dispatcher) notifySync(ctx context.Context, deviceID string, cmd mailbox.Command) {
	if len(d.sync) == 0 {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	for _, n := range d.sync {
		if err := n.NotifyCommand(nctx, deviceID, cmd); err != nil {
			d.logger.Warn("command notifier failed",
				"device_id", deviceID,
				"command_id", cmd.ID,
				"error", err,
			)
		}
	}
}

// notify runs every notifier in the background, detached from the request context.
func (d *Dispatcher) notify(ctx context.Context, deviceID string, cmd mailbox.Command) {
	if len(d.notifiers) == 0 {
		return
	}
	base := context.WithoutCancel(ctx)
	for _, n := range d.notifiers {
		go func(n Notifier) {
			nctx, cancel := context.WithTimeout(base, notifyTimeout)
			defer cancel()
			if err := n.NotifyCommand(nctx, deviceID, cmd); err != nil {
				d.logger.Warn("command notifier failed",
					"device_id", deviceID,
					"command_id", cmd.ID,
					"error", err,
				)
			}
		}(n)
	}
}

func (d *Dispatcher) record(deviceID, event string, count int) {
	if d.recorder != nil {
		d.recorder.RecordMailboxEvent(deviceID, event, count)
	}
}
