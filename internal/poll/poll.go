// Package poll implements the device-facing side of the mailbox.
//
// Devices poll on their own schedule; there is no long-polling. Three
// variants exist:
//
//   - drain_all: every pending command, oldest first, delivered exactly once
//   - latest_only: only the newest command; older ones are discarded
//   - wait flags: a boolean slot read independently of the command queue
//
// Polling an unregistered device is not an error. It returns an empty result.
package poll

import (
	"context"
	"fmt"

	"github.com/nerrad567/relaybox/internal/device"
	"github.com/nerrad567/relaybox/internal/mailbox"
)

// Mode selects how pending commands are handed to a polling device.
type Mode string

// Poll modes.
const (
	ModeDrainAll   Mode = "drain_all"
	ModeLatestOnly Mode = "latest_only"
)

// Mailbox event names passed to a Recorder.
const (
	EventCommandsDelivered  = "commands_delivered"
	EventCommandsSuperseded = "commands_superseded"
)

// ParseMode converts a mode name to a Mode. An empty name yields ModeDrainAll.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeDrainAll, nil
	case ModeDrainAll, ModeLatestOnly:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("%w: poll mode %q", device.ErrInvalidArgument, s)
	}
}

// Result is what a polling device receives.
type Result struct {
	HasCommands bool              `json:"hasCommands"`
	Commands    []mailbox.Command `json:"commands"`
	Superseded  int               `json:"superseded,omitempty"`
}

// Logger defines the logging interface used by the Service.
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

// Recorder receives mailbox event counts for time-series storage.
type Recorder interface {
	RecordMailboxEvent(deviceID, event string, count int)
}

// DeliveryListener is told when commands leave a mailbox.
type DeliveryListener interface {
	CommandsDelivered(deviceID string, cmds []mailbox.Command, superseded int)
}

// Service hands pending commands to polling devices.
type Service struct {
	registry  *device.Registry
	mode      Mode
	recorder  Recorder
	listeners []DeliveryListener
	logger    Logger
}

// New creates a poll service using mode as the default.
// An empty or unknown mode becomes ModeDrainAll.
func New(registry *device.Registry, mode Mode) *Service {
	mode, err := ParseMode(string(mode))
	if err != nil {
		mode = ModeDrainAll
	}
	return &Service{
		registry: registry,
		mode:     mode,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	s.logger = logger
}

// SetRecorder sets the event recorder.
func (s *Service) SetRecorder(r Recorder) {
	s.recorder = r
}

// AddDeliveryListener registers a listener for delivered commands.
// Not safe to call concurrently with Poll.
func (s *Service) AddDeliveryListener(l DeliveryListener) {
	s.listeners = append(s.listeners, l)
}

// Mode returns the configured default mode.
func (s *Service) Mode() Mode {
	return s.mode
}

// Poll returns pending commands using the configured mode.
func (s *Service) Poll(ctx context.Context, deviceID string) Result {
	return s.PollMode(ctx, deviceID, s.mode)
}

// PollMode returns pending commands using an explicit mode.
// Unknown modes fall back to the configured default.
func (s *Service) PollMode(ctx context.Context, deviceID string, mode Mode) Result {
	if !s.registry.Exists(deviceID) {
		s.logger.Debug("poll from unregistered device", "device_id", deviceID)
		return Result{Commands: []mailbox.Command{}}
	}
	s.registry.Touch(deviceID)

	if mode != ModeDrainAll && mode != ModeLatestOnly {
		mode = s.mode
	}

	var res Result
	switch mode {
	case ModeLatestOnly:
		res = s.latestOnly(ctx, deviceID)
	default:
		res = s.drainAll(ctx, deviceID)
	}

	if res.HasCommands {
		s.logger.Info("commands delivered",
			"device_id", deviceID,
			"count", len(res.Commands),
			"superseded", res.Superseded,
			"mode", string(mode),
		)
		s.record(deviceID, EventCommandsDelivered, len(res.Commands))
		if res.Superseded > 0 {
			s.record(deviceID, EventCommandsSuperseded, res.Superseded)
		}
		for _, l := range s.listeners {
			l.CommandsDelivered(deviceID, res.Commands, res.Superseded)
		}
	}
	return res
}

// WaitFlag reports a named wait flag. Unknown devices yield false.
func (s *Service) WaitFlag(_ context.Context, deviceID, name string) bool {
	if !s.registry.Exists(deviceID) {
		return false
	}
	s.registry.Touch(deviceID)
	return s.registry.Flag(deviceID, name)
}

func (s *Service) drainAll(ctx context.Context, deviceID string) Result {
	cmds := s.registry.DrainPending(ctx, deviceID)
	return Result{HasCommands: len(cmds) > 0, Commands: cmds}
}

func (s *Service) latestOnly(ctx context.Context, deviceID string) Result {
	cmd, superseded, ok := s.registry.TakeLatestCommand(ctx, deviceID)
	if !ok {
		return Result{Commands: []mailbox.Command{}}
	}
	return Result{
		HasCommands: true,
		Commands:    []mailbox.Command{cmd},
		Superseded:  superseded,
	}
}

func (s *Service) record(deviceID, event string, count int) {
	if s.recorder != nil {
		s.recorder.RecordMailboxEvent(deviceID, event, count)
	}
}
