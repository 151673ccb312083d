package audit

import (
	"context"
	"time"

	"github.com/nerrad567/relaybox/internal/mailbox"
)

// writeTimeout bounds delivery writes, which have no caller context.
const writeTimeout = 2 * time.Second

// Logger is the logging surface used by Trail.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Trail records dispatcher and poller activity into a Repository.
// It satisfies dispatch.Notifier and poll.DeliveryListener. Register it with
// Dispatcher.AddSyncNotifier so queued rows are written before Dispatch returns.
type Trail struct {
	repo   Repository
	logger Logger
	now    func() time.Time
}

// NewTrail creates a Trail writing to repo.
func NewTrail(repo Repository) *Trail {
	return &Trail{repo: repo, logger: noopLogger{}, now: time.Now}
}

// SetLogger sets the logger for failed writes.
func (t *Trail) SetLogger(l Logger) {
	if l != nil {
		t.logger = l
	}
}

// NotifyCommand records a queued command. Only the kind and id are kept.
// The row is stamped with the command's creation time so it sorts before
// any delivery of the same command.
func (t *Trail) NotifyCommand(ctx context.Context, deviceID string, cmd mailbox.Command) error {
	at := cmd.CreatedAt
	if at.IsZero() {
		at = t.now()
	}
	return t.repo.Create(ctx, &Entry{
		Action:    ActionCommandQueued,
		DeviceID:  deviceID,
		CommandID: cmd.ID,
		Kind:      string(cmd.Kind),
		Source:    SourceAdmin,
		CreatedAt: at.UTC(),
	})
}

// CommandsDelivered records one row per delivered command.
func (t *Trail) CommandsDelivered(deviceID string, cmds []mailbox.Command, superseded int) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	now := t.now().UTC()
	for _, cmd := range cmds {
		err := t.repo.Create(ctx, &Entry{
			Action:     ActionCommandDelivered,
			DeviceID:   deviceID,
			CommandID:  cmd.ID,
			Kind:       string(cmd.Kind),
			Superseded: superseded,
			Source:     SourceDevice,
			CreatedAt:  now,
		})
		if err != nil {
			t.logger.Warn("audit write failed",
				"device_id", deviceID,
				"command_id", cmd.ID,
				"error", err,
			)
			return
		}
	}
}
