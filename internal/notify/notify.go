// Package notify wakes devices over MQTT when a command is queued for them.
//
// A wake message tells the device to poll now; it never carries the command
// payload. Devices that miss it still receive the command on their next
// scheduled poll.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/relaybox/internal/infrastructure/mqtt"
	"github.com/nerrad567/relaybox/internal/mailbox"
)

// Publisher publishes a JSON document to an MQTT topic.
// *mqtt.Client satisfies it.
type Publisher interface {
	PublishJSON(topic string, v any) error
}

// WakeMessage is the body published on relaybox/devices/{id}/wake.
type WakeMessage struct {
	DeviceID  string       `json:"deviceId"`
	CommandID string       `json:"commandId"`
	Kind      mailbox.Kind `json:"type"`
	CreatedAt time.Time    `json:"createdAt"`
}

// MQTTNotifier publishes a wake message for every queued command.
type MQTTNotifier struct {
	pub Publisher
}

// NewMQTTNotifier creates a notifier publishing through pub.
func NewMQTTNotifier(pub Publisher) *MQTTNotifier {
	return &MQTTNotifier{pub: pub}
}

// NotifyCommand publishes the wake message. It satisfies dispatch.Notifier.
func (n *MQTTNotifier) NotifyCommand(ctx context.Context, deviceID string, cmd mailbox.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := WakeMessage{
		DeviceID:  deviceID,
		CommandID: cmd.ID,
		Kind:      cmd.Kind,
		CreatedAt: cmd.CreatedAt,
	}
	if err := n.pub.PublishJSON(mqtt.Topics{}.DeviceWake(deviceID), msg); err != nil {
		return fmt.Errorf("publishing wake for %s: %w", deviceID, err)
	}
	return nil
}
