package device

import (
	"time"

	"github.com/nerrad567/relaybox/internal/mailbox"
)

// DefaultModel is stored when a device registers without a model.
const DefaultModel = "unknown"

// Device is a registered endpoint that polls for commands.
type Device struct {
	ID           string    `json:"deviceId"`
	Model        string    `json:"model"`
	RegisteredAt time.Time `json:"registeredAt"`
	LastSeenAt   time.Time `json:"lastSeenAt"`
}

// DeviceState pairs a device record with its mailbox contents.
type DeviceState struct {
	Device  Device        `json:"device"`
	Mailbox mailbox.State `json:"mailbox"`
}

// Snapshot is a point-in-time copy of the whole registry.
// Devices are listed in registration order.
type Snapshot struct {
	TakenAt time.Time     `json:"takenAt"`
	Devices []DeviceState `json:"devices"`
}

// Stats summarises registry contents.
type Stats struct {
	Devices int `json:"devices"`
	Pending int `json:"pending"`
}
