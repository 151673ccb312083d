package mailbox

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind identifies what a command asks the device to do.
type Kind string

// Command kinds.
const (
	KindSMS           Kind = "sms"
	KindContactSync   Kind = "contact_sync"
	KindDeviceDetails Kind = "device_details"
	KindUSSD          Kind = "ussd"
	KindMediaRequest  Kind = "media_request"
)

// AllKinds returns all supported command kinds.
func AllKinds() []Kind {
	return []Kind{KindSMS, KindContactSync, KindDeviceDetails, KindUSSD, KindMediaRequest}
}

// Valid reports whether k is a supported command kind.
func (k Kind) Valid() bool {
	for _, known := range AllKinds() {
		if k == known {
			return true
		}
	}
	return false
}

// Payload carries the kind-specific command fields.
// Only the fields relevant to the command's kind are kept.
type Payload struct {
	Number  string `json:"number,omitempty"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
	SimSlot *int   `json:"simSlot,omitempty"`
}

// Command is an instruction queued for a device.
// Commands are immutable once created.
type Command struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"type"`
	Payload   Payload   `json:"payload"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewCommand validates the payload for kind and returns a command with a fresh UUID.
func NewCommand(kind Kind, payload Payload) (Command, error) {
	normalised, err := NormalisePayload(kind, payload)
	if err != nil {
		return Command{}, err
	}
	return Command{
		ID:        uuid.NewString(),
		Kind:      kind,
		Payload:   normalised,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// NormalisePayload checks the fields required by kind and strips the rest.
//
// Rules:
//   - sms: number and message are required
//   - ussd: code is required, simSlot defaults to 0 and must not be negative
//   - contact_sync, device_details, media_request: no fields
func NormalisePayload(kind Kind, p Payload) (Payload, error) {
	switch kind {
	case KindSMS:
		number := strings.TrimSpace(p.Number)
		if number == "" {
			return Payload{}, fmt.Errorf("%w: number is required", ErrInvalidCommand)
		}
		if strings.TrimSpace(p.Message) == "" {
			return Payload{}, fmt.Errorf("%w: message is required", ErrInvalidCommand)
		}
		return Payload{Number: number, Message: p.Message}, nil

	case KindUSSD:
		code := strings.TrimSpace(p.Code)
		if code == "" {
			return Payload{}, fmt.Errorf("%w: code is required", ErrInvalidCommand)
		}
		slot := 0
		if p.SimSlot != nil {
			slot = *p.SimSlot
		}
		if slot < 0 {
			return Payload{}, fmt.Errorf("%w: simSlot must not be negative", ErrInvalidCommand)
		}
		return Payload{Code: code, SimSlot: &slot}, nil

	case KindContactSync, KindDeviceDetails, KindMediaRequest:
		return Payload{}, nil

	default:
		return Payload{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidCommand, kind)
	}
}
