package mailbox

import (
	"encoding/json"
	"fmt"
)

// Slot names a latest-value telemetry slot.
type Slot string

// Latest-value slots.
const (
	SlotSMS           Slot = "sms"
	SlotContacts      Slot = "contacts"
	SlotDeviceDetails Slot = "device_details"
	SlotMedia         Slot = "media"
)

// Well-known flag names.
const (
	// FlagMedia asks the device to upload media now. Cleared by a media upload.
	FlagMedia = "media"

	// FlagOpen is the single flag used by the legacy /setcmd and /getcmd routes.
	FlagOpen = "open"
)

// maxFlagNameLength bounds flag names taken from URLs.
const maxFlagNameLength = 64

// ParseSlot converts a slot name to a Slot.
func ParseSlot(name string) (Slot, error) {
	s := Slot(name)
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidSlot, name)
	}
	return s, nil
}

// Valid reports whether s is a known slot.
func (s Slot) Valid() bool {
	switch s {
	case SlotSMS, SlotContacts, SlotDeviceDetails, SlotMedia:
		return true
	}
	return false
}

// Empty returns the value reported for a slot nobody has written yet:
// an empty list for contacts and an empty object for everything else.
func (s Slot) Empty() json.RawMessage {
	if s == SlotContacts {
		return json.RawMessage(`[]`)
	}
	return json.RawMessage(`{}`)
}

func validateFlagName(name string) error {
	if name == "" || len(name) > maxFlagNameLength {
		return fmt.Errorf("%w: %q", ErrInvalidFlag, name)
	}
	return nil
}
