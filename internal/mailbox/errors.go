package mailbox

import "errors"

var (
	// ErrInvalidCommand is returned when a command kind or payload fails validation.
	ErrInvalidCommand = errors.New("mailbox: invalid command")

	// ErrInvalidSlot is returned for an unknown latest-value slot name.
	ErrInvalidSlot = errors.New("mailbox: invalid slot")

	// ErrInvalidValue is returned when a slot value is empty or not valid JSON.
	ErrInvalidValue = errors.New("mailbox: invalid value")

	// ErrInvalidFlag is returned for an empty or oversized flag name.
	ErrInvalidFlag = errors.New("mailbox: invalid flag")
)
