package device

import "errors"

var (
	// ErrDeviceNotFound means the device id was never registered.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrInvalidArgument wraps validation failures for ids, models, slots
	// and flag names.
	ErrInvalidArgument = errors.New("device: invalid argument")

	// ErrPersist is returned in sync persistence mode when the snapshot
	// flush fails. The in-memory change has already been applied.
	ErrPersist = errors.New("device: persist failed")
)
