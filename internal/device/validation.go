package device

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Validation constants.
const (
	maxIDLength    = 128
	maxModelLength = 100
)

// ValidateDeviceID checks that id is usable as a registry key.
// Empty and whitespace-only IDs are rejected, as are IDs over 128 characters.
func ValidateDeviceID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: deviceId is required", ErrInvalidArgument)
	}
	if utf8.RuneCountInString(id) > maxIDLength {
		return fmt.Errorf("%w: deviceId exceeds %d characters", ErrInvalidArgument, maxIDLength)
	}
	return nil
}

// normaliseModel trims the model and enforces the length limit.
// An empty result means "not supplied".
func normaliseModel(model string) (string, error) {
	model = strings.TrimSpace(model)
	if utf8.RuneCountInString(model) > maxModelLength {
		return "", fmt.Errorf("%w: model exceeds %d characters", ErrInvalidArgument, maxModelLength)
	}
	return model, nil
}
