package device

import (
	"errors"
	"fmt"
)

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device id or prefix does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrForbidden is returned when the requester does not own the device.
	ErrForbidden = errors.New("device: access denied")

	// ErrConflict is the parent of every uniqueness violation.
	ErrConflict = errors.New("device: conflict")

	// ErrMonitorExists is returned when a user already owns a monitor of the requested kind.
	ErrMonitorExists = fmt.Errorf("%w: monitor already exists", ErrConflict)

	// ErrPrefixInUse is returned when another device already uses the prefix.
	ErrPrefixInUse = fmt.Errorf("%w: mqtt prefix already in use", ErrConflict)

	// ErrInvalidDevice is returned when request validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrOrphanDevice is returned when a device has no owning user.
	// It signals corrupted state, not a bad request.
	ErrOrphanDevice = errors.New("device: no owning user")
)
