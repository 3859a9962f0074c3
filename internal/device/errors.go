package device

import "errors"

// Domain errors for the device package.
//
//	if errors.Is(err, device.ErrDroneNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDroneNotFound is returned when no drone matches the lookup.
	ErrDroneNotFound = errors.New("device: drone not found")

	// ErrDroneExists is returned when a serial number, username or
	// registration request is already bound to a drone.
	ErrDroneExists = errors.New("device: drone already exists")

	// ErrStaleHeartbeat is returned when a heartbeat is older than the one
	// already recorded.
	ErrStaleHeartbeat = errors.New("device: stale heartbeat")

	// ErrInvalidStatus is returned for an unknown status filter.
	ErrInvalidStatus = errors.New("device: invalid status")
)
