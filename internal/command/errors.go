package command

import "errors"

// Sentinel errors for the command package.
var (
	// ErrInvalidCommand is returned for an unknown command type or bad parameters.
	ErrInvalidCommand = errors.New("command: invalid command")

	// ErrDroneNotFound is returned when the target drone is not registered.
	ErrDroneNotFound = errors.New("command: drone not found")
)
