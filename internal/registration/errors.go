package registration

import "errors"

// Domain errors for the registration package.
var (
	// ErrNotFound is returned when a request ID does not exist.
	ErrNotFound = errors.New("registration: request not found")

	// ErrDuplicateSerial is returned when a non-rejected request or a drone
	// already uses the serial number.
	ErrDuplicateSerial = errors.New("registration: serial number already registered or pending")

	// ErrInvalidState is returned when acting on a request that is no longer PENDING.
	ErrInvalidState = errors.New("registration: request is not pending")

	// ErrInvalidInput is returned when a submission or action fails validation.
	ErrInvalidInput = errors.New("registration: invalid input")
)
