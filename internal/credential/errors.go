package credential

import "errors"

var (
	// ErrInvalidDeviceID is returned when a username cannot be derived.
	ErrInvalidDeviceID = errors.New("credential: invalid device id")

	// ErrInvalidHash is returned when a stored hash cannot be decoded.
	ErrInvalidHash = errors.New("credential: invalid hash")
)
