package telemetry

import "errors"

// Per-stage routing errors. They are logged and counted by the router and
// never reach the connection layer.
var (
	// ErrMalformedPayload is returned when a payload cannot be decoded.
	ErrMalformedPayload = errors.New("telemetry: malformed payload")

	// ErrQueueFull is returned when the worker queue cannot accept a message.
	ErrQueueFull = errors.New("telemetry: queue full")

	// ErrStopped is returned for messages arriving after Stop.
	ErrStopped = errors.New("telemetry: router stopped")
)
