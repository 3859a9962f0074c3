// Package telemetry routes inbound drone messages from the MQTT bridge.
//
// Two topic shapes are consumed:
//
//	<namespace>/<droneId>/telemetry   -> timeseries sink + heartbeat
//	<namespace>/<droneId>/responses   -> logged and broadcast
//
// The bridge callback only enqueues into a bounded queue; a full queue drops
// the message. Workers parse the topic (failing closed on anything
// unexpected), decode the payload and route it. Sink writes are
// fire-and-forget. Heartbeat writes go through a circuit breaker so a failing
// store does not stall the workers.
package telemetry
