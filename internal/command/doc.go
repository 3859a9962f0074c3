// Package command publishes commands to drones through the MQTT bridge.
//
// A command is wrapped in an Envelope with a fresh command ID and published
// to <namespace>/<droneId>/commands at QoS 1. Sending is fire-and-forget:
// the result reflects only whether the broker accepted the publish.
package command
