package mqtt

import (
	"fmt"
	"strings"
)

// Topic kinds under a drone's namespace: <namespace>/<droneId>/<kind>.
const (
	KindTelemetry = "telemetry"
	KindCommands  = "commands"
	KindResponses = "responses"
)

// System topics owned by the bridge itself.
const (
	// TopicBridgeStatus carries the retained online/offline status and the LWT.
	TopicBridgeStatus = "system/bridge/status"

	// topicCanaryPrefix is the base for self-test round trip topics.
	topicCanaryPrefix = "system/check"
)

// Topics builds and parses drone topics for one namespace.
//
//	topics := mqtt.Topics{Namespace: "drones"}
//	topics.Telemetry("D")   // "drones/D/telemetry"
//	topics.AllResponses()   // "drones/+/responses"
type Topics struct {
	Namespace string
}

// Telemetry returns the topic a drone publishes telemetry on.
func (t Topics) Telemetry(droneID string) string {
	return t.drone(droneID, KindTelemetry)
}

// Commands returns the topic a drone receives commands on.
func (t Topics) Commands(droneID string) string {
	return t.drone(droneID, KindCommands)
}

// Responses returns the topic a drone publishes command responses on.
func (t Topics) Responses(droneID string) string {
	return t.drone(droneID, KindResponses)
}

// AllTelemetry is the subscription filter for every drone's telemetry.
func (t Topics) AllTelemetry() string {
	return t.drone("+", KindTelemetry)
}

// AllResponses is the subscription filter for every drone's command responses.
func (t Topics) AllResponses() string {
	return t.drone("+", KindResponses)
}

// Canary returns the self-test round trip topic for one probe.
//
// Example: system/check/5f0c...
func (Topics) Canary(probeID string) string {
	return fmt.Sprintf("%s/%s", topicCanaryPrefix, probeID)
}

func (t Topics) drone(droneID, kind string) string {
	return fmt.Sprintf("%s/%s/%s", t.Namespace, droneID, kind)
}

// Parse splits an inbound drone topic into the identity segment and kind.
// It fails closed: anything other than exactly <namespace>/<id>/<kind> with a
// non-empty, wildcard-free id and a kind of telemetry or responses is
// rejected with ErrInvalidTopic.
func (t Topics) Parse(topic string) (droneID, kind string, err error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 { //nolint:mnd // namespace/id/kind
		return "", "", fmt.Errorf("%w: %q has %d segments", ErrInvalidTopic, topic, len(parts))
	}
	if parts[0] != t.Namespace {
		return "", "", fmt.Errorf("%w: %q outside namespace %q", ErrInvalidTopic, topic, t.Namespace)
	}

	droneID, kind = parts[1], parts[2]
	if droneID == "" || strings.ContainsAny(droneID, "+#") {
		return "", "", fmt.Errorf("%w: %q has no drone id", ErrInvalidTopic, topic)
	}
	if kind != KindTelemetry && kind != KindResponses {
		return "", "", fmt.Errorf("%w: %q is not an inbound kind", ErrInvalidTopic, topic)
	}
	return droneID, kind, nil
}
