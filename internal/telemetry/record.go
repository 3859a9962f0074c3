package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/nerrad567/dronefleet-core/internal/command"
)

// Timestamp accepts an RFC 3339 string or a number of epoch seconds
// (fractional part allowed). A JSON null leaves it zero.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("timestamp %q: %w", s, err)
		}
		t.Time = parsed
		return nil
	}

	secs, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("timestamp %s: %w", data, err)
	}
	whole, frac := math.Modf(secs)
	t.Time = time.Unix(int64(whole), int64(frac*float64(time.Second))).UTC()
	return nil
}

// MarshalJSON renders the timestamp as RFC 3339.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time)
}

// Record is one telemetry message from a drone. Every measurement is
// optional; nil means the drone did not report it.
type Record struct {
	DroneID        string    `json:"droneId"`
	Timestamp      Timestamp `json:"timestamp"`
	BatteryLevel   *float64  `json:"batteryLevel,omitempty"`
	BatteryVoltage *float64  `json:"batteryVoltage,omitempty"`
	Latitude       *float64  `json:"latitude,omitempty"`
	Longitude      *float64  `json:"longitude,omitempty"`
	Altitude       *float64  `json:"altitude,omitempty"`
	Speed          *float64  `json:"speed,omitempty"`
	Heading        *float64  `json:"heading,omitempty"`
	Satellites     *int      `json:"satellites,omitempty"`
	SignalStrength *float64  `json:"signalStrength,omitempty"`
	FlightMode     *string   `json:"flightMode,omitempty"`
	Temperature    *float64  `json:"temperature,omitempty"`
}

// applyDefaults fills identity from the topic and the timestamp from the
// receive time when the payload omitted them.
func (r *Record) applyDefaults(topicID string, received time.Time) {
	if r.DroneID == "" {
		r.DroneID = topicID
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = Timestamp{received.UTC()}
	}
}

// Response is a drone's reply to a command.
type Response struct {
	CommandID string                 `json:"commandId"`
	DroneID   string                 `json:"droneId"`
	Timestamp Timestamp              `json:"timestamp"`
	Status    command.ResponseStatus `json:"status"`
	Message   string                 `json:"message,omitempty"`
}
