package device

import "time"

// Status is the operational state of a drone.
type Status string

// Drone statuses.
const (
	StatusOffline Status = "OFFLINE"
	StatusOnline  Status = "ONLINE"
	StatusFlying  Status = "FLYING"
	StatusIdle    Status = "IDLE"
	StatusError   Status = "ERROR"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOffline, StatusOnline, StatusFlying, StatusIdle, StatusError:
		return true
	}
	return false
}

// Drone is a provisioned device.
type Drone struct {
	ID                    string `json:"id"`
	SerialNumber          string `json:"serialNumber"`
	Model                 string `json:"model"`
	RegistrationRequestID string `json:"registrationRequestId"`

	MQTTBrokerURL  string `json:"mqttBrokerUrl"`
	MQTTUsername   string `json:"mqttUsername"`
	MQTTSecretHash string `json:"-"`
	TelemetryTopic string `json:"telemetryTopic"`
	CommandTopic   string `json:"commandTopic"`

	CurrentStatus       Status     `json:"currentStatus"`
	LastHeartbeatAt     *time.Time `json:"lastHeartbeatAt,omitempty"`
	CredentialsIssuedAt *time.Time `json:"credentialsIssuedAt,omitempty"`

	ApprovedAt time.Time `json:"approvedAt"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Filter narrows List results.
type Filter struct {
	Status Status // optional
}
