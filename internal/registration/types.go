package registration

import "time"

// Status is the lifecycle state of a registration request.
type Status string

// Request statuses.
const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusApproved || s == StatusRejected
}

// Action is an operator decision on a pending request.
type Action string

// Admin actions.
const (
	ActionApprove Action = "APPROVE"
	ActionReject  Action = "REJECT"
)

// Request is a persisted registration request.
type Request struct {
	ID           string     `json:"requestId"`
	SerialNumber string     `json:"serialNumber"`
	Model        string     `json:"model"`
	Notes        string     `json:"notes,omitempty"`
	Status       Status     `json:"status"`
	RequestedAt  time.Time  `json:"requestedAt"`
	ProcessedAt  *time.Time `json:"processedAt,omitempty"`
	AdminNotes   string     `json:"adminNotes,omitempty"`
	DroneID      string     `json:"droneId,omitempty"`
}

// Submission is the input to Submit.
type Submission struct {
	SerialNumber string `json:"serialNumber"`
	Model        string `json:"model"`
	Notes        string `json:"notes,omitempty"`
}

// SubmitResult is returned to the drone after a successful submission.
type SubmitResult struct {
	RequestID      string `json:"requestId"`
	Message        string `json:"message"`
	StatusCheckURL string `json:"statusCheckUrl"`
}

// Credentials are the broker connection details handed to an approved drone.
type Credentials struct {
	BrokerURL      string `json:"brokerUrl"`
	Username       string `json:"username"`
	Password       string `json:"password"`
	TelemetryTopic string `json:"telemetryTopic"`
	CommandTopic   string `json:"commandTopic"`
}

// StatusView is a request as seen by the polling drone or an operator.
type StatusView struct {
	RequestID    string       `json:"requestId"`
	SerialNumber string       `json:"serialNumber"`
	Model        string       `json:"model"`
	Status       Status       `json:"status"`
	RequestedAt  time.Time    `json:"requestedAt"`
	ProcessedAt  *time.Time   `json:"processedAt,omitempty"`
	DroneID      string       `json:"droneId,omitempty"`
	AdminNotes   string       `json:"adminNotes,omitempty"`
	Message      string       `json:"message"`
	Credentials  *Credentials `json:"credentials,omitempty"`
}

// AdminAction is the input to ProcessAdminAction.
type AdminAction struct {
	RequestID       string `json:"requestId"`
	Action          Action `json:"action"`
	RejectionReason string `json:"rejectionReason,omitempty"`
}

// ActionResult reports the outcome of an admin action.
type ActionResult struct {
	RequestID string `json:"requestId"`
	Action    Action `json:"action"`
	DroneID   string `json:"droneId,omitempty"`
	Message   string `json:"message"`
}

// Page is one page of a listing.
type Page[T any] struct {
	Items      []T `json:"items"`
	Page       int `json:"page"`
	Size       int `json:"size"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// NotificationType distinguishes registration events.
type NotificationType string

// Notification types.
const (
	NotificationNew    NotificationType = "NEW_REGISTRATION"
	NotificationUpdate NotificationType = "REGISTRATION_UPDATE"
)

// Notification is the payload broadcast on the registrations channel.
type Notification struct {
	Type         NotificationType `json:"type"`
	RequestID    string           `json:"requestId"`
	SerialNumber string           `json:"serialNumber"`
	Model        string           `json:"model"`
	Status       Status           `json:"status"`
	RequestedAt  time.Time        `json:"requestedAt"`
	ProcessedAt  *time.Time       `json:"processedAt,omitempty"`
}
