package command

import (
	"time"
)

// Type is a drone command type.
type Type string

// Command types understood by the drone firmware.
const (
	TypeArm            Type = "ARM"
	TypeDisarm         Type = "DISARM"
	TypeRTL            Type = "RTL"
	TypeTakeoff        Type = "TAKEOFF"
	TypeLand           Type = "LAND"
	TypeGoto           Type = "GOTO"
	TypeStartMission   Type = "START_MISSION"
	TypePauseMission   Type = "PAUSE_MISSION"
	TypeResumeMission  Type = "RESUME_MISSION"
	TypeCancelMission  Type = "CANCEL_MISSION"
	TypeTakePhoto      Type = "TAKE_PHOTO"
	TypeStartRecording Type = "START_RECORDING"
	TypeStopRecording  Type = "STOP_RECORDING"
	TypeCustom         Type = "CUSTOM"
)

var validTypes = map[Type]bool{
	TypeArm: true, TypeDisarm: true, TypeRTL: true, TypeTakeoff: true,
	TypeLand: true, TypeGoto: true, TypeStartMission: true, TypePauseMission: true,
	TypeResumeMission: true, TypeCancelMission: true, TypeTakePhoto: true,
	TypeStartRecording: true, TypeStopRecording: true, TypeCustom: true,
}

// Valid reports whether t is a known command type.
func (t Type) Valid() bool {
	return validTypes[t]
}

// ResponseStatus is the execution status a drone reports for a command.
type ResponseStatus string

// Response statuses.
const (
	StatusReceived   ResponseStatus = "RECEIVED"
	StatusInProgress ResponseStatus = "IN_PROGRESS"
	StatusSuccess    ResponseStatus = "SUCCESS"
	StatusFailed     ResponseStatus = "FAILED"
	StatusRejected   ResponseStatus = "REJECTED"
	StatusDeferred   ResponseStatus = "DEFERRED"
)

// Valid reports whether s is a known response status.
func (s ResponseStatus) Valid() bool {
	switch s {
	case StatusReceived, StatusInProgress, StatusSuccess, StatusFailed, StatusRejected, StatusDeferred:
		return true
	}
	return false
}

// Envelope is the JSON message published on a drone's command topic.
type Envelope struct {
	CommandID  string         `json:"commandId"`
	DroneID    string         `json:"droneId"`
	Timestamp  time.Time      `json:"timestamp"`
	Type       Type           `json:"type"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Result describes one send attempt.
type Result struct {
	CommandID string `json:"commandId"`
	DroneID   string `json:"droneId"`
	Type      Type   `json:"type"`
	Topic     string `json:"topic"`
	Published bool   `json:"published"`
}
