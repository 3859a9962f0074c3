package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/dronefleet-core/internal/device"
	"github.com/nerrad567/dronefleet-core/internal/infrastructure/mqtt"
)

// DefaultTakeoffAltitude is used when Takeoff is called without a positive altitude (metres).
const DefaultTakeoffAltitude = 10.0

// Logger defines the logging interface used by the Publisher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Bridge publishes JSON payloads to the broker. It reports success as a
// bool and never returns an error.
type Bridge interface {
	PublishJSON(topic string, v any) bool
}

// DroneLookup resolves a drone by ID.
type DroneLookup interface {
	GetByID(ctx context.Context, id string) (*device.Drone, error)
}

// Publisher builds command envelopes and hands them to the bridge. It never
// waits for the drone to acknowledge; responses arrive on the drone's
// responses topic and are handled by the telemetry router.
type Publisher struct {
	bridge Bridge
	drones DroneLookup
	topics mqtt.Topics
	logger Logger
	now    func() time.Time
}

// NewPublisher creates a Publisher. When drones is nil the command topic is
// derived from the namespace without checking that the drone exists.
func NewPublisher(bridge Bridge, drones DroneLookup, namespace string) *Publisher {
	return &Publisher{
		bridge: bridge,
		drones: drones,
		topics: mqtt.Topics{Namespace: namespace},
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger.
func (p *Publisher) SetLogger(logger Logger) {
	p.logger = logger
}

// SendCommand publishes a command to droneID's command topic.
//
// An error is returned only when the command could not be built: unknown
// type, or an unknown drone. Otherwise Result.Published is the bridge's
// publish result, unmodified.
func (p *Publisher) SendCommand(ctx context.Context, droneID string, cmdType Type, params map[string]any) (Result, error) {
	if !cmdType.Valid() {
		return Result{}, fmt.Errorf("%w: unknown type %q", ErrInvalidCommand, cmdType)
	}

	topic, err := p.commandTopic(ctx, droneID)
	if err != nil {
		return Result{}, err
	}

	env := Envelope{
		CommandID:  uuid.NewString(),
		DroneID:    droneID,
		Timestamp:  p.now().UTC(),
		Type:       cmdType,
		Parameters: params,
	}

	published := p.bridge.PublishJSON(topic, env)
	if published {
		p.logger.Info("command published",
			"drone_id", droneID,
			"command_id", env.CommandID,
			"type", string(cmdType),
		)
	} else {
		p.logger.Warn("command not published",
			"drone_id", droneID,
			"command_id", env.CommandID,
			"type", string(cmdType),
		)
	}

	return Result{
		CommandID: env.CommandID,
		DroneID:   droneID,
		Type:      cmdType,
		Topic:     topic,
		Published: published,
	}, nil
}

// ReturnToLaunch sends an RTL command.
func (p *Publisher) ReturnToLaunch(ctx context.Context, droneID string) (Result, error) {
	return p.SendCommand(ctx, droneID, TypeRTL, nil)
}

// Land sends a LAND command.
func (p *Publisher) Land(ctx context.Context, droneID string) (Result, error) {
	return p.SendCommand(ctx, droneID, TypeLand, nil)
}

// Takeoff sends a TAKEOFF command. A non-positive altitude uses
// DefaultTakeoffAltitude.
func (p *Publisher) Takeoff(ctx context.Context, droneID string, altitude float64) (Result, error) {
	if altitude <= 0 {
		altitude = DefaultTakeoffAltitude
	}
	return p.SendCommand(ctx, droneID, TypeTakeoff, map[string]any{"altitude": altitude})
}

// Goto sends a GOTO command to the given position.
func (p *Publisher) Goto(ctx context.Context, droneID string, latitude, longitude, altitude float64) (Result, error) {
	if latitude < -90 || latitude > 90 || longitude < -180 || longitude > 180 {
		return Result{}, fmt.Errorf("%w: position %f,%f out of range", ErrInvalidCommand, latitude, longitude)
	}
	return p.SendCommand(ctx, droneID, TypeGoto, map[string]any{
		"latitude":  latitude,
		"longitude": longitude,
		"altitude":  altitude,
	})
}

func (p *Publisher) commandTopic(ctx context.Context, droneID string) (string, error) {
	if droneID == "" {
		return "", fmt.Errorf("%w: empty drone id", ErrInvalidCommand)
	}
	if p.drones == nil {
		return p.topics.Commands(droneID), nil
	}

	drone, err := p.drones.GetByID(ctx, droneID)
	if errors.Is(err, device.ErrDroneNotFound) {
		return "", fmt.Errorf("%w: %s", ErrDroneNotFound, droneID)
	}
	if err != nil {
		return "", fmt.Errorf("looking up drone %s: %w", droneID, err)
	}
	if drone.CommandTopic != "" {
		return drone.CommandTopic, nil
	}
	return p.topics.Commands(droneID), nil
}
