package command

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/dronefleet-core/internal/device"
)

type publishCall struct {
	topic   string
	payload []byte
}

// fakeBridge records publishes and returns a fixed result.
type fakeBridge struct {
	mu     sync.Mutex
	result bool
	calls  []publishCall
}

func (b *fakeBridge) PublishJSON(topic string, v any) bool {
	payload, err := json.Marshal(v)
	if err != nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, publishCall{topic: topic, payload: payload})
	return b.result
}

func (b *fakeBridge) last(t *testing.T) (string, map[string]any) {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.calls) == 0 {
		t.Fatal("no publish recorded")
	}
	c := b.calls[len(b.calls)-1]
	var m map[string]any
	if err := json.Unmarshal(c.payload, &m); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	return c.topic, m
}

type fakeDrones map[string]*device.Drone

func (f fakeDrones) GetByID(_ context.Context, id string) (*device.Drone, error) {
	d, ok := f[id]
	if !ok {
		return nil, device.ErrDroneNotFound
	}
	return d, nil
}

func newTestPublisher(result bool) (*Publisher, *fakeBridge) {
	bridge := &fakeBridge{result: result}
	p := NewPublisher(bridge, nil, "ns")
	p.now = func() time.Time { return time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC) }
	return p, bridge
}

func TestSendCommand(t *testing.T) {
	p, bridge := newTestPublisher(true)

	res, err := p.SendCommand(context.Background(), "D", TypeArm, map[string]any{"force": true})
	if err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	if !res.Published || res.Topic != "ns/D/commands" || res.CommandID == "" {
		t.Errorf("result = %+v", res)
	}

	topic, env := bridge.last(t)
	if topic != "ns/D/commands" {
		t.Errorf("topic = %q, want ns/D/commands", topic)
	}
	if env["commandId"] != res.CommandID || env["droneId"] != "D" || env["type"] != "ARM" {
		t.Errorf("envelope = %v", env)
	}
	if env["timestamp"] != "2026-10-15T09:30:00Z" {
		t.Errorf("timestamp = %v", env["timestamp"])
	}
	params, ok := env["parameters"].(map[string]any)
	if !ok || params["force"] != true {
		t.Errorf("parameters = %v", env["parameters"])
	}
}

func TestSendCommand_FreshIDs(t *testing.T) {
	p, _ := newTestPublisher(true)

	a, _ := p.SendCommand(context.Background(), "D", TypeLand, nil) //nolint:errcheck // valid command
	b, _ := p.SendCommand(context.Background(), "D", TypeLand, nil) //nolint:errcheck // valid command
	if a.CommandID == b.CommandID {
		t.Error("command IDs repeated")
	}
}

func TestSendCommand_PublishResultUnmodified(t *testing.T) {
	p, _ := newTestPublisher(false)

	res, err := p.SendCommand(context.Background(), "D", TypeRTL, nil)
	if err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	if res.Published {
		t.Error("Published = true, want bridge result false")
	}
}

func TestSendCommand_Invalid(t *testing.T) {
	p, bridge := newTestPublisher(true)

	tests := []struct {
		name    string
		droneID string
		typ     Type
	}{
		{"unknown type", "D", Type("SELF_DESTRUCT")},
		{"empty type", "D", Type("")},
		{"empty drone", "", TypeLand},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := p.SendCommand(context.Background(), tt.droneID, tt.typ, nil); !errors.Is(err, ErrInvalidCommand) {
				t.Errorf("SendCommand() error = %v, want ErrInvalidCommand", err)
			}
		})
	}
	if len(bridge.calls) != 0 {
		t.Errorf("invalid commands published %d times", len(bridge.calls))
	}
}

func TestSendCommand_DroneLookup(t *testing.T) {
	bridge := &fakeBridge{result: true}
	drones := fakeDrones{"D": {ID: "D", CommandTopic: "ns/D/commands"}}
	p := NewPublisher(bridge, drones, "ns")

	if _, err := p.SendCommand(context.Background(), "D", TypeTakePhoto, nil); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	if _, err := p.SendCommand(context.Background(), "missing", TypeTakePhoto, nil); !errors.Is(err, ErrDroneNotFound) {
		t.Errorf("SendCommand(missing) error = %v, want ErrDroneNotFound", err)
	}
}

func TestConvenienceCommands(t *testing.T) {
	ctx := context.Background()

	t.Run("takeoff default altitude", func(t *testing.T) {
		p, bridge := newTestPublisher(true)
		if _, err := p.Takeoff(ctx, "D", 0); err != nil {
			t.Fatalf("Takeoff() error = %v", err)
		}
		_, env := bridge.last(t)
		params := env["parameters"].(map[string]any)
		if env["type"] != "TAKEOFF" || params["altitude"] != DefaultTakeoffAltitude {
			t.Errorf("envelope = %v", env)
		}
	})

	t.Run("goto", func(t *testing.T) {
		p, bridge := newTestPublisher(true)
		if _, err := p.Goto(ctx, "D", 51.5, -0.12, 40); err != nil {
			t.Fatalf("Goto() error = %v", err)
		}
		_, env := bridge.last(t)
		params := env["parameters"].(map[string]any)
		if params["latitude"] != 51.5 || params["longitude"] != -0.12 || params["altitude"] != 40.0 {
			t.Errorf("parameters = %v", params)
		}
	})

	t.Run("goto out of range", func(t *testing.T) {
		p, _ := newTestPublisher(true)
		if _, err := p.Goto(ctx, "D", 91, 0, 10); !errors.Is(err, ErrInvalidCommand) {
			t.Errorf("Goto() error = %v, want ErrInvalidCommand", err)
		}
	})

	t.Run("rtl and land", func(t *testing.T) {
		p, bridge := newTestPublisher(true)
		if _, err := p.ReturnToLaunch(ctx, "D"); err != nil {
			t.Fatalf("ReturnToLaunch() error = %v", err)
		}
		if _, env := bridge.last(t); env["type"] != "RTL" {
			t.Errorf("type = %v, want RTL", env["type"])
		}
		if _, err := p.Land(ctx, "D"); err != nil {
			t.Fatalf("Land() error = %v", err)
		}
		if _, env := bridge.last(t); env["type"] != "LAND" {
			t.Errorf("type = %v, want LAND", env["type"])
		}
	})
}

func TestResponseStatusValid(t *testing.T) {
	for _, s := range []ResponseStatus{StatusReceived, StatusInProgress, StatusSuccess, StatusFailed, StatusRejected, StatusDeferred} {
		if !s.Valid() {
			t.Errorf("%s.Valid() = false", s)
		}
	}
	if ResponseStatus("DONE").Valid() {
		t.Error("DONE.Valid() = true")
	}
}
