package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/dronefleet-core/internal/command"
	"github.com/nerrad567/dronefleet-core/internal/device"
	"github.com/nerrad567/dronefleet-core/internal/infrastructure/mqtt"
)

type point struct {
	measurement string
	tags        map[string]string
	fields      map[string]any
	ts          time.Time
}

type fakeSink struct {
	mu     sync.Mutex
	points []point
}

func (s *fakeSink) WritePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points = append(s.points, point{measurement, tags, fields, ts})
}

func (s *fakeSink) all() []point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]point(nil), s.points...)
}

type touch struct {
	identity string
	at       time.Time
}

type fakeHeartbeats struct {
	mu      sync.Mutex
	err     error
	touches []touch
}

func (h *fakeHeartbeats) TouchHeartbeat(_ context.Context, identity string, at time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.touches = append(h.touches, touch{identity, at})
	return h.err
}

func (h *fakeHeartbeats) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.touches)
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []any
}

func (n *fakeNotifier) Broadcast(_ string, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, payload)
}

var fixedNow = time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)

func newTestRouter() (*Router, *fakeSink, *fakeHeartbeats) {
	sink := &fakeSink{}
	hb := &fakeHeartbeats{}
	r := NewRouter(sink, hb, Options{Namespace: "ns", Workers: 2, QueueSize: 8})
	r.now = func() time.Time { return fixedNow }
	return r, sink, hb
}

func TestProcessTelemetry(t *testing.T) {
	r, sink, hb := newTestRouter()

	payload := `{"droneId":"SN-001","timestamp":"2026-10-15T09:59:58Z","batteryLevel":87.5,"satellites":12,"flightMode":"HOVER"}`
	if err := r.Process(context.Background(), "ns/D/telemetry", []byte(payload)); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	points := sink.all()
	if len(points) != 1 {
		t.Fatalf("sink points = %d, want 1", len(points))
	}
	p := points[0]
	if p.measurement != Measurement || p.tags[TagDroneID] != "SN-001" {
		t.Errorf("point = %s %v", p.measurement, p.tags)
	}
	want := map[string]any{"battery_level": 87.5, "satellites": int64(12), "flight_mode": "HOVER"}
	if len(p.fields) != len(want) {
		t.Errorf("fields = %v, want %v", p.fields, want)
	}
	for k, v := range want {
		if p.fields[k] != v {
			t.Errorf("field %s = %v, want %v", k, p.fields[k], v)
		}
	}
	if !p.ts.Equal(time.Date(2026, 10, 15, 9, 59, 58, 0, time.UTC)) {
		t.Errorf("ts = %v", p.ts)
	}

	if hb.count() != 1 || hb.touches[0].identity != "D" || !hb.touches[0].at.Equal(fixedNow) {
		t.Errorf("touches = %+v, want one for topic identity D at receive time", hb.touches)
	}
}

func TestProcessTelemetry_Defaults(t *testing.T) {
	r, sink, _ := newTestRouter()

	if err := r.Process(context.Background(), "ns/D/telemetry", []byte(`{"altitude":12.5}`)); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	p := sink.all()[0]
	if p.tags[TagDroneID] != "D" {
		t.Errorf("drone_id tag = %q, want topic identity", p.tags[TagDroneID])
	}
	if !p.ts.Equal(fixedNow) {
		t.Errorf("ts = %v, want receive time", p.ts)
	}
}

func TestProcessTelemetry_EpochTimestamp(t *testing.T) {
	r, sink, _ := newTestRouter()

	if err := r.Process(context.Background(), "ns/D/telemetry", []byte(`{"timestamp":1792058400.5,"speed":3}`)); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	want := time.Unix(1792058400, 500_000_000)
	if got := sink.all()[0].ts; !got.Equal(want) {
		t.Errorf("ts = %v, want %v", got, want)
	}
}

func TestProcessTelemetry_NoFieldsNoWrite(t *testing.T) {
	r, sink, hb := newTestRouter()

	if err := r.Process(context.Background(), "ns/D/telemetry", []byte(`{"droneId":"D"}`)); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(sink.all()) != 0 {
		t.Error("empty telemetry was written to the sink")
	}
	if hb.count() != 1 {
		t.Error("heartbeat not recorded for empty telemetry")
	}
}

func TestProcessTelemetry_UnknownDroneStillForwarded(t *testing.T) {
	r, sink, hb := newTestRouter()
	hb.err = device.ErrDroneNotFound

	if err := r.Process(context.Background(), "ns/ghost/telemetry", []byte(`{"batteryLevel":50}`)); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(sink.all()) != 1 {
		t.Error("sink did not receive telemetry for unknown drone")
	}
}

func TestProcess_FailsClosed(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload string
		wantErr error
	}{
		{"empty identity", "ns//telemetry", `{"speed":1}`, mqtt.ErrInvalidTopic},
		{"wrong namespace", "other/D/telemetry", `{"speed":1}`, mqtt.ErrInvalidTopic},
		{"commands topic", "ns/D/commands", `{}`, mqtt.ErrInvalidTopic},
		{"too deep", "ns/D/telemetry/x", `{}`, mqtt.ErrInvalidTopic},
		{"malformed telemetry", "ns/D/telemetry", `{"speed":`, ErrMalformedPayload},
		{"wrong type", "ns/D/telemetry", `{"speed":"fast"}`, ErrMalformedPayload},
		{"bad timestamp", "ns/D/telemetry", `{"timestamp":"yesterday"}`, ErrMalformedPayload},
		{"malformed response", "ns/D/responses", `[]`, ErrMalformedPayload},
		{"unknown response status", "ns/D/responses", `{"commandId":"c","status":"DONE"}`, ErrMalformedPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, sink, hb := newTestRouter()
			err := r.Process(context.Background(), tt.topic, []byte(tt.payload))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Process() error = %v, want %v", err, tt.wantErr)
			}
			if len(sink.all()) != 0 || hb.count() != 0 {
				t.Error("rejected message reached sink or store")
			}
		})
	}
}

func TestProcessResponse(t *testing.T) {
	r, sink, hb := newTestRouter()
	n := &fakeNotifier{}
	r.SetNotifier(n)

	payload := `{"commandId":"cmd-1","status":"SUCCESS","message":"landed"}`
	if err := r.Process(context.Background(), "ns/D/responses", []byte(payload)); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(sink.all()) != 0 || hb.count() != 0 {
		t.Error("response reached sink or heartbeat store")
	}
	if len(n.events) != 1 {
		t.Fatalf("broadcasts = %d, want 1", len(n.events))
	}
	resp := n.events[0].(Response)
	if resp.CommandID != "cmd-1" || resp.DroneID != "D" || resp.Status != command.StatusSuccess {
		t.Errorf("response = %+v", resp)
	}
}

func TestHandleMessage_QueueFull(t *testing.T) {
	sink := &fakeSink{}
	r := NewRouter(sink, nil, Options{Namespace: "ns", Workers: 1, QueueSize: 1})

	// Not started: the first message fills the queue.
	if err := r.HandleMessage("ns/D/telemetry", []byte(`{"speed":1}`)); err != nil {
		t.Fatalf("first HandleMessage() error = %v", err)
	}
	if err := r.HandleMessage("ns/D/telemetry", []byte(`{"speed":2}`)); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("second HandleMessage() error = %v, want ErrQueueFull", err)
	}

	r.Stop()
	if err := r.HandleMessage("ns/D/telemetry", []byte(`{}`)); !errors.Is(err, ErrStopped) {
		t.Errorf("HandleMessage() after Stop error = %v, want ErrStopped", err)
	}
}

func TestWorkersRouteQueuedMessages(t *testing.T) {
	r, sink, _ := newTestRouter()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r.Start(ctx)
	defer r.Stop()

	for _, payload := range []string{`{"speed":1}`, `not json`, `{"speed":2}`} {
		if err := r.HandleMessage("ns/D/telemetry", []byte(payload)); err != nil {
			t.Fatalf("HandleMessage() error = %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(sink.all()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := len(sink.all()); got != 2 {
		t.Errorf("sink points = %d, want 2 (malformed dropped)", got)
	}
}

func TestHeartbeatBreakerOpens(t *testing.T) {
	r, sink, hb := newTestRouter()
	hb.err = errors.New("database is locked")

	for range breakerConsecutiveFailures {
		if err := r.Process(context.Background(), "ns/D/telemetry", []byte(`{"speed":1}`)); err != nil {
			t.Fatalf("Process() error = %v", err)
		}
	}
	if hb.count() != breakerConsecutiveFailures {
		t.Fatalf("store calls = %d, want %d", hb.count(), breakerConsecutiveFailures)
	}

	// Breaker is open: the store is skipped but the sink still gets data.
	if err := r.Process(context.Background(), "ns/D/telemetry", []byte(`{"speed":1}`)); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if hb.count() != breakerConsecutiveFailures {
		t.Errorf("store called while breaker open")
	}
	if got := len(sink.all()); got != breakerConsecutiveFailures+1 {
		t.Errorf("sink points = %d, want %d", got, breakerConsecutiveFailures+1)
	}
}

func TestHeartbeatBreakerIgnoresUnknownDrones(t *testing.T) {
	r, _, hb := newTestRouter()
	hb.err = device.ErrDroneNotFound

	for range breakerConsecutiveFailures + 3 {
		if err := r.Process(context.Background(), "ns/ghost/telemetry", []byte(`{"speed":1}`)); err != nil {
			t.Fatalf("Process() error = %v", err)
		}
	}
	if got := hb.count(); got != breakerConsecutiveFailures+3 {
		t.Errorf("store calls = %d, want every heartbeat attempted", got)
	}
}

func TestFilters(t *testing.T) {
	r, _, _ := newTestRouter()
	got := r.Filters()
	if len(got) != 2 || got[0] != "ns/+/telemetry" || got[1] != "ns/+/responses" {
		t.Errorf("Filters() = %v", got)
	}
}
