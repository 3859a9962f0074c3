package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/nerrad567/dronefleet-core/internal/command"
	"github.com/nerrad567/dronefleet-core/internal/device"
	"github.com/nerrad567/dronefleet-core/internal/infrastructure/config"
)

// provision submits and approves a request, returning the new drone ID.
func (e *testEnv) provision(t *testing.T, serial string) string {
	t.Helper()
	return e.approve(t, e.submit(t, serial))
}

func TestListDrones(t *testing.T) {
	env := newTestEnv(t, config.SecurityConfig{})

	w := env.do(t, http.MethodGet, "/api/v1/drones", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if resp := decode[map[string]any](t, w); resp["count"] != float64(0) {
		t.Errorf("count = %v, want 0", resp["count"])
	}

	env.provision(t, "SN-D1")
	env.provision(t, "SN-D2")

	w = env.do(t, http.MethodGet, "/api/v1/drones?status=offline", nil)
	resp := decode[struct {
		Drones []device.Drone `json:"drones"`
		Count  int            `json:"count"`
	}](t, w)
	if resp.Count != 2 || len(resp.Drones) != 2 {
		t.Fatalf("offline drones = %d, want 2", resp.Count)
	}
	for _, d := range resp.Drones {
		if d.CurrentStatus != device.StatusOffline {
			t.Errorf("drone %s status = %q, want OFFLINE", d.ID, d.CurrentStatus)
		}
	}

	w = env.do(t, http.MethodGet, "/api/v1/drones?status=online", nil)
	if online := decode[map[string]any](t, w); online["count"] != float64(0) {
		t.Errorf("online count = %v, want 0", online["count"])
	}
}

func TestListDrones_InvalidStatus(t *testing.T) {
	env := newTestEnv(t, config.SecurityConfig{})

	if w := env.do(t, http.MethodGet, "/api/v1/drones?status=hovering", nil); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestGetDrone(t *testing.T) {
	env := newTestEnv(t, config.SecurityConfig{})
	droneID := env.provision(t, "SN-G1")

	w := env.do(t, http.MethodGet, "/api/v1/drones/"+droneID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if body := w.Body.String(); containsAny(body, "secretHash", "mqttSecretHash", "$argon2id$") {
		t.Errorf("drone response leaks secret hash: %s", body)
	}
	d := decode[device.Drone](t, w)
	if d.SerialNumber != "SN-G1" || d.Model != "X500" {
		t.Errorf("drone = %+v", d)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/drones/missing", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing drone status = %d, want 404", w.Code)
	}
}

func TestSendCommand(t *testing.T) {
	env := newTestEnv(t, config.SecurityConfig{})
	droneID := env.provision(t, "SN-C1")

	w := env.do(t, http.MethodPost, "/api/v1/drones/"+droneID+"/commands", map[string]any{
		"type":       "arm",
		"parameters": map[string]any{"force": true},
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (body %s)", w.Code, w.Body.String())
	}
	res := decode[command.Result](t, w)
	if res.Type != command.TypeArm || !res.Published || res.CommandID == "" {
		t.Errorf("result = %+v", res)
	}
	if res.Topic != "fleet/"+droneID+"/commands" {
		t.Errorf("topic = %q", res.Topic)
	}
}

func TestConvenienceCommands(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		body     any
		wantType command.Type
		wantCode int
	}{
		{"rtl", "/rtl", nil, command.TypeRTL, http.StatusAccepted},
		{"land", "/land", nil, command.TypeLand, http.StatusAccepted},
		{"takeoff default altitude", "/takeoff", nil, command.TypeTakeoff, http.StatusAccepted},
		{"takeoff altitude", "/takeoff", map[string]float64{"altitude": 25}, command.TypeTakeoff, http.StatusAccepted},
		{"goto", "/goto", map[string]float64{"latitude": 51.5, "longitude": -0.12, "altitude": 40}, command.TypeGoto, http.StatusAccepted},
		{"goto missing position", "/goto", map[string]float64{"altitude": 40}, "", http.StatusBadRequest},
		{"goto out of range", "/goto", map[string]float64{"latitude": 91, "longitude": 0}, "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, config.SecurityConfig{})
			droneID := env.provision(t, "SN-CONV")

			w := env.do(t, http.MethodPost, "/api/v1/drones/"+droneID+tt.path, tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantType != "" {
				if res := decode[command.Result](t, w); res.Type != tt.wantType {
					t.Errorf("type = %q, want %q", res.Type, tt.wantType)
				}
			}
		})
	}
}

func TestSendCommand_Errors(t *testing.T) {
	env := newTestEnv(t, config.SecurityConfig{})
	droneID := env.provision(t, "SN-E1")

	tests := []struct {
		name     string
		path     string
		body     any
		wantCode int
	}{
		{"unknown type", "/api/v1/drones/" + droneID + "/commands", map[string]string{"type": "BARREL_ROLL"}, http.StatusBadRequest},
		{"invalid json", "/api/v1/drones/" + droneID + "/commands", "{", http.StatusBadRequest},
		{"unknown drone", "/api/v1/drones/missing/commands", map[string]string{"type": "ARM"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := env.do(t, http.MethodPost, tt.path, tt.body); w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.wantCode, w.Body.String())
			}
		})
	}
}

func TestSendCommand_BrokerDown(t *testing.T) {
	env := newTestEnv(t, config.SecurityConfig{})
	droneID := env.provision(t, "SN-DOWN")
	env.bridge.setConnected(false)

	w := env.do(t, http.MethodPost, "/api/v1/drones/"+droneID+"/land", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	resp := decode[map[string]any](t, w)
	if resp["code"] != ErrCodeUnavailable || resp["commandId"] == "" {
		t.Errorf("response = %v", resp)
	}
}

func TestSendCommand_NotConfigured(t *testing.T) {
	env := newTestEnv(t, config.SecurityConfig{})
	env.srv.commands = nil

	if w := env.do(t, http.MethodPost, "/api/v1/drones/any/rtl", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
