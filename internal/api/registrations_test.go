package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/nerrad567/dronefleet-core/internal/infrastructure/config"
	"github.com/nerrad567/dronefleet-core/internal/registration"
)

func (e *testEnv) submit(t *testing.T, serial string) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/drones/registration", registration.Submission{
		SerialNumber: serial,
		Model:        "X500",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("submit %s status = %d, body = %s", serial, w.Code, w.Body.String())
	}
	return decode[registration.SubmitResult](t, w).RequestID
}

func (e *testEnv) approve(t *testing.T, requestID string) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/admin/registrations/"+requestID+"/action", map[string]string{
		"action": "APPROVE",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("approve %s status = %d, body = %s", requestID, w.Code, w.Body.String())
	}
	return decode[registration.ActionResult](t, w).DroneID
}

func TestSubmitRegistration(t *testing.T) {
	env := newTestEnv(t, config.SecurityConfig{})

	w := env.do(t, http.MethodPost, "/api/v1/drones/registration", registration.Submission{
		SerialNumber: "SN-1001",
		Model:        "X500",
		Notes:        "bench unit",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", w.Code, w.Body.String())
	}

	res := decode[registration.SubmitResult](t, w)
	if res.RequestID == "" {
		t.Fatal("requestId is empty")
	}
	want := "https://fleet.example/api/v1/drones/registration/" + res.RequestID + "/status"
	if res.StatusCheckURL != want {
		t.Errorf("statusCheckUrl = %q, want %q", res.StatusCheckURL, want)
	}
}

func TestSubmitRegistration_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     any
		wantCode int
	}{
		{"invalid json", "{not json", http.StatusBadRequest},
		{"serial too short", registration.Submission{SerialNumber: "S", Model: "X500"}, http.StatusBadRequest},
		{"bad serial charset", registration.Submission{SerialNumber: "SN 1001!", Model: "X500"}, http.StatusBadRequest},
		{"missing model", registration.Submission{SerialNumber: "SN-1001"}, http.StatusBadRequest},
		{"notes too long", registration.Submission{SerialNumber: "SN-1001", Model: "X500", Notes: strings.Repeat("n", 1001)}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, config.SecurityConfig{})
			if w := env.do(t, http.MethodPost, "/api/v1/drones/registration", tt.body); w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.wantCode, w.Body.String())
			}
		})
	}
}

func TestSubmitRegistration_DuplicateSerial(t *testing.T) {
	env := newTestEnv(t, config.SecurityConfig{})
	env.submit(t, "SN-DUP")

	w := env.do(t, http.MethodPost, "/api/v1/drones/registration", registration.Submission{
		SerialNumber: "SN-DUP",
		Model:        "X500",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	if resp := decode[Error](t, w); resp.Code != ErrCodeConflict {
		t.Errorf("code = %q, want %q", resp.Code, ErrCodeConflict)
	}
}

func TestRegistrationStatus(t *testing.T) {
	env := newTestEnv(t, config.SecurityConfig{})
	requestID := env.submit(t, "SN-2001")

	w := env.do(t, http.MethodGet, "/api/v1/drones/registration/"+requestID+"/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	view := decode[registration.StatusView](t, w)
	if view.Status != registration.StatusPending {
		t.Errorf("status = %q, want PENDING", view.Status)
	}
	if view.Credentials != nil {
		t.Error("pending request must not carry credentials")
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
}

func TestRegistrationStatus_ApprovedRotatesSecret(t *testing.T) {
	env := newTestEnv(t, config.SecurityConfig{})
	requestID := env.submit(t, "SN-3001")
	droneID := env.approve(t, requestID)

	poll := func() *registration.StatusView {
		w := env.do(t, http.MethodGet, "/api/v1/drones/registration/"+requestID+"/status", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		v := decode[registration.StatusView](t, w)
		return &v
	}

	first := poll()
	if first.Status != registration.StatusApproved || first.DroneID != droneID {
		t.Fatalf("view = %+v, want APPROVED for %s", first, droneID)
	}
	if first.Credentials == nil || first.Credentials.Password == "" {
		t.Fatal("approved request must carry credentials")
	}
	if first.Credentials.CommandTopic != "fleet/"+droneID+"/commands" {
		t.Errorf("commandTopic = %q", first.Credentials.CommandTopic)
	}

	second := poll()
	if second.Credentials == nil || second.Credentials.Password == first.Credentials.Password {
		t.Error("second poll should issue a fresh secret")
	}
}

func TestRegistrationStatus_NotFound(t *testing.T) {
	env := newTestEnv(t, config.SecurityConfig{})

	w := env.do(t, http.MethodGet, "/api/v1/drones/registration/does-not-exist/status", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestListRegistrations(t *testing.T) {
	env := newTestEnv(t, config.SecurityConfig{})
	env.submit(t, "SN-L1")
	env.submit(t, "SN-L2")
	approved := env.submit(t, "SN-L3")
	env.approve(t, approved)

	w := env.do(t, http.MethodGet, "/api/v1/admin/registrations?status=pending&page=0&size=1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	page := decode[registration.Page[registration.StatusView]](t, w)
	if page.Total != 2 || page.TotalPages != 2 || len(page.Items) != 1 {
		t.Errorf("page = total %d pages %d items %d, want 2/2/1", page.Total, page.TotalPages, len(page.Items))
	}
	if len(page.Items) == 1 && page.Items[0].Credentials != nil {
		t.Error("listing must not carry credentials")
	}

	w = env.do(t, http.MethodGet, "/api/v1/admin/registrations", nil)
	if all := decode[registration.Page[registration.StatusView]](t, w); all.Total != 3 {
		t.Errorf("unfiltered total = %d, want 3", all.Total)
	}
}

func TestListRegistrations_BadParams(t *testing.T) {
	env := newTestEnv(t, config.SecurityConfig{})

	for _, q := range []string{"?page=x", "?size=big", "?status=ARCHIVED"} {
		if w := env.do(t, http.MethodGet, "/api/v1/admin/registrations"+q, nil); w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, w.Code)
		}
	}
}

func TestAdminAction(t *testing.T) {
	tests := []struct {
		name     string
		body     any
		wantCode int
		check    func(t *testing.T, env *testEnv, requestID string)
	}{
		{
			name:     "reject with reason",
			body:     map[string]string{"action": "reject", "rejectionReason": "unknown operator"},
			wantCode: http.StatusOK,
			check: func(t *testing.T, env *testEnv, requestID string) {
				w := env.do(t, http.MethodGet, "/api/v1/drones/registration/"+requestID+"/status", nil)
				view := decode[registration.StatusView](t, w)
				if view.Status != registration.StatusRejected || view.AdminNotes != "unknown operator" {
					t.Errorf("view = %+v, want REJECTED with notes", view)
				}
			},
		},
		{name: "unknown action", body: map[string]string{"action": "ARCHIVE"}, wantCode: http.StatusBadRequest},
		{name: "invalid json", body: "[", wantCode: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, config.SecurityConfig{})
			requestID := env.submit(t, "SN-ACT")

			w := env.do(t, http.MethodPost, "/api/v1/admin/registrations/"+requestID+"/action", tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.check != nil {
				tt.check(t, env, requestID)
			}
		})
	}
}

func TestAdminAction_Conflicts(t *testing.T) {
	env := newTestEnv(t, config.SecurityConfig{})
	requestID := env.submit(t, "SN-TWICE")
	env.approve(t, requestID)

	w := env.do(t, http.MethodPost, "/api/v1/admin/registrations/"+requestID+"/action", map[string]string{"action": "REJECT"})
	if w.Code != http.StatusConflict {
		t.Errorf("acting on approved request: status = %d, want 409", w.Code)
	}

	w = env.do(t, http.MethodPost, "/api/v1/admin/registrations/missing/action", map[string]string{"action": "APPROVE"})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown request: status = %d, want 404", w.Code)
	}
}
