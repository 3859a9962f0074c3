package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/dronefleet-core/internal/audit"
	"github.com/nerrad567/dronefleet-core/internal/registration"
)

// handleSubmitRegistration accepts a registration request from a drone.
// The drone polls the returned status URL until an operator decides.
func (s *Server) handleSubmitRegistration(w http.ResponseWriter, r *http.Request) {
	var sub registration.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	result, err := s.registrations.Submit(r.Context(), sub)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.auditLog(r, audit.ActionRegistrationSubmit, audit.EntityRegistration, result.RequestID, map[string]any{
		"serial_number": sub.SerialNumber,
		"model":         sub.Model,
	})
	writeJSON(w, http.StatusCreated, result)
}

// handleRegistrationStatus returns the current state of a request. Approved
// requests carry broker credentials.
func (s *Server) handleRegistrationStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	view, err := s.registrations.GetStatus(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	// Credentials must never be cached by intermediaries.
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, view)
}

// handleListRegistrations lists requests for operators, newest first.
//
// Query parameters:
//   - status: PENDING, APPROVED or REJECTED (optional)
//   - page: zero-based page number
//   - size: page size (clamped to the configured maximum)
func (s *Server) handleListRegistrations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := registration.Status(strings.ToUpper(q.Get("status")))

	page, err := intParam(q.Get("page"))
	if err != nil {
		writeBadRequest(w, "page must be an integer")
		return
	}
	size, err := intParam(q.Get("size"))
	if err != nil {
		writeBadRequest(w, "size must be an integer")
		return
	}

	result, err := s.registrations.ListRequests(r.Context(), status, page, size)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// adminActionRequest is the body of POST /admin/registrations/{id}/action.
type adminActionRequest struct {
	Action          registration.Action `json:"action"`
	RejectionReason string              `json:"rejectionReason,omitempty"`
}

// handleAdminAction approves or rejects a pending request.
func (s *Server) handleAdminAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body adminActionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	result, err := s.registrations.ProcessAdminAction(r.Context(), registration.AdminAction{
		RequestID:       id,
		Action:          registration.Action(strings.ToUpper(string(body.Action))),
		RejectionReason: body.RejectionReason,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	action := audit.ActionRegistrationApprove
	details := map[string]any{"drone_id": result.DroneID}
	if result.Action == registration.ActionReject {
		action = audit.ActionRegistrationReject
		details = map[string]any{"reason": body.RejectionReason}
	}
	s.auditLog(r, action, audit.EntityRegistration, id, details)

	writeJSON(w, http.StatusOK, result)
}

// intParam parses an optional integer query parameter; empty means zero.
func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
