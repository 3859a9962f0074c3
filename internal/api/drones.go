package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/dronefleet-core/internal/audit"
	"github.com/nerrad567/dronefleet-core/internal/command"
	"github.com/nerrad567/dronefleet-core/internal/device"
)

// handleListDrones returns provisioned drones.
//
// Query parameters:
//   - status: filter by current status (ONLINE, OFFLINE, ...)
func (s *Server) handleListDrones(w http.ResponseWriter, r *http.Request) {
	var filter device.Filter
	if v := r.URL.Query().Get("status"); v != "" {
		filter.Status = device.Status(strings.ToUpper(v))
	}

	drones, err := s.drones.List(r.Context(), filter)
	if err != nil {
		if errors.Is(err, device.ErrInvalidStatus) {
			writeBadRequest(w, err.Error())
			return
		}
		s.logger.Error("failed to list drones", "error", err)
		writeInternalError(w, "failed to list drones")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"drones": drones, "count": len(drones)})
}

// handleGetDrone returns a single drone by ID.
func (s *Server) handleGetDrone(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	drone, err := s.drones.GetByID(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, drone)
}

// commandRequest is the body of POST /drones/{id}/commands.
type commandRequest struct {
	Type       command.Type   `json:"type"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// handleSendCommand publishes an arbitrary command.
func (s *Server) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	var body commandRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	body.Type = command.Type(strings.ToUpper(string(body.Type)))

	s.dispatch(w, r, func(sender CommandSender, droneID string) (command.Result, error) {
		return sender.SendCommand(r.Context(), droneID, body.Type, body.Parameters)
	})
}

func (s *Server) handleReturnToLaunch(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, func(sender CommandSender, droneID string) (command.Result, error) {
		return sender.ReturnToLaunch(r.Context(), droneID)
	})
}

func (s *Server) handleLand(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, func(sender CommandSender, droneID string) (command.Result, error) {
		return sender.Land(r.Context(), droneID)
	})
}

// takeoffRequest is the optional body of POST /drones/{id}/takeoff.
type takeoffRequest struct {
	Altitude float64 `json:"altitude"`
}

// handleTakeoff sends TAKEOFF. An empty body uses the default altitude.
func (s *Server) handleTakeoff(w http.ResponseWriter, r *http.Request) {
	var body takeoffRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	s.dispatch(w, r, func(sender CommandSender, droneID string) (command.Result, error) {
		return sender.Takeoff(r.Context(), droneID, body.Altitude)
	})
}

// gotoRequest is the body of POST /drones/{id}/goto.
type gotoRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Altitude  float64  `json:"altitude"`
}

func (s *Server) handleGoto(w http.ResponseWriter, r *http.Request) {
	var body gotoRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if body.Latitude == nil || body.Longitude == nil {
		writeBadRequest(w, "latitude and longitude are required")
		return
	}

	s.dispatch(w, r, func(sender CommandSender, droneID string) (command.Result, error) {
		return sender.Goto(r.Context(), droneID, *body.Latitude, *body.Longitude, body.Altitude)
	})
}

// dispatch runs a command send and writes the outcome. A command that could
// not be handed to the broker is reported as 503 so callers can retry.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, send func(CommandSender, string) (command.Result, error)) {
	if s.commands == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "command publishing not configured")
		return
	}

	droneID := chi.URLParam(r, "id")
	result, err := send(s.commands, droneID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.auditLog(r, audit.ActionCommandSend, audit.EntityDrone, droneID, map[string]any{
		"command_id": result.CommandID,
		"type":       string(result.Type),
		"published":  result.Published,
	})

	if !result.Published {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":    http.StatusServiceUnavailable,
			"code":      ErrCodeUnavailable,
			"message":   "command not published: broker unavailable",
			"commandId": result.CommandID,
		})
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}
