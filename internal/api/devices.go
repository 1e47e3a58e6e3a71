package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/edgehub-core/internal/device"
	"github.com/nerrad567/edgehub-core/internal/hub"
)

// handleListDevices returns all devices, with optional query filters.
//
// Query parameters:
//   - status: filter by lifecycle status (online, offline, ...)
//   - group: filter by group
//   - connected: "true" restricts to devices with a live connection
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.repo.List(r.Context())
	if err != nil {
		writeInternalError(w, "failed to list devices")
		return
	}

	status := r.URL.Query().Get("status")
	group := r.URL.Query().Get("group")
	connectedOnly := r.URL.Query().Get("connected") == "true"

	filtered := devices[:0]
	for _, dev := range devices {
		if status != "" && string(dev.Status) != status {
			continue
		}
		if group != "" && dev.Group != group {
			continue
		}
		if connectedOnly {
			if _, ok := s.index.Get(dev.LogicalID); !ok {
				continue
			}
		}
		filtered = append(filtered, dev)
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": filtered, "count": len(filtered)})
}

// handleGetDevice returns a single device by logical ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	dev, err := s.repo.GetByLogicalID(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	_, connected := s.index.Get(id)
	writeJSON(w, http.StatusOK, map[string]any{"device": dev, "connected": connected})
}

// updateDeviceRequest is the body of PATCH /devices/{id}. Pointer fields
// distinguish "not supplied" from "set to empty".
type updateDeviceRequest struct {
	Group    *string `json:"group"`
	Location *string `json:"location"`
}

// handleUpdateDevice patches operator-editable fields of a device.
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req updateDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	dev, err := s.repo.GetByLogicalID(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	if req.Group != nil {
		dev.Group = *req.Group
	}
	if req.Location != nil {
		dev.Location = *req.Location
	}

	if err := s.repo.Update(r.Context(), dev); err != nil {
		writeInternalError(w, "failed to update device")
		return
	}

	s.index.UpdateCached(id, func(cached *device.Device) {
		cached.Group = dev.Group
		cached.Location = dev.Location
	})

	writeJSON(w, http.StatusOK, dev)
}

// handleDeleteDevice removes a device record and drops any live connection.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.repo.Delete(r.Context(), id); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to delete device")
		return
	}

	if conn := s.index.Drop(id); conn != nil {
		_ = conn.Close() //nolint:errcheck // connection being discarded
		s.logger.Info("dropped connection for deleted device", "logical_id", id)
	}

	w.WriteHeader(http.StatusNoContent)
}

// dispatchCommandRequest is the body of POST /devices/{id}/commands.
type dispatchCommandRequest struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

// handleDispatchCommand sends a command to a connected device and waits for
// its acknowledgement.
func (s *Server) handleDispatchCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req dispatchCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	ack, err := s.dispatcher.Dispatch(r.Context(), id, req.Name, req.Params)
	if err != nil {
		writeDispatchError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ack)
}

// assignConfigRequest is the body of PUT /devices/{id}/config.
type assignConfigRequest struct {
	ConfigID string `json:"config_id"`
}

// handleAssignConfig records a configuration assignment and pushes it to the
// device if connected. The assignment persists either way; an offline device
// receives it on its next registration.
func (s *Server) handleAssignConfig(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req assignConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.ConfigID == "" {
		writeBadRequest(w, "config_id is required")
		return
	}

	ack, err := s.dispatcher.AssignConfiguration(r.Context(), id, req.ConfigID)
	if err != nil {
		if errors.Is(err, hub.ErrDeviceOffline) {
			// Assignment stored; push deferred until the device reconnects.
			writeJSON(w, http.StatusAccepted, map[string]any{
				"config_id": req.ConfigID,
				"pushed":    false,
			})
			return
		}
		writeDispatchError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"config_id": req.ConfigID,
		"pushed":    true,
		"ack":       ack,
	})
}

// writeDispatchError maps dispatch failures onto HTTP responses.
func writeDispatchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, hub.ErrInvalidInput):
		writeBadRequest(w, err.Error())
	case errors.Is(err, hub.ErrDeviceOffline):
		writeError(w, http.StatusConflict, ErrCodeDeviceOffline, "device is not connected")
	case errors.Is(err, hub.ErrDeviceUnresponsive):
		writeError(w, http.StatusGatewayTimeout, ErrCodeDeviceUnresponsive, "device did not acknowledge in time")
	case errors.Is(err, hub.ErrTransportError):
		writeError(w, http.StatusBadGateway, ErrCodeTransport, "delivery to device failed")
	case errors.Is(err, hub.ErrStorage):
		writeInternalError(w, "storage failure")
	default:
		writeInternalError(w, "dispatch failed")
	}
}
