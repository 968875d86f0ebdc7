package api

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/balancer-core/internal/device"
)

// parseDeviceID reads the {id} path parameter, writing a 400 when it is
// not a positive integer.
func parseDeviceID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeBadRequest(w, r, "invalid device id")
		return 0, false
	}
	return id, true
}

// handleListDevices returns the caller's devices, or every device when the
// caller is the device-control service.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.catalogue.ListDevices(r.Context(), principal(r))
	if err != nil {
		s.writeDomainError(w, r, err, "failed to list devices")
		return
	}
	if devices == nil {
		devices = []device.Device{}
	}
	writeJSON(w, http.StatusOK, devices)
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := parseDeviceID(w, r)
	if !ok {
		return
	}

	d, err := s.catalogue.GetDevice(r.Context(), principal(r), id)
	if err != nil {
		s.writeDomainError(w, r, err, "failed to get device")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleCreateDevice adds a device to the caller's catalogue.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req device.Request
	if !decodeJSON(w, r, &req) {
		return
	}

	d, err := s.catalogue.CreateDevice(r.Context(), principal(r), &req)
	if err != nil {
		s.writeDomainError(w, r, err, "failed to create device")
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// handleUpdateDevice replaces the editable fields of a device.
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := parseDeviceID(w, r)
	if !ok {
		return
	}

	var req device.Request
	if !decodeJSON(w, r, &req) {
		return
	}

	d, err := s.catalogue.UpdateDevice(r.Context(), principal(r), id, &req)
	if err != nil {
		s.writeDomainError(w, r, err, "failed to update device")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleDeleteDevice removes a device.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := parseDeviceID(w, r)
	if !ok {
		return
	}

	if err := s.catalogue.DeleteDevice(r.Context(), principal(r), id); err != nil {
		s.writeDomainError(w, r, err, "failed to delete device")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSystemStateByPrefix returns the owner's settings and devices for
// the monitor with the given prefix. Used by the device-control service.
// Prefixes may contain slashes, sent raw or as %2F.
func (s *Server) handleSystemStateByPrefix(w http.ResponseWriter, r *http.Request) {
	prefix := chi.URLParam(r, "*")
	if r.URL.RawPath != "" {
		// chi routes on the escaped path when one is present.
		unescaped, err := url.PathUnescape(prefix)
		if err != nil {
			writeBadRequest(w, r, "invalid mqtt prefix")
			return
		}
		prefix = unescaped
	}
	if prefix == "" {
		writeBadRequest(w, r, "invalid mqtt prefix")
		return
	}

	state, err := s.catalogue.SystemStateByPrefix(r.Context(), prefix)
	if err != nil {
		s.writeDomainError(w, r, err, "failed to load system state")
		return
	}
	if state.Devices == nil {
		state.Devices = []device.Device{}
	}
	writeJSON(w, http.StatusOK, state)
}

// handleGetSettings returns the caller's power budget.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.catalogue.GetSettings(r.Context(), principal(r))
	if err != nil {
		s.writeDomainError(w, r, err, "failed to load settings")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// handleUpdateSettings replaces the caller's power budget.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req device.SettingsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	settings, err := s.catalogue.UpdateSettings(r.Context(), principal(r), &req)
	if err != nil {
		s.writeDomainError(w, r, err, "failed to update settings")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}
