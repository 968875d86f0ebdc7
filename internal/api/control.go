package api

import (
	"context"
	"encoding/json"
	"net/http"
	"path"
	"strconv"

	"github.com/nerrad567/balancer-core/internal/downstream"
	"github.com/nerrad567/balancer-core/internal/notify"
	"github.com/nerrad567/balancer-core/internal/validation"
)

// handleToggle switches a plug on or off through the device-control service.
//
// Query parameters:
//   - on: required, true or false
func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	id, ok := parseDeviceID(w, r)
	if !ok {
		return
	}
	on, err := strconv.ParseBool(r.URL.Query().Get("on"))
	if err != nil {
		writeBadRequest(w, r, "query parameter 'on' must be true or false")
		return
	}

	if !s.authorizeCommand(w, r, id) {
		return
	}

	s.logger.Info("toggling plug", "device_id", id, "on", on, "user_id", principal(r).UserID)
	res := s.downstream.Command(r.Context(), id, downstream.OpToggle, map[string]string{
		"on": strconv.FormatBool(on),
	})
	writeResult(w, res)
}

// handleDeviceCommand proxies the status, online and events reads. The
// operation is the last path segment.
func (s *Server) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	id, ok := parseDeviceID(w, r)
	if !ok {
		return
	}
	if !s.authorizeCommand(w, r, id) {
		return
	}

	op := downstream.Operation(path.Base(r.URL.Path))
	writeResult(w, s.downstream.Command(r.Context(), id, op, nil))
}

// authorizeCommand writes 403 unless the caller owns device id.
// Unknown devices are also refused with 403 so ids cannot be probed.
func (s *Server) authorizeCommand(w http.ResponseWriter, r *http.Request, id int64) bool {
	allowed, err := s.catalogue.CanAccess(r.Context(), principal(r), id)
	if err != nil {
		s.writeDomainError(w, r, err, "failed to check device access")
		return false
	}
	if !allowed {
		writeForbidden(w, r, "Access denied")
		return false
	}
	return true
}

// writeResult relays a downstream response verbatim.
func writeResult(w http.ResponseWriter, res downstream.Result) {
	if res.ContentType != "" {
		w.Header().Set("Content-Type", res.ContentType)
	}
	w.WriteHeader(res.Status)
	if len(res.Body) > 0 {
		//nolint:errcheck // Best-effort write to response
		w.Write(res.Body)
	}
}

// handleAllStatuses returns the live status of every device the caller
// owns, keyed by device id. Unreachable devices report {"online":false}.
func (s *Server) handleAllStatuses(w http.ResponseWriter, r *http.Request) {
	devices, err := s.catalogue.ListDevices(r.Context(), principal(r))
	if err != nil {
		s.writeDomainError(w, r, err, "failed to list devices")
		return
	}

	ids := make([]int64, 0, len(devices))
	for _, d := range devices {
		ids = append(ids, d.ID)
	}
	writeJSON(w, http.StatusOK, s.downstream.AllStatuses(r.Context(), ids))
}

// handleSystemStats returns blackout statistics from the caller's grid
// monitor. Without a grid monitor it reports no blackout.
func (s *Server) handleSystemStats(w http.ResponseWriter, r *http.Request) {
	prefix, ok, err := s.catalogue.GridMonitorPrefix(r.Context(), principal(r).UserID)
	if err != nil {
		s.writeDomainError(w, r, err, "failed to resolve grid monitor")
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, downstream.BlackoutStats{})
		return
	}

	stats, err := s.downstream.BlackoutStats(r.Context(), prefix)
	if err != nil {
		s.logger.Warn("blackout stats unavailable", "mqtt_prefix", prefix, "error", err)
		writeError(w, r, http.StatusBadGateway, ErrCodeInternal, "device service unavailable")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// deviceUpdate is the part of a status callback the API needs; the rest
// of the payload is forwarded to websocket clients untouched.
type deviceUpdate struct {
	Username string `json:"username"`
}

// handleDeviceUpdate relays a device status update to the owner's
// websocket channel.
func (s *Server) handleDeviceUpdate(w http.ResponseWriter, r *http.Request) {
	var payload json.RawMessage
	if !decodeJSON(w, r, &payload) {
		return
	}

	var upd deviceUpdate
	if err := json.Unmarshal(payload, &upd); err != nil || upd.Username == "" {
		writeBadRequest(w, r, "username is required")
		return
	}

	s.notify.BroadcastDeviceUpdate(upd.Username, payload)
	w.WriteHeader(http.StatusOK)
}

// handleBalancerAction pushes a balancer action to the owner's browsers.
// Delivery failures are logged by the notify service, never returned.
func (s *Server) handleBalancerAction(w http.ResponseWriter, r *http.Request) {
	var action notify.BalancerAction
	if !decodeJSON(w, r, &action) {
		return
	}
	if err := validation.Struct(&action); err != nil {
		s.writeDomainError(w, r, err, "invalid balancer action")
		return
	}

	// Sends outlive a caller that hangs up early.
	s.notify.NotifyBalancerAction(context.WithoutCancel(r.Context()), action)
	w.WriteHeader(http.StatusOK)
}
