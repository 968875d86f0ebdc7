package api

import (
	"net/http"

	"github.com/nerrad567/balancer-core/internal/notify"
)

// handleSubscribe stores the caller's browser push subscription.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req notify.SubscribeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := s.notify.Subscribe(r.Context(), principal(r).UserID, &req); err != nil {
		s.writeDomainError(w, r, err, "failed to save subscription")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"message": "Subscription saved"})
}

// handleUnsubscribe forgets a push endpoint.
func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var req notify.UnsubscribeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := s.notify.Unsubscribe(r.Context(), req.Endpoint); err != nil {
		s.writeDomainError(w, r, err, "failed to remove subscription")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Subscription removed"})
}

// handleVAPIDPublicKey returns the key browsers need to subscribe.
func (s *Server) handleVAPIDPublicKey(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"publicKey": s.notify.PublicKey()})
}
