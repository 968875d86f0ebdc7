package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// TicketTTL is how long a websocket ticket stays redeemable.
const TicketTTL = 60 * time.Second

const ticketBytes = 32

// TicketStore issues single-use websocket tickets, so the JWT never
// appears in a URL. Each ticket remembers who it was issued to.
type TicketStore struct {
	mu      sync.Mutex
	tickets map[string]ticket
	ttl     time.Duration
	now     func() time.Time
}

type ticket struct {
	claims    Claims
	expiresAt time.Time
}

// NewTicketStore creates an empty ticket store.
func NewTicketStore() *TicketStore {
	return &TicketStore{
		tickets: make(map[string]ticket),
		ttl:     TicketTTL,
		now:     time.Now,
	}
}

// Issue returns a new ticket bound to claims.
func (s *TicketStore) Issue(claims *Claims) (string, error) {
	b := make([]byte, ticketBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating ticket: %w", err)
	}
	id := hex.EncodeToString(b)

	s.mu.Lock()
	s.tickets[id] = ticket{claims: *claims, expiresAt: s.now().Add(s.ttl)}
	s.mu.Unlock()

	return id, nil
}

// Redeem consumes a ticket and returns the claims it was issued for.
// A ticket can be redeemed once, and only before it expires.
func (s *TicketStore) Redeem(id string) (*Claims, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[id]
	if !ok {
		return nil, false
	}
	delete(s.tickets, id)

	if !s.now().Before(t.expiresAt) {
		return nil, false
	}
	return &t.claims, true
}

// Len returns the number of outstanding tickets.
func (s *TicketStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tickets)
}

// Sweep deletes expired tickets every TTL until ctx is cancelled.
func (s *TicketStore) Sweep(ctx context.Context) {
	ticker := time.NewTicker(s.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.removeExpired()
		case <-ctx.Done():
			return
		}
	}
}

func (s *TicketStore) removeExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, t := range s.tickets {
		if !now.Before(t.expiresAt) {
			delete(s.tickets, id)
		}
	}
}
