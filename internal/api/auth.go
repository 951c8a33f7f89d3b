package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sync"
	"time"
)

const (
	ticketTTL   = 60 * time.Second
	ticketBytes = 32
)

// ticketStore issues single-use WebSocket tickets. Browsers cannot set an
// Authorization header on an upgrade, so a client trades its credentials
// for a short-lived ticket and passes that in the query string instead.
type ticketStore struct {
	mu      sync.Mutex
	tickets map[string]wsTicket
}

// wsTicket remembers who a ticket was issued to.
type wsTicket struct {
	subject string
	expires time.Time
}

func newTicketStore() *ticketStore {
	return &ticketStore{tickets: make(map[string]wsTicket)}
}

func (ts *ticketStore) issue(subject string) string {
	ticket := generateTicket()
	ts.mu.Lock()
	ts.tickets[ticket] = wsTicket{subject: subject, expires: time.Now().Add(ticketTTL)}
	ts.mu.Unlock()
	return ticket
}

// consume redeems ticket and returns its subject. A ticket is removed on
// first use whether or not it had expired.
func (ts *ticketStore) consume(ticket string) (string, bool) {
	ts.mu.Lock()
	t, ok := ts.tickets[ticket]
	delete(ts.tickets, ticket)
	ts.mu.Unlock()

	if !ok || !time.Now().Before(t.expires) {
		return "", false
	}
	return t.subject, true
}

func (ts *ticketStore) clean(now time.Time) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for ticket, t := range ts.tickets {
		if now.After(t.expires) {
			delete(ts.tickets, ticket)
		}
	}
}

// handleWSTicket serves POST /auth/ws-ticket.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     s.tickets.issue(subjectFrom(r.Context())),
		"expires_in": int(ticketTTL.Seconds()),
	})
}

func generateTicket() string {
	b := make([]byte, ticketBytes)
	rand.Read(b) //nolint:errcheck // never fails on supported platforms
	return hex.EncodeToString(b)
}

func (s *Server) cleanTicketsLoop(ctx context.Context) {
	ticker := time.NewTicker(ticketTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tickets.clean(now)
		}
	}
}
