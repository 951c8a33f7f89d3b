package api

import (
	"testing"
	"time"
)

func TestTicketStore_SingleUse(t *testing.T) {
	ts := newTicketStore()
	ticket := ts.issue("panel")

	subject, ok := ts.consume(ticket)
	if !ok || subject != "panel" {
		t.Fatalf("consume() = %q, %v, want panel, true", subject, ok)
	}
	if _, ok := ts.consume(ticket); ok {
		t.Error("second consume should fail")
	}
	if _, ok := ts.consume("unknown"); ok {
		t.Error("unknown ticket should fail")
	}
}

func TestTicketStore_Expiry(t *testing.T) {
	now := time.Now()
	ts := newTicketStore()
	ts.tickets["stale"] = wsTicket{subject: "a", expires: now.Add(-time.Second)}
	ts.tickets["fresh"] = wsTicket{subject: "b", expires: now.Add(time.Minute)}

	ts.clean(now)

	if _, ok := ts.tickets["stale"]; ok {
		t.Error("clean() should drop expired tickets")
	}
	if _, ok := ts.tickets["fresh"]; !ok {
		t.Error("clean() should keep live tickets")
	}

	ts.tickets["stale"] = wsTicket{expires: now.Add(-time.Second)}
	if _, ok := ts.consume("stale"); ok {
		t.Error("expired ticket should not be accepted")
	}
	if _, left := ts.tickets["stale"]; left {
		t.Error("expired ticket should be removed on consume")
	}
}

func TestGenerateTicket_Unique(t *testing.T) {
	seen := make(map[string]struct{})
	for range 100 {
		ticket := generateTicket()
		if len(ticket) != ticketBytes*2 {
			t.Fatalf("ticket length = %d, want %d", len(ticket), ticketBytes*2)
		}
		if _, dup := seen[ticket]; dup {
			t.Fatalf("duplicate ticket %q", ticket)
		}
		seen[ticket] = struct{}{}
	}
}
