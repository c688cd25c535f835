package security

import (
	"errors"
	"testing"
	"time"
)

func TestTicketIssuer_IssueAndParse(t *testing.T) {
	issuer := NewTicketIssuer("test-secret", 15*time.Minute)

	ticket, expiresAt, err := issuer.Issue(" Orphan@Example.com ", "corr-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if ticket == "" {
		t.Fatal("ticket should not be empty")
	}
	if time.Until(expiresAt) <= 14*time.Minute {
		t.Errorf("expiresAt = %v, want about 15m from now", expiresAt)
	}

	claims, err := issuer.Parse(ticket)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Email != "orphan@example.com" {
		t.Errorf("Email = %q, want normalized email", claims.Email)
	}
	if claims.CorrelationID != "corr-1" {
		t.Errorf("CorrelationID = %q, want corr-1", claims.CorrelationID)
	}
	if claims.Subject != HashEmail("orphan@example.com") {
		t.Error("Subject should be the email hash")
	}
}

func TestTicketIssuer_WrongSecret(t *testing.T) {
	ticket, _, err := NewTicketIssuer("secret-a", time.Minute).Issue("a@example.com", "c")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	_, err = NewTicketIssuer("secret-b", time.Minute).Parse(ticket)
	if !errors.Is(err, ErrInvalidTicket) {
		t.Errorf("Parse err = %v, want ErrInvalidTicket", err)
	}
}

func TestTicketIssuer_Expired(t *testing.T) {
	issuer := NewTicketIssuer("test-secret", time.Minute)
	past := time.Now().Add(-time.Hour)
	issuer.nowF = func() time.Time { return past }
	ticket, _, err := issuer.Issue("a@example.com", "c")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	issuer.nowF = time.Now
	if _, err := issuer.Parse(ticket); !errors.Is(err, ErrInvalidTicket) {
		t.Errorf("Parse err = %v, want ErrInvalidTicket for expired ticket", err)
	}
}

func TestTicketIssuer_Malformed(t *testing.T) {
	if _, err := NewTicketIssuer("s", time.Minute).Parse("not-a-jwt"); !errors.Is(err, ErrInvalidTicket) {
		t.Errorf("Parse err = %v, want ErrInvalidTicket", err)
	}
}

func TestTicketIssuer_NoSecret(t *testing.T) {
	issuer := NewTicketIssuer("", time.Minute)
	if _, _, err := issuer.Issue("a@example.com", "c"); !errors.Is(err, ErrTicketSecretMissing) {
		t.Errorf("Issue err = %v, want ErrTicketSecretMissing", err)
	}
	if _, err := issuer.Parse("x"); !errors.Is(err, ErrTicketSecretMissing) {
		t.Errorf("Parse err = %v, want ErrTicketSecretMissing", err)
	}
}
