package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidTicket is returned when a recovery ticket is malformed, expired or signed with another secret.
	ErrInvalidTicket = errors.New("invalid recovery ticket")
	// ErrTicketSecretMissing is returned when the ticket issuer has no secret.
	ErrTicketSecretMissing = errors.New("recovery ticket secret not configured")
)

const ticketIssuer = "orphan-recovery"

// TicketClaims holds the JWT claims of a recovery ticket.
type TicketClaims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	CorrelationID string `json:"correlation_id"`
}

// TicketIssuer issues and validates recovery tickets: short-lived HS256 JWTs handed out with a
// recovery redirect so the recovery UI can prove the redirect came from a login attempt.
type TicketIssuer struct {
	secret []byte
	ttl    time.Duration
	nowF   func() time.Time
}

// NewTicketIssuer returns a TicketIssuer signing with secret. ttl is the ticket lifetime.
func NewTicketIssuer(secret string, ttl time.Duration) *TicketIssuer {
	return &TicketIssuer{secret: []byte(secret), ttl: ttl, nowF: time.Now}
}

// Issue returns a signed ticket for the normalized email and correlation ID, plus its expiry.
func (i *TicketIssuer) Issue(email, correlationID string) (string, time.Time, error) {
	if len(i.secret) == 0 {
		return "", time.Time{}, ErrTicketSecretMissing
	}
	now := i.nowF().UTC()
	expiresAt := now.Add(i.ttl)
	claims := TicketClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   HashEmail(email),
			Issuer:    ticketIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email:         NormalizeEmail(email),
		CorrelationID: correlationID,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Parse validates the ticket (signature, exp, iss) and returns its claims.
func (i *TicketIssuer) Parse(ticket string) (*TicketClaims, error) {
	if len(i.secret) == 0 {
		return nil, ErrTicketSecretMissing
	}
	token, err := jwt.ParseWithClaims(ticket, &TicketClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidTicket
		}
		return i.secret, nil
	}, jwt.WithIssuer(ticketIssuer), jwt.WithTimeFunc(i.nowF))
	if err != nil {
		return nil, ErrInvalidTicket
	}
	claims, ok := token.Claims.(*TicketClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidTicket
	}
	if claims.Subject != HashEmail(claims.Email) {
		return nil, ErrInvalidTicket
	}
	return claims, nil
}
