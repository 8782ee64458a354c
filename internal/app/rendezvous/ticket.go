package rendezvous

import (
	"fmt"
	"time"

	"github.com/dkeye/commonroom/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

// TicketClaims is the bearer credential handed to the video backend.
type TicketClaims struct {
	jwt.RegisteredClaims

	// Room is the signaling url the holder may join.
	Room string `json:"room"`
}

type TicketIssuer struct {
	applicationID string
	clientID      string
	secret        []byte
	ttl           time.Duration
	now           func() time.Time
}

// NewTicketIssuer returns nil when secret is empty, which disables tickets.
func NewTicketIssuer(applicationID, clientID, secret string, ttl time.Duration) *TicketIssuer {
	if secret == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TicketIssuer{
		applicationID: applicationID,
		clientID:      clientID,
		secret:        []byte(secret),
		ttl:           ttl,
		now:           time.Now,
	}
}

func (t *TicketIssuer) Issue(s *domain.VideoSession) (string, error) {
	now := t.now()
	claims := TicketClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.applicationID,
			Subject:   string(s.ID),
			Audience:  jwt.ClaimStrings{t.clientID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
		Room: s.URL,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign ticket: %w", err)
	}
	return signed, nil
}

// Parse validates a ticket issued by t.
func (t *TicketIssuer) Parse(token string) (*TicketClaims, error) {
	claims := &TicketClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.applicationID),
		jwt.WithAudience(t.clientID),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, fmt.Errorf("parse ticket: %w", err)
	}
	return claims, nil
}
