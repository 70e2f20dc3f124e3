package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("identity: invalid token")

// Claims is the JWT body. Subject is the user id, or the verified email for guests.
type Claims struct {
	Kind  string `json:"kind"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Tokens signs and parses HS256 identity tokens.
type Tokens struct {
	secret []byte
	now    func() time.Time
}

func NewTokens(secret string) *Tokens {
	return &Tokens{secret: []byte(secret), now: time.Now}
}

// Enabled is false when no secret is configured; all tokens are then rejected.
func (t *Tokens) Enabled() bool { return t != nil && len(t.secret) > 0 }

// IssueGuest mints a token proving the holder verified email with a one-time code.
func (t *Tokens) IssueGuest(email string, ttl time.Duration) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", errors.New("identity: guest email required")
	}
	return t.sign(Claims{
		Kind:  string(KindGuest),
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(t.now()),
			ExpiresAt: jwt.NewNumericDate(t.now().Add(ttl)),
		},
	})
}

// IssueUser mints a token for a registered user.
func (t *Tokens) IssueUser(u User, ttl time.Duration) (string, error) {
	return t.sign(Claims{
		Kind:  string(u.Kind),
		Email: u.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID.String(),
			IssuedAt:  jwt.NewNumericDate(t.now()),
			ExpiresAt: jwt.NewNumericDate(t.now().Add(ttl)),
		},
	})
}

func (t *Tokens) sign(c Claims) (string, error) {
	if !t.Enabled() {
		return "", errors.New("identity: token signing disabled")
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("identity: sign token: %w", err)
	}
	return signed, nil
}

// Parse validates a token and resolves it into a Requester. Guest tokens
// always come back Verified since they are only minted after a code check.
func (t *Tokens) Parse(raw string) (Requester, error) {
	if !t.Enabled() {
		return Requester{}, ErrInvalidToken
	}
	claims := Claims{}
	token, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now))
	if err != nil || !token.Valid {
		return Requester{}, ErrInvalidToken
	}
	kind, err := ParseKind(claims.Kind)
	if err != nil {
		return Requester{}, ErrInvalidToken
	}
	if kind == KindGuest {
		email := claims.Email
		if email == "" {
			email = claims.Subject
		}
		if email == "" {
			return Requester{}, ErrInvalidToken
		}
		return Requester{Kind: KindGuest, Email: email, Verified: true}, nil
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Requester{}, ErrInvalidToken
	}
	return Requester{Kind: kind, ID: id, Email: claims.Email, Verified: true}, nil
}
