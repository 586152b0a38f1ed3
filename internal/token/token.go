// Package token mints and verifies SocketTokens: short-lived signed
// credentials binding a user identity to socket-connection rights. The claims
// carry both the user id and the display handle so the relay can authorize
// room joins and attribute sends without a database round trip.
package token

import (
	"errors"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

var (
	ErrUnauthenticated   = errors.New("token: no authenticated session")
	ErrIncompleteProfile = errors.New("token: username not set")
	ErrMisconfigured     = errors.New("token: signing secret not configured")
	ErrInvalid           = errors.New("token: invalid or expired")
)

const issuerName = "dmchat-api"

// Claims is the SocketToken payload. Subject holds the user id.
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
}

// Issuer mints SocketTokens. It is stateless: nothing is persisted, and a
// fresh token is produced per connection attempt. Replay within the expiry
// window is acceptable; single use is not enforced.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl}
}

func (i *Issuer) Mint(userID, username string) (string, error) {
	if len(i.secret) == 0 {
		return "", ErrMisconfigured
	}
	if userID == "" {
		return "", ErrUnauthenticated
	}
	if username == "" {
		return "", ErrIncompleteProfile
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuerName,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Username: username,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Verifier validates SocketTokens on the relay side.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	if len(v.secret) == 0 {
		return nil, ErrMisconfigured
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalid
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalid
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return nil, ErrInvalid
	}
	return claims, nil
}
