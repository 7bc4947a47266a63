package simserver

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// sessionClaims are the JWT claims behind a session token. The engine
// treats the token as opaque; only this server reads it back.
type sessionClaims struct {
	AttemptID string `json:"attempt_id"`
	jwt.RegisteredClaims
}

// mintToken issues a fresh session credential for an attempt and returns
// the signed token plus its JTI, which becomes the attempt's single valid
// session id.
func (s *Server) mintToken(attemptID string) (string, string, error) {
	jti := uuid.New().String()
	claims := sessionClaims{
		AttemptID: attemptID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenTTL)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", "", fmt.Errorf("sign session token: %w", err)
	}
	return token, jti, nil
}

var errTokenExpired = errors.New("session token expired")

// parseToken validates a credential and returns its claims.
func (s *Server) parseToken(raw string) (*sessionClaims, error) {
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errTokenExpired
		}
		return nil, err
	}
	return claims, nil
}
