// Package auth talks to the ITMO identity provider and issues the local
// session token handed back after a successful sign-in.
//
// SESSION TOKENS:
// The session token is an HS256 JWT whose claims come only from the
// provider profile:
//
//	{"iss":"itmo-auth","sub":"<isu>","name":"...","email":"...","nickname":"..."}
//
// There are no iat/exp claims, so the same profile and secret always produce
// the same token. Nothing in the sign-in flow stores or validates it;
// downstream services verify it with the shared secret.
package auth

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

const sessionIssuer = "itmo-auth"

// SessionClaims is the session token payload.
type SessionClaims struct {
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Nickname string `json:"nickname,omitempty"`
	jwt.RegisteredClaims
}

// ISU returns the subject as a number.
func (c *SessionClaims) ISU() (int64, error) {
	return strconv.ParseInt(c.Subject, 10, 64)
}

// SessionTokens mints and parses session tokens with one HMAC secret.
type SessionTokens struct {
	secret []byte
}

// NewSessionTokens creates a SessionTokens signing with secret.
func NewSessionTokens(secret string) (*SessionTokens, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: session secret must be at least 16 characters")
	}
	return &SessionTokens{secret: []byte(secret)}, nil
}

// Mint derives the session token for profile. The profile must carry an ISU.
func (s *SessionTokens) Mint(profile Profile) (string, error) {
	isu, ok := profile.ISU()
	if !ok {
		return "", errors.New("auth: profile has no isu")
	}

	c := SessionClaims{
		Name:     profile.String("name"),
		Email:    profile.String("email"),
		Nickname: profile.String("nickname"),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:  sessionIssuer,
			Subject: strconv.FormatInt(isu, 10),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing session token: %w", err)
	}
	return signed, nil
}

// Parse verifies a session token and returns its claims.
//
// Only HS256 is accepted; passing jwt.WithValidMethods rules out the "none"
// algorithm and key confusion with asymmetric methods.
func (s *SessionTokens) Parse(tokenStr string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&SessionClaims{},
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
	)
	if err != nil {
		return nil, fmt.Errorf("auth: invalid session token: %w", err)
	}

	c, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, errors.New("auth: invalid session token claims")
	}
	if c.Subject == "" {
		return nil, errors.New("auth: session token has no subject")
	}
	return c, nil
}
