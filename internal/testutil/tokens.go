package testutil

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var signingKey = []byte("test-signing-key")

// MintAccessToken returns an HS256 JWT for subject expiring at exp.
func MintAccessToken(subject string, exp time.Time) string {
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": exp.Add(-time.Hour).Unix(),
		"exp": exp.Unix(),
		"jti": uuid.New().String(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
	if err != nil {
		panic(err)
	}
	return signed
}

// MintTokenWithoutExpiry returns a well-formed JWT with no exp claim.
func MintTokenWithoutExpiry(subject string) string {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": subject}).SignedString(signingKey)
	if err != nil {
		panic(err)
	}
	return signed
}

// NewRefreshToken returns an opaque refresh credential.
func NewRefreshToken() string {
	return "rt-" + uuid.New().String()
}
