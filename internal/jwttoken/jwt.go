// Package jwttoken validates the bearer tokens the admin console sends on
// migration API calls.
package jwttoken

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"

	dErrors "zonepilot/pkg/domainerrors"
	"zonepilot/pkg/platform/middleware"
)

// Claims are the token claims issued to console callers.
type Claims struct {
	CallerID string `json:"caller_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Service validates HS256 tokens with a shared signing key.
type Service struct {
	signingKey []byte
}

func NewService(signingKey string) *Service {
	return &Service{signingKey: []byte(signingKey)}
}

// ValidateToken implements middleware.JWTValidator.
func (s *Service) ValidateToken(tokenString string) (*middleware.JWTClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	if !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	if claims.CallerID == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token missing caller_id")
	}
	return &middleware.JWTClaims{CallerID: claims.CallerID, Role: claims.Role}, nil
}
