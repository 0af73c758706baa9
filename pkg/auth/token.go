package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/examdesk/examdesk-backend/pkg/config"
	"github.com/examdesk/examdesk-backend/pkg/enums"
)

// MintAccessToken issues a signed HS256 access token for the given principal.
func MintAccessToken(cfg config.JWTConfig, userID uuid.UUID, role enums.ActorRole) (string, error) {
	if cfg.Secret == "" {
		return "", fmt.Errorf("jwt secret required")
	}
	now := time.Now().UTC()
	claims := AccessTokenClaims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(cfg.ExpirationMinutes) * time.Minute)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return signed, nil
}

// ParseAccessToken validates the signature, issuer and expiry, and returns the claims.
func ParseAccessToken(cfg config.JWTConfig, raw string) (*AccessTokenClaims, error) {
	claims := &AccessTokenClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(cfg.Secret), nil
	}, jwt.WithIssuer(cfg.Issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("parsing access token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid access token")
	}
	if claims.UserID == uuid.Nil {
		return nil, fmt.Errorf("access token missing user id")
	}
	if !claims.Role.IsValid() {
		return nil, fmt.Errorf("access token has unknown role %q", claims.Role)
	}
	return claims, nil
}
