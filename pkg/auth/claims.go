package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/examdesk/examdesk-backend/pkg/enums"
)

// AccessTokenClaims is the JWT payload carried on API requests.
type AccessTokenClaims struct {
	UserID uuid.UUID       `json:"uid"`
	Role   enums.ActorRole `json:"role"`
	jwt.RegisteredClaims
}
