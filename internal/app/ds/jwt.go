package ds

import (
	"github.com/golang-jwt/jwt"
)

// SessionClaims - claims сессионного токена Clerk.
type SessionClaims struct {
	jwt.StandardClaims
	SessionID       string `json:"sid"`
	AuthorizedParty string `json:"azp,omitempty"`
}
