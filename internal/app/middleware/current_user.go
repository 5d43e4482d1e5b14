package middleware

import (
	"github.com/brightlane/portal/internal/app/ds"

	"github.com/gin-gonic/gin"
)

const (
	currentUserKey   = "current_user"
	sessionClaimsKey = "session_claims"
)

// SetCurrentUser добавляет пользователя в контекст запроса
func SetCurrentUser(c *gin.Context, user *ds.User) {
	c.Set(currentUserKey, user)
}

// CurrentUser извлекает пользователя из контекста
func CurrentUser(c *gin.Context) (*ds.User, bool) {
	value, exists := c.Get(currentUserKey)
	if !exists {
		return nil, false
	}
	user, ok := value.(*ds.User)
	return user, ok && user != nil
}

func setSessionClaims(c *gin.Context, claims *ds.SessionClaims) {
	c.Set(sessionClaimsKey, claims)
}

// SessionClaims - claims токена текущего запроса
func SessionClaims(c *gin.Context) (*ds.SessionClaims, bool) {
	value, exists := c.Get(sessionClaimsKey)
	if !exists {
		return nil, false
	}
	claims, ok := value.(*ds.SessionClaims)
	return claims, ok && claims != nil
}
