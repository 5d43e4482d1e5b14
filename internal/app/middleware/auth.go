package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/brightlane/portal/internal/app/ds"
	"github.com/brightlane/portal/internal/app/dto"
	"github.com/brightlane/portal/internal/app/repository"
	"github.com/brightlane/portal/internal/app/role"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SessionCookie - cookie, в которой Clerk хранит токен сессии на том же домене
const SessionCookie = "__session"

type TokenVerifier interface {
	Verify(token string) (*ds.SessionClaims, error)
}

type SessionStore interface {
	IsSessionRevoked(ctx context.Context, sessionID string) (bool, error)
}

type UserStore interface {
	GetUserByClerkID(ctx context.Context, clerkID string) (*ds.User, error)
}

type AuthMiddleware struct {
	Verifier TokenVerifier
	Sessions SessionStore
	Users    UserStore
}

func NewAuthMiddleware(verifier TokenVerifier, sessions SessionStore, users UserStore) *AuthMiddleware {
	return &AuthMiddleware{
		Verifier: verifier,
		Sessions: sessions,
		Users:    users,
	}
}

// WithAuthCheck middleware для проверки авторизации с ролями.
// Без ролей пускает любого аутентифицированного пользователя.
func (am *AuthMiddleware) WithAuthCheck(assignedRoles ...role.Role) gin.HandlerFunc {
	return gin.HandlerFunc(func(gCtx *gin.Context) {
		user, claims, status, message := am.authenticate(gCtx)
		if user == nil {
			gCtx.AbortWithStatusJSON(status, dto.ErrorResponse{Status: "fail", Message: message})
			return
		}

		// Проверяем роли пользователя
		if len(assignedRoles) > 0 && !hasRequiredRole(user.Role, assignedRoles) {
			gCtx.AbortWithStatusJSON(http.StatusForbidden, dto.ErrorResponse{Status: "fail", Message: "Недостаточно прав"})
			return
		}

		SetCurrentUser(gCtx, user)
		setSessionClaims(gCtx, claims)
		gCtx.Next()
	})
}

// WithOptionalAuth кладёт пользователя в контекст, если токен валиден, и никогда не отказывает
func (am *AuthMiddleware) WithOptionalAuth() gin.HandlerFunc {
	return func(gCtx *gin.Context) {
		if extractToken(gCtx) != "" {
			if user, claims, _, _ := am.authenticate(gCtx); user != nil {
				SetCurrentUser(gCtx, user)
				setSessionClaims(gCtx, claims)
			}
		}
		gCtx.Next()
	}
}

func (am *AuthMiddleware) authenticate(gCtx *gin.Context) (*ds.User, *ds.SessionClaims, int, string) {
	token := extractToken(gCtx)
	if token == "" {
		return nil, nil, http.StatusUnauthorized, "Требуется авторизация"
	}

	claims, err := am.Verifier.Verify(token)
	if err != nil {
		logrus.Debugf("token rejected: %v", err)
		return nil, nil, http.StatusUnauthorized, "Недействительный токен"
	}

	ctx := gCtx.Request.Context()
	// Проверяем отозванные сессии в Redis
	if am.Sessions != nil {
		revoked, err := am.Sessions.IsSessionRevoked(ctx, claims.SessionID)
		if err != nil {
			logrus.Errorf("check session %s: %v", claims.SessionID, err)
			return nil, nil, http.StatusUnauthorized, "Не удалось проверить сессию"
		}
		if revoked {
			return nil, nil, http.StatusUnauthorized, "Сессия завершена"
		}
	}

	user, err := am.Users.GetUserByClerkID(ctx, claims.Subject)
	if err != nil {
		if !errors.Is(err, repository.ErrUserNotFound) {
			logrus.Errorf("load user %s: %v", claims.Subject, err)
		}
		return nil, nil, http.StatusUnauthorized, "Пользователь не найден"
	}
	return user, claims, 0, ""
}

// extractToken берёт токен из заголовка Authorization или из cookie __session
func extractToken(gCtx *gin.Context) string {
	if header := gCtx.GetHeader("Authorization"); header != "" {
		if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
			return strings.TrimSpace(header[7:])
		}
		return ""
	}
	if cookie, err := gCtx.Cookie(SessionCookie); err == nil {
		return cookie
	}
	return ""
}

// hasRequiredRole проверяет, есть ли у пользователя необходимая роль
func hasRequiredRole(userRole role.Role, requiredRoles []role.Role) bool {
	for _, requiredRole := range requiredRoles {
		if userRole == requiredRole {
			return true
		}
	}
	return false
}
